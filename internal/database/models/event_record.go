package models

import (
	"encoding/json"
	"strconv"
	"time"

	"geostamp/internal/enrichment"
	"geostamp/internal/event"
)

// EventRecord is an enriched event as stored in the database
type EventRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SourceName string    `gorm:"not null;index"`
	Timestamp  time.Time `gorm:"not null;index:idx_timestamp"`

	// Address fields copied out of the headers for querying
	ClientIP       string `gorm:"index:idx_client_ip"` // source header
	StampedIP      string // target header
	GeoCity        string
	GeoCountry     string
	GeoCountryCode string `gorm:"index:idx_geo_country"`
	GeoLat         float64
	GeoLon         float64
	Enriched       bool `gorm:"index"`

	Headers string `gorm:"type:text"` // JSON object of all headers
	Body    string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`

	// Foreign key
	LogSource LogSource `gorm:"foreignKey:SourceName;references:Name"`
}

func (EventRecord) TableName() string {
	return "events"
}

// NewEventRecord flattens an enriched event into a record
func NewEventRecord(sourceName, targetHeader string, e *event.Event, ts time.Time) (*EventRecord, error) {
	headers, err := json.Marshal(e.GetHeaders())
	if err != nil {
		return nil, err
	}

	h := e.GetHeaders()
	record := &EventRecord{
		SourceName:     sourceName,
		Timestamp:      ts,
		ClientIP:       h[enrichment.DefaultSourceHeader],
		StampedIP:      h[targetHeader],
		GeoCity:        h[enrichment.HeaderCity],
		GeoCountry:     h[enrichment.HeaderCountryName],
		GeoCountryCode: h[enrichment.HeaderCountryCode],
		Headers:        string(headers),
		Body:           e.Body,
	}
	record.GeoLat, _ = strconv.ParseFloat(h[enrichment.HeaderLatitude], 64)
	record.GeoLon, _ = strconv.ParseFloat(h[enrichment.HeaderLongitude], 64)
	record.Enriched = record.GeoCity != "" || record.GeoCountry != "" || record.GeoCountryCode != "" ||
		record.GeoLat != 0 || record.GeoLon != 0

	return record, nil
}

// Event rebuilds the event from the stored headers and body
func (r *EventRecord) Event() (*event.Event, error) {
	var headers map[string]string
	if r.Headers != "" {
		if err := json.Unmarshal([]byte(r.Headers), &headers); err != nil {
			return nil, err
		}
	}
	return event.New(headers, r.Body), nil
}
