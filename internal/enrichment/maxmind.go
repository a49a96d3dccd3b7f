package enrichment

import (
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

const defaultLanguage = "en"

// MaxMindLocator resolves locations from a MaxMind City database held entirely in memory
type MaxMindLocator struct {
	reader   *geoip2.Reader
	language string
	path     string
}

// OpenMaxMindLocator reads the whole database file into memory and opens it.
// Read and parse failures wrap the underlying library errors.
func OpenMaxMindLocator(path string) (*MaxMindLocator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GeoIP database: %w", err)
	}

	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GeoIP database: %w", err)
	}

	return &MaxMindLocator{
		reader:   reader,
		language: defaultLanguage,
		path:     path,
	}, nil
}

// Locate looks up the city record for ip
func (l *MaxMindLocator) Locate(ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		// Lexically valid but out of range octets, e.g. 999.1.1.1
		return nil, nil
	}

	record, err := l.reader.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("city lookup for %s: %w", ip, err)
	}

	location := &Location{
		City:        record.City.Names[l.language],
		CountryName: record.Country.Names[l.language],
		CountryCode: record.Country.IsoCode,
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
	}
	if location.IsEmpty() {
		return nil, nil
	}
	return location, nil
}

// DatabaseType returns the type string from the database metadata
func (l *MaxMindLocator) DatabaseType() string {
	return l.reader.Metadata().DatabaseType
}

// Path returns the file the database was loaded from
func (l *MaxMindLocator) Path() string {
	return l.path
}

// Close releases the in-memory database
func (l *MaxMindLocator) Close() error {
	return l.reader.Close()
}
