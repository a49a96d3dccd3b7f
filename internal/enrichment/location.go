package enrichment

// Location is the result of a single GeoIP lookup.
// Empty strings and zero coordinates mean the field is absent.
type Location struct {
	City        string  `json:"city,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

// IsEmpty reports whether no field of the location is set
func (l *Location) IsEmpty() bool {
	return l == nil || (l.City == "" && l.CountryName == "" && l.CountryCode == "" &&
		l.Latitude == 0 && l.Longitude == 0)
}

// Locator answers "where is this IP". A nil location with a nil error is a miss.
// Implementations must be safe for concurrent use.
type Locator interface {
	Locate(ip string) (*Location, error)
}

// LocatorFunc adapts a plain function to the Locator interface
type LocatorFunc func(ip string) (*Location, error)

// Locate calls f(ip)
func (f LocatorFunc) Locate(ip string) (*Location, error) {
	return f(ip)
}

type missLocator struct{}

func (missLocator) Locate(string) (*Location, error) {
	return nil, nil
}
