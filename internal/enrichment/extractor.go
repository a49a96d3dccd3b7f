package enrichment

import (
	"fmt"
	"strconv"
	"strings"

	"geostamp/internal/event"

	"github.com/pterm/pterm"
)

const (
	// DefaultTargetHeader receives the local address stamp
	DefaultTargetHeader = "ipAddress"
	// DefaultSourceHeader carries the IP to geolocate
	DefaultSourceHeader = "addressHeader"

	geoIPPrefix = "geoip."

	HeaderCity        = geoIPPrefix + "city"
	HeaderCountryName = geoIPPrefix + "countryName"
	HeaderCountryCode = geoIPPrefix + "countryCode"
	HeaderLatitude    = geoIPPrefix + "latitude"
	HeaderLongitude   = geoIPPrefix + "longitude"
)

// ExtractorConfig is fixed at construction and never modified afterwards
type ExtractorConfig struct {
	PreserveExisting bool
	TargetHeader     string
	SourceHeader     string
	Locator          Locator
	Observer         Observer
	// ResolveLocalAddress defaults to ResolveLocalAddress when nil
	ResolveLocalAddress func() (string, error)
}

// GeoIPExtractor adds geoip.* headers to events and stamps them with the local address.
// It holds no mutable state after construction, so Process may be called concurrently
// on different events.
type GeoIPExtractor struct {
	preserveExisting bool
	targetHeader     string
	sourceHeader     string
	locator          Locator
	observer         Observer
	localAddress     string
	hasLocalAddress  bool
	logger           *pterm.Logger
}

// NewGeoIPExtractor creates an extractor and resolves the local address once
func NewGeoIPExtractor(cfg ExtractorConfig, logger *pterm.Logger) *GeoIPExtractor {
	x := &GeoIPExtractor{
		preserveExisting: cfg.PreserveExisting,
		targetHeader:     cfg.TargetHeader,
		sourceHeader:     cfg.SourceHeader,
		locator:          cfg.Locator,
		observer:         cfg.Observer,
		logger:           logger,
	}
	if x.targetHeader == "" {
		x.targetHeader = DefaultTargetHeader
	}
	if x.sourceHeader == "" {
		x.sourceHeader = DefaultSourceHeader
	}
	if x.locator == nil {
		x.locator = missLocator{}
	}
	if x.observer == nil {
		x.observer = nopObserver{}
	}

	resolve := cfg.ResolveLocalAddress
	if resolve == nil {
		resolve = ResolveLocalAddress
	}
	addr, err := resolve()
	if err != nil {
		logger.Warn("Could not get local host address, events will not be stamped",
			logger.Args("error", err))
	} else if addr != "" {
		x.localAddress = addr
		x.hasLocalAddress = true
	}

	logger.Debug("GeoIP extractor created",
		logger.Args(
			"preserve_existing", x.preserveExisting,
			"target_header", x.targetHeader,
			"source_header", x.sourceHeader,
			"local_address", x.localAddress,
		))

	return x
}

// Initialize signals readiness to the host pipeline
func (x *GeoIPExtractor) Initialize() {
	x.logger.Debug("GeoIP extractor initialized")
}

// Close signals teardown. The locator is owned by whoever built it.
func (x *GeoIPExtractor) Close() {
	x.logger.Debug("GeoIP extractor closed")
}

// LocalAddress returns the cached local address, if one was resolved
func (x *GeoIPExtractor) LocalAddress() (string, bool) {
	return x.localAddress, x.hasLocalAddress
}

// TargetHeader returns the header that receives the local address
func (x *GeoIPExtractor) TargetHeader() string {
	return x.targetHeader
}

// Locator returns the lookup backend
func (x *GeoIPExtractor) Locator() Locator {
	return x.locator
}

// Process enriches a single event and returns it
func (x *GeoIPExtractor) Process(e *event.Event) *event.Event {
	if e == nil {
		return nil
	}

	if x.preserveExisting {
		if _, exists := e.GetHeaders()[x.targetHeader]; exists {
			x.observer.Observe(OutcomePreserved)
			x.AppendLocation(e)
			return e
		}
	}

	x.AppendLocation(e)

	if x.hasLocalAddress {
		e.GetHeaders()[x.targetHeader] = x.localAddress
		x.observer.Observe(OutcomeStamped)
	}

	return e
}

// ProcessAll enriches every event in order. One event never affects another.
func (x *GeoIPExtractor) ProcessAll(events []*event.Event) []*event.Event {
	for _, e := range events {
		x.Process(e)
	}
	return events
}

// AppendLocation geolocates the source header and merges the geoip.* headers into e.
// Existing headers win over generated ones. Headers are replaced only when the
// lookup produced at least one entry.
func (x *GeoIPExtractor) AppendLocation(e *event.Event) {
	headers := e.GetHeaders()

	ip, ok := headers[x.sourceHeader]
	if !ok {
		x.logger.Warn("Attribute not found in event", x.logger.Args("attribute", x.sourceHeader))
		x.observer.Observe(OutcomeSourceMissing)
		return
	}

	if !IsValidIPv4(ip) {
		x.logger.Warn("Unable to parse attribute as an IP",
			x.logger.Args("attribute", x.sourceHeader, "value", ip))
		x.observer.Observe(OutcomeInvalidIP)
		return
	}

	location, err := x.locate(ip)
	if err != nil {
		x.logger.Warn("GeoIP lookup failed", x.logger.Args("ip", ip, "error", err))
		x.observer.Observe(OutcomeLookupError)
		return
	}
	if location == nil {
		x.logger.Trace("No GeoIP record for address", x.logger.Args("ip", ip))
		x.observer.Observe(OutcomeLookupMiss)
		return
	}

	merged := locationHeaders(location)
	if len(merged) == 0 {
		x.observer.Observe(OutcomeLookupMiss)
		return
	}
	for k, v := range headers {
		merged[k] = v
	}
	e.SetHeaders(merged)
	x.observer.Observe(OutcomeEnriched)
}

// locate calls the locator, reporting a panic inside it as an error so the
// failure stays with the current event
func (x *GeoIPExtractor) locate(ip string) (location *Location, err error) {
	defer func() {
		if r := recover(); r != nil {
			location, err = nil, fmt.Errorf("locator panicked: %v", r)
		}
	}()
	return x.locator.Locate(ip)
}

// locationHeaders renders the present fields of l. Zero coordinates count as absent.
func locationHeaders(l *Location) map[string]string {
	headers := make(map[string]string, 5)
	for key, value := range map[string]string{
		HeaderCity:        l.City,
		HeaderCountryName: l.CountryName,
		HeaderCountryCode: l.CountryCode,
	} {
		if value = strings.TrimSpace(value); value != "" {
			headers[key] = value
		}
	}
	if l.Longitude != 0 {
		headers[HeaderLongitude] = strconv.FormatFloat(l.Longitude, 'f', -1, 64)
	}
	if l.Latitude != 0 {
		headers[HeaderLatitude] = strconv.FormatFloat(l.Latitude, 'f', -1, 64)
	}
	return headers
}
