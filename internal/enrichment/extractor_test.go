package enrichment

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"geostamp/internal/event"

	"github.com/pterm/pterm"
)

const testLocalAddress = "192.0.2.10"

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
}

func staticLocator(location *Location) Locator {
	return LocatorFunc(func(string) (*Location, error) {
		return location, nil
	})
}

func localAddress() (string, error) {
	return testLocalAddress, nil
}

func newTestExtractor(preserve bool, locator Locator) *GeoIPExtractor {
	return NewGeoIPExtractor(ExtractorConfig{
		PreserveExisting:    preserve,
		Locator:             locator,
		ResolveLocalAddress: localAddress,
	}, testLogger())
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[Outcome]int
}

func (o *countingObserver) Observe(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[Outcome]int)
	}
	o.counts[outcome]++
}

func (o *countingObserver) get(outcome Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[outcome]
}

var paris = &Location{
	City:        "  Paris ",
	CountryName: "France",
	CountryCode: "FR",
	Latitude:    48.8582,
	Longitude:   2.3387,
}

func TestProcess_NoPreserveStampsAndEnriches(t *testing.T) {
	x := newTestExtractor(false, staticLocator(paris))
	e := event.New(map[string]string{DefaultSourceHeader: "10.0.0.5"}, "")

	got := x.Process(e)
	if got != e {
		t.Fatal("Expected Process to return the same event")
	}

	want := map[string]string{
		DefaultSourceHeader: "10.0.0.5",
		DefaultTargetHeader: testLocalAddress,
		HeaderCity:          "Paris",
		HeaderCountryName:   "France",
		HeaderCountryCode:   "FR",
		HeaderLatitude:      "48.8582",
		HeaderLongitude:     "2.3387",
	}
	assertHeaders(t, e.Headers, want)
}

func TestProcess_NoPreserveOverwritesTarget(t *testing.T) {
	x := newTestExtractor(false, staticLocator(nil))
	e := event.New(map[string]string{DefaultTargetHeader: "203.0.113.7"}, "")

	x.Process(e)

	if v := e.Headers[DefaultTargetHeader]; v != testLocalAddress {
		t.Errorf("Expected target header %q, got %q", testLocalAddress, v)
	}
}

func TestProcess_PreserveKeepsTargetAndEnriches(t *testing.T) {
	x := newTestExtractor(true, staticLocator(paris))
	e := event.New(map[string]string{
		DefaultTargetHeader: "203.0.113.7",
		DefaultSourceHeader: "10.0.0.5",
	}, "")

	x.Process(e)

	if v := e.Headers[DefaultTargetHeader]; v != "203.0.113.7" {
		t.Errorf("Expected preserved target header, got %q", v)
	}
	if v := e.Headers[HeaderCity]; v != "Paris" {
		t.Errorf("Expected geoip.city 'Paris', got %q", v)
	}
}

func TestProcess_PreserveWithoutTargetStamps(t *testing.T) {
	x := newTestExtractor(true, staticLocator(nil))
	e := event.New(map[string]string{}, "")

	x.Process(e)

	if v := e.Headers[DefaultTargetHeader]; v != testLocalAddress {
		t.Errorf("Expected target header %q, got %q", testLocalAddress, v)
	}
}

func TestProcess_LookupMissLeavesHeaders(t *testing.T) {
	x := newTestExtractor(true, staticLocator(nil))
	original := map[string]string{
		DefaultTargetHeader: "203.0.113.7",
		DefaultSourceHeader: "10.0.0.5",
	}
	e := event.New(original, "")

	x.Process(e)

	assertHeaders(t, e.Headers, original)
}

func TestProcess_LookupMissStillStamps(t *testing.T) {
	x := newTestExtractor(false, staticLocator(nil))
	e := event.New(map[string]string{DefaultSourceHeader: "10.0.0.5"}, "")

	x.Process(e)

	assertHeaders(t, e.Headers, map[string]string{
		DefaultSourceHeader: "10.0.0.5",
		DefaultTargetHeader: testLocalAddress,
	})
}

func TestProcess_ZeroCoordinatesAreAbsent(t *testing.T) {
	// Zero means absent, so a location exactly on 0,0 loses its coordinates
	x := newTestExtractor(true, staticLocator(&Location{City: "Paris", CountryCode: "FR"}))
	e := event.New(map[string]string{
		DefaultTargetHeader: "keep",
		DefaultSourceHeader: "10.0.0.5",
	}, "")

	x.Process(e)

	assertHeaders(t, e.Headers, map[string]string{
		DefaultTargetHeader: "keep",
		DefaultSourceHeader: "10.0.0.5",
		HeaderCity:          "Paris",
		HeaderCountryCode:   "FR",
	})
}

func TestProcess_ExistingHeadersWinOverGeoIP(t *testing.T) {
	x := newTestExtractor(true, staticLocator(paris))
	e := event.New(map[string]string{
		DefaultTargetHeader: "keep",
		DefaultSourceHeader: "10.0.0.5",
		HeaderCity:          "Springfield",
	}, "")

	x.Process(e)

	if v := e.Headers[HeaderCity]; v != "Springfield" {
		t.Errorf("Expected pre-existing geoip.city to win, got %q", v)
	}
	if v := e.Headers[HeaderCountryCode]; v != "FR" {
		t.Errorf("Expected geoip.countryCode 'FR', got %q", v)
	}
}

func TestProcess_EmptyLocationLeavesHeadersUntouched(t *testing.T) {
	x := newTestExtractor(true, staticLocator(&Location{}))
	headers := map[string]string{
		DefaultTargetHeader: "keep",
		DefaultSourceHeader: "10.0.0.5",
	}
	e := &event.Event{Headers: headers}

	x.Process(e)

	e.Headers["probe"] = "x"
	if _, ok := headers["probe"]; !ok {
		t.Error("Expected the original header map to be kept when nothing was appended")
	}
}

func TestProcess_InvalidOrMissingSource(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		outcome Outcome
	}{
		{"missing", map[string]string{DefaultTargetHeader: "keep"}, OutcomeSourceMissing},
		{"not an ip", map[string]string{DefaultTargetHeader: "keep", DefaultSourceHeader: "example.com"}, OutcomeInvalidIP},
		{"blank", map[string]string{DefaultTargetHeader: "keep", DefaultSourceHeader: "  "}, OutcomeInvalidIP},
		{"ipv6", map[string]string{DefaultTargetHeader: "keep", DefaultSourceHeader: "::1"}, OutcomeInvalidIP},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			observer := &countingObserver{}
			x := NewGeoIPExtractor(ExtractorConfig{
				PreserveExisting: true,
				Locator: LocatorFunc(func(string) (*Location, error) {
					called = true
					return paris, nil
				}),
				Observer:            observer,
				ResolveLocalAddress: localAddress,
			}, testLogger())

			e := event.New(tc.headers, "")
			x.Process(e)

			if called {
				t.Error("Expected locator not to be called")
			}
			assertHeaders(t, e.Headers, tc.headers)
			if observer.get(tc.outcome) != 1 {
				t.Errorf("Expected outcome %s to be observed once", tc.outcome)
			}
		})
	}
}

func TestProcess_WarnsWhenSourceMissing(t *testing.T) {
	var buf bytes.Buffer
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace).WithWriter(&buf)
	x := NewGeoIPExtractor(ExtractorConfig{
		PreserveExisting:    true,
		ResolveLocalAddress: localAddress,
	}, logger)

	x.Process(event.New(map[string]string{DefaultTargetHeader: "keep"}, ""))

	if !strings.Contains(buf.String(), "Attribute not found in event") {
		t.Errorf("Expected a warning about the missing attribute, got %q", buf.String())
	}
}

func TestProcess_LocalAddressUnavailable(t *testing.T) {
	x := NewGeoIPExtractor(ExtractorConfig{
		Locator: staticLocator(nil),
		ResolveLocalAddress: func() (string, error) {
			return "", errors.New("no network")
		},
	}, testLogger())

	if _, ok := x.LocalAddress(); ok {
		t.Fatal("Expected no local address")
	}

	e := event.New(map[string]string{"other": "value"}, "")
	x.Process(e)

	if _, ok := e.Headers[DefaultTargetHeader]; ok {
		t.Error("Expected target header not to be stamped")
	}
}

func TestProcess_CustomTargetHeader(t *testing.T) {
	x := NewGeoIPExtractor(ExtractorConfig{
		TargetHeader:        "host",
		ResolveLocalAddress: localAddress,
	}, testLogger())

	e := event.New(nil, "")
	x.Process(e)

	if v := e.Headers["host"]; v != testLocalAddress {
		t.Errorf("Expected header 'host' to be %q, got %q", testLocalAddress, v)
	}
	if _, ok := e.Headers[DefaultTargetHeader]; ok {
		t.Error("Expected default target header not to be set")
	}
}

func TestProcess_NilEvent(t *testing.T) {
	x := newTestExtractor(false, nil)
	if x.Process(nil) != nil {
		t.Error("Expected nil for nil event")
	}
}

func TestProcessAll_OrderAndIsolation(t *testing.T) {
	observer := &countingObserver{}
	x := NewGeoIPExtractor(ExtractorConfig{
		PreserveExisting: true,
		Locator: LocatorFunc(func(ip string) (*Location, error) {
			if ip == "10.0.0.2" {
				return nil, errors.New("database corrupted")
			}
			return &Location{City: "City-" + ip}, nil
		}),
		Observer:            observer,
		ResolveLocalAddress: localAddress,
	}, testLogger())

	events := []*event.Event{
		event.New(map[string]string{DefaultTargetHeader: "a", DefaultSourceHeader: "10.0.0.1"}, "1"),
		event.New(map[string]string{DefaultTargetHeader: "b", DefaultSourceHeader: "10.0.0.2"}, "2"),
		event.New(map[string]string{DefaultTargetHeader: "c", DefaultSourceHeader: "bogus"}, "3"),
		event.New(map[string]string{DefaultTargetHeader: "d", DefaultSourceHeader: "10.0.0.4"}, "4"),
	}
	input := append([]*event.Event(nil), events...)

	got := x.ProcessAll(events)

	if len(got) != len(input) {
		t.Fatalf("Expected %d events, got %d", len(input), len(got))
	}
	for i := range got {
		if got[i] != input[i] {
			t.Errorf("Expected event %d to keep its position", i)
		}
	}
	if v := got[0].Headers[HeaderCity]; v != "City-10.0.0.1" {
		t.Errorf("Expected first event enriched, got %q", v)
	}
	if _, ok := got[1].Headers[HeaderCity]; ok {
		t.Error("Expected failing lookup to leave the event untouched")
	}
	if v := got[3].Headers[HeaderCity]; v != "City-10.0.0.4" {
		t.Errorf("Expected last event enriched after earlier failures, got %q", v)
	}
	if observer.get(OutcomeEnriched) != 2 || observer.get(OutcomeLookupError) != 1 || observer.get(OutcomeInvalidIP) != 1 {
		t.Errorf("Unexpected outcomes: %v", observer.counts)
	}
}

func TestProcessAll_PanickingLocator(t *testing.T) {
	observer := &countingObserver{}
	x := NewGeoIPExtractor(ExtractorConfig{
		Locator: LocatorFunc(func(ip string) (*Location, error) {
			if ip == "1.1.1.1" {
				panic("boom")
			}
			return paris, nil
		}),
		Observer:            observer,
		ResolveLocalAddress: localAddress,
	}, testLogger())

	events := []*event.Event{
		event.New(map[string]string{DefaultSourceHeader: "1.1.1.1"}, ""),
		event.New(map[string]string{DefaultSourceHeader: "2.2.2.2"}, ""),
	}
	x.ProcessAll(events)

	if _, ok := events[0].Headers[HeaderCity]; ok {
		t.Error("Expected no geoip headers when the locator panics")
	}
	if v := events[0].Headers[DefaultTargetHeader]; v != testLocalAddress {
		t.Errorf("Expected first event still stamped, got %q", v)
	}
	if v := events[1].Headers[HeaderCity]; v != "Paris" {
		t.Errorf("Expected second event enriched, got %q", v)
	}
	if observer.get(OutcomeLookupError) != 1 || observer.get(OutcomeEnriched) != 1 {
		t.Errorf("Unexpected outcomes: %v", observer.counts)
	}
}

func TestProcess_Concurrent(t *testing.T) {
	x := newTestExtractor(false, staticLocator(paris))

	var wg sync.WaitGroup
	events := make([]*event.Event, 64)
	for i := range events {
		events[i] = event.New(map[string]string{DefaultSourceHeader: "10.0.0.5"}, "")
	}
	for _, e := range events {
		wg.Add(1)
		go func(e *event.Event) {
			defer wg.Done()
			x.Process(e)
		}(e)
	}
	wg.Wait()

	for i, e := range events {
		if e.Headers[HeaderCountryCode] != "FR" || e.Headers[DefaultTargetHeader] != testLocalAddress {
			t.Errorf("Event %d not fully enriched: %v", i, e.Headers)
		}
	}
}

func assertHeaders(t *testing.T, got, want map[string]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("Expected %d headers, got %d: %v", len(want), len(got), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Expected header %s=%q, got %q", k, v, got[k])
		}
	}
}
