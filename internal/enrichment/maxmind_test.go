package enrichment

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"geostamp/internal/event"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
)

// writeCityDatabase writes a small City database:
// 81.2.69.0/24 is London, 2.125.160.0/24 has a country only.
func writeCityDatabase(t *testing.T) string {
	t.Helper()

	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType: "GeoIP2-City",
		RecordSize:   24,
	})
	if err != nil {
		t.Fatalf("Failed to create database writer: %v", err)
	}

	records := map[string]mmdbtype.Map{
		"81.2.69.0/24": {
			"city": mmdbtype.Map{"names": mmdbtype.Map{"en": mmdbtype.String("London")}},
			"country": mmdbtype.Map{
				"iso_code": mmdbtype.String("GB"),
				"names":    mmdbtype.Map{"en": mmdbtype.String("United Kingdom")},
			},
			"location": mmdbtype.Map{
				"latitude":  mmdbtype.Float64(51.5142),
				"longitude": mmdbtype.Float64(-0.0931),
			},
		},
		"2.125.160.0/24": {
			"country": mmdbtype.Map{
				"iso_code": mmdbtype.String("GB"),
				"names":    mmdbtype.Map{"en": mmdbtype.String("United Kingdom")},
			},
		},
	}
	for cidr, record := range records {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			t.Fatal(err)
		}
		if err := tree.Insert(network, record); err != nil {
			t.Fatalf("Failed to insert %s: %v", cidr, err)
		}
	}

	path := filepath.Join(t.TempDir(), "GeoIP2-City-Test.mmdb")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := tree.WriteTo(f); err != nil {
		t.Fatalf("Failed to write database: %v", err)
	}
	return path
}

func TestMaxMindLocator_Locate(t *testing.T) {
	locator, err := OpenMaxMindLocator(writeCityDatabase(t))
	if err != nil {
		t.Fatalf("OpenMaxMindLocator failed: %v", err)
	}
	defer locator.Close()

	if locator.DatabaseType() != "GeoIP2-City" {
		t.Errorf("Expected database type GeoIP2-City, got %q", locator.DatabaseType())
	}

	london, err := locator.Locate("81.2.69.142")
	if err != nil || london == nil {
		t.Fatalf("Expected a location for 81.2.69.142, got %v (%v)", london, err)
	}
	want := Location{City: "London", CountryName: "United Kingdom", CountryCode: "GB", Latitude: 51.5142, Longitude: -0.0931}
	if *london != want {
		t.Errorf("Expected %+v, got %+v", want, *london)
	}

	countryOnly, err := locator.Locate("2.125.160.216")
	if err != nil || countryOnly == nil {
		t.Fatalf("Expected a location for 2.125.160.216, got %v (%v)", countryOnly, err)
	}
	if countryOnly.City != "" || countryOnly.CountryCode != "GB" || countryOnly.Latitude != 0 {
		t.Errorf("Unexpected country-only location: %+v", *countryOnly)
	}

	// Not in the database, and lexically valid but out of range
	for _, ip := range []string{"8.8.8.8", "999.1.1.1"} {
		location, err := locator.Locate(ip)
		if err != nil || location != nil {
			t.Errorf("Expected silent miss for %s, got %v (%v)", ip, location, err)
		}
	}
}

func TestBuilder_BuildFromDatabase(t *testing.T) {
	observer := &countingObserver{}
	b := NewBuilder(testLogger()).
		WithObserver(observer).
		WithLocalAddressResolver(localAddress)
	err := b.Configure(Context{
		OptionGeoIPDatabase: writeCityDatabase(t),
		OptionCacheSize:     "16",
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	x, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cached, ok := x.Locator().(*CachingLocator)
	if !ok {
		t.Fatalf("Expected a caching locator, got %T", x.Locator())
	}
	defer cached.Close()

	e := x.Process(event.New(map[string]string{DefaultSourceHeader: "81.2.69.142"}, ""))
	assertHeaders(t, e.Headers, map[string]string{
		DefaultSourceHeader: "81.2.69.142",
		DefaultTargetHeader: testLocalAddress,
		HeaderCity:          "London",
		HeaderCountryName:   "United Kingdom",
		HeaderCountryCode:   "GB",
		HeaderLatitude:      "51.5142",
		HeaderLongitude:     "-0.0931",
	})

	miss := x.Process(event.New(map[string]string{DefaultSourceHeader: "999.1.1.1"}, ""))
	assertHeaders(t, miss.Headers, map[string]string{
		DefaultSourceHeader: "999.1.1.1",
		DefaultTargetHeader: testLocalAddress,
	})

	if observer.get(OutcomeEnriched) != 1 || observer.get(OutcomeLookupMiss) != 1 || observer.get(OutcomeLookupError) != 0 {
		t.Errorf("Unexpected outcomes: %v", observer.counts)
	}
	if cached.Len() != 2 {
		t.Errorf("Expected both lookups cached, got %d", cached.Len())
	}
}

func TestBuilder_BuildWithoutCache(t *testing.T) {
	b := NewBuilder(testLogger()).WithLocalAddressResolver(localAddress)
	if err := b.Configure(Context{OptionGeoIPDatabase: writeCityDatabase(t)}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	x, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	locator, ok := x.Locator().(*MaxMindLocator)
	if !ok {
		t.Fatalf("Expected the MaxMind locator directly, got %T", x.Locator())
	}
	defer locator.Close()
}
