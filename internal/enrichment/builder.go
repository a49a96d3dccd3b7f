package enrichment

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
)

// Option names understood by Builder.Configure
const (
	OptionGeoIPDatabase    = "geoIPDatabase"
	OptionPreserveExisting = "preserveExisting"
	OptionAddressHeader    = "addressHeader"
	OptionSourceHeader     = "sourceHeader"
	OptionCacheSize        = "geoIPCacheSize"
)

var (
	ErrMissingParameter   = errors.New("missing parameter")
	ErrDatabaseNotFound   = errors.New("GeoIP database does not exist")
	ErrDatabaseUnreadable = errors.New("GeoIP database is not readable")
)

// ConfigError is returned when the extractor cannot be configured or built.
// It matches one of the sentinel errors above with errors.Is.
type ConfigError struct {
	Option string
	Path   string
	Kind   error
	Cause  error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Option != "" {
		b.WriteString(": ")
		b.WriteString(e.Option)
	}
	if e.Path != "" {
		b.WriteString(" '")
		b.WriteString(e.Path)
		b.WriteString("'")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Context is a bag of string options as handed over by the host pipeline
type Context map[string]string

// GetString returns the option or def when it is not set
func (c Context) GetString(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// GetBool returns the option parsed as a bool, or def when unset or unparsable
func (c Context) GetBool(key string, def bool) bool {
	v, ok := c[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetInt returns the option parsed as an int, or def when unset or unparsable
func (c Context) GetInt(key string, def int) int {
	v, ok := c[key]
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

// Builder validates options and assembles a GeoIPExtractor
type Builder struct {
	geoIPDatabase       string
	preserveExisting    bool
	targetHeader        string
	sourceHeader        string
	cacheSize           int
	observer            Observer
	resolveLocalAddress func() (string, error)
	logger              *pterm.Logger
}

// NewBuilder returns a builder holding the default options
func NewBuilder(logger *pterm.Logger) *Builder {
	return &Builder{
		preserveExisting: false,
		targetHeader:     DefaultTargetHeader,
		sourceHeader:     DefaultSourceHeader,
		logger:           logger,
	}
}

// WithObserver sets the outcome observer of the built extractor
func (b *Builder) WithObserver(observer Observer) *Builder {
	b.observer = observer
	return b
}

// WithLocalAddressResolver overrides how the local address is found
func (b *Builder) WithLocalAddressResolver(resolve func() (string, error)) *Builder {
	b.resolveLocalAddress = resolve
	return b
}

// Configure reads the options. geoIPDatabase is required.
func (b *Builder) Configure(ctx Context) error {
	b.geoIPDatabase = ctx.GetString(OptionGeoIPDatabase, "")
	if strings.TrimSpace(b.geoIPDatabase) == "" {
		return &ConfigError{Option: OptionGeoIPDatabase, Kind: ErrMissingParameter}
	}
	b.preserveExisting = ctx.GetBool(OptionPreserveExisting, false)
	b.targetHeader = ctx.GetString(OptionAddressHeader, DefaultTargetHeader)
	b.sourceHeader = ctx.GetString(OptionSourceHeader, DefaultSourceHeader)
	b.cacheSize = ctx.GetInt(OptionCacheSize, 0)

	b.logger.Debug("GeoIP extractor configured",
		b.logger.Args(
			"database", b.geoIPDatabase,
			"preserve_existing", b.preserveExisting,
			"address_header", b.targetHeader,
			"cache_size", b.cacheSize,
		))
	return nil
}

// Build opens the database into memory and returns the extractor.
// Option and database failures are reported as *ConfigError.
func (b *Builder) Build() (*GeoIPExtractor, error) {
	if strings.TrimSpace(b.geoIPDatabase) == "" {
		return nil, &ConfigError{Option: OptionGeoIPDatabase, Kind: ErrMissingParameter}
	}

	info, err := os.Stat(b.geoIPDatabase)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{Path: b.geoIPDatabase, Kind: ErrDatabaseNotFound}
		}
		return nil, &ConfigError{Path: b.geoIPDatabase, Kind: ErrDatabaseUnreadable, Cause: err}
	}
	if info.IsDir() {
		return nil, &ConfigError{Path: b.geoIPDatabase, Kind: ErrDatabaseUnreadable,
			Cause: fmt.Errorf("is a directory")}
	}

	maxmind, err := OpenMaxMindLocator(b.geoIPDatabase)
	if err != nil {
		return nil, &ConfigError{Path: b.geoIPDatabase, Kind: ErrDatabaseUnreadable, Cause: err}
	}

	var locator Locator = maxmind
	if b.cacheSize > 0 {
		cached, err := NewCachingLocator(maxmind, b.cacheSize)
		if err != nil {
			maxmind.Close()
			return nil, fmt.Errorf("failed to create GeoIP cache: %w", err)
		}
		locator = cached
	}

	b.logger.Info("GeoIP database loaded into memory",
		b.logger.Args("path", b.geoIPDatabase, "type", maxmind.DatabaseType(), "cache_size", b.cacheSize))

	return NewGeoIPExtractor(ExtractorConfig{
		PreserveExisting:    b.preserveExisting,
		TargetHeader:        b.targetHeader,
		SourceHeader:        b.sourceHeader,
		Locator:             locator,
		Observer:            b.observer,
		ResolveLocalAddress: b.resolveLocalAddress,
	}, b.logger), nil
}
