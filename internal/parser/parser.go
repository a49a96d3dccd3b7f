package parsers

import (
	"fmt"
	"sort"
	"sync"

	"geostamp/internal/event"
	"geostamp/internal/parser/clf"
	"geostamp/internal/parser/jsonheaders"

	"github.com/pterm/pterm"
)

// LogParser turns one line of a source file into an event
type LogParser interface {
	Name() string
	CanParse(line string) bool
	Parse(line string) (*event.Event, error)
}

// Registry holds the available parsers keyed by name
type Registry struct {
	parsers map[string]LogParser
	mu      sync.RWMutex
	logger  *pterm.Logger
}

// NewRegistry creates a registry with the built-in parsers
func NewRegistry(logger *pterm.Logger) *Registry {
	r := &Registry{
		parsers: make(map[string]LogParser),
		logger:  logger,
	}
	r.Register(jsonheaders.NewParser(logger))
	r.Register(clf.NewParser(logger))
	return r
}

// Register adds or replaces a parser
func (r *Registry) Register(p LogParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Name()] = p
	r.logger.Trace("Registered parser", r.logger.Args("name", p.Name()))
}

// Get returns the parser registered under name
func (r *Registry) Get(name string) (LogParser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[name]
	if !ok {
		return nil, fmt.Errorf("unknown parser type %q", name)
	}
	return p, nil
}

// Names returns the registered parser names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect returns the first parser, in name order, that accepts line
func (r *Registry) Detect(line string) (LogParser, bool) {
	for _, name := range r.Names() {
		p, _ := r.Get(name)
		if p.CanParse(line) {
			return p, true
		}
	}
	return nil, false
}
