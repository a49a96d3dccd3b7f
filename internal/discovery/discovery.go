package discovery

import (
	"errors"
	"fmt"

	"geostamp/internal/database/models"
	"geostamp/internal/database/repositories"

	"github.com/pterm/pterm"
)

// ServiceDetector finds sources that should be ingested
type ServiceDetector interface {
	Name() string
	Detect() ([]*models.LogSource, error)
}

// Engine registers what its detectors find in the source table
type Engine struct {
	repo      repositories.LogSourceRepository
	detectors []ServiceDetector
	logger    *pterm.Logger
}

// NewEngine creates an engine running the given detectors in order
func NewEngine(repo repositories.LogSourceRepository, logger *pterm.Logger, detectors ...ServiceDetector) *Engine {
	return &Engine{
		repo:      repo,
		detectors: detectors,
		logger:    logger,
	}
}

// Run detects and upserts sources. Existing rows keep their read position.
// It returns the number of newly registered sources.
func (e *Engine) Run() (int, error) {
	var errs []error
	created := 0

	for _, d := range e.detectors {
		sources, err := d.Detect()
		if err != nil {
			e.logger.WithCaller().Warn("Detector failed",
				e.logger.Args("detector", d.Name(), "error", err))
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}

		for _, source := range sources {
			isNew, err := e.repo.Upsert(source)
			if err != nil {
				e.logger.WithCaller().Error("Failed to register source",
					e.logger.Args("source", source.Name, "error", err))
				errs = append(errs, fmt.Errorf("register %s: %w", source.Name, err))
				continue
			}
			if isNew {
				created++
				e.logger.Info("Registered event source",
					e.logger.Args("source", source.Name, "path", source.Path, "parser", source.ParserType))
			} else {
				e.logger.Debug("Event source already registered",
					e.logger.Args("source", source.Name, "position", source.LastPosition))
			}
		}
	}

	return created, errors.Join(errs...)
}
