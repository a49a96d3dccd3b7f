package discovery

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"geostamp/internal/database/models"
	parsers "geostamp/internal/parser"

	"github.com/pterm/pterm"
)

// ParserAuto picks the parser from the first line of each file
const ParserAuto = "auto"

// FileDetector turns configured paths into sources
type FileDetector struct {
	logger     *pterm.Logger
	registry   *parsers.Registry
	paths      []string
	parserType string
}

// NewFileDetector creates a detector for paths. parserType is a registered
// parser name or ParserAuto.
func NewFileDetector(paths []string, parserType string, registry *parsers.Registry, logger *pterm.Logger) *FileDetector {
	return &FileDetector{
		logger:     logger,
		registry:   registry,
		paths:      paths,
		parserType: parserType,
	}
}

func (d *FileDetector) Name() string {
	return "files"
}

// Detect returns one source per path. Files that do not exist yet are still
// registered and picked up once created.
func (d *FileDetector) Detect() ([]*models.LogSource, error) {
	sources := []*models.LogSource{}
	seen := map[string]bool{}

	for _, path := range d.paths {
		path = filepath.Clean(path)
		if seen[path] {
			continue
		}
		seen[path] = true

		if info, err := os.Stat(path); err == nil && info.IsDir() {
			d.logger.Warn("Source path is a directory, skipping", d.logger.Args("path", path))
			continue
		} else if err != nil {
			d.logger.Debug("Source file not accessible yet", d.logger.Args("path", path, "error", err.Error()))
		}

		parserType := d.parserType
		if parserType == ParserAuto {
			parserType = d.detectParser(path)
		} else if _, err := d.registry.Get(parserType); err != nil {
			d.logger.Warn("Unknown parser for source, skipping",
				d.logger.Args("path", path, "parser", parserType))
			continue
		}

		sources = append(sources, &models.LogSource{
			Name:       generateName(path),
			Path:       path,
			ParserType: parserType,
		})
	}

	if len(sources) == 0 {
		d.logger.Warn("No event sources configured", d.logger.Args("hint", "Set SOURCE_PATHS in .env"))
	}

	return sources, nil
}

// detectParser sniffs the first non-empty line, falling back to jsonheaders
func (d *FileDetector) detectParser(path string) string {
	const fallback = "jsonheaders"

	file, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if p, ok := d.registry.Detect(line); ok {
			d.logger.Debug("Detected source format", d.logger.Args("path", path, "parser", p.Name()))
			return p.Name()
		}
		break
	}
	return fallback
}

// generateName derives the source name from the file name without extension
func generateName(path string) string {
	base := filepath.Base(path)
	return "events-" + strings.TrimSuffix(base, filepath.Ext(base))
}
