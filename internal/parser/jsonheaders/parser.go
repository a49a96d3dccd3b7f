package jsonheaders

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"geostamp/internal/event"

	"github.com/pterm/pterm"
)

// Parser reads events written one JSON object per line.
// Two shapes are accepted:
//
//	{"headers": {"addressHeader": "10.0.0.5"}, "body": "..."}
//	{"addressHeader": "10.0.0.5", "status": 200}
//
// In the flat shape every scalar value becomes a header.
type Parser struct {
	logger *pterm.Logger
}

// NewParser creates a new JSON headers parser
func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{logger: logger}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "jsonheaders"
}

// CanParse checks if the line looks like a JSON object
func (p *Parser) CanParse(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= 2 && line[0] == '{' && line[len(line)-1] == '}' && json.Valid([]byte(line))
}

// Parse decodes a line into an event
func (p *Parser) Parse(line string) (*event.Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON event: %w", err)
	}

	if headersRaw, ok := raw["headers"]; ok {
		var headers map[string]any
		if err := json.Unmarshal(headersRaw, &headers); err != nil {
			return nil, fmt.Errorf("headers is not an object: %w", err)
		}
		var body string
		if bodyRaw, ok := raw["body"]; ok {
			if err := json.Unmarshal(bodyRaw, &body); err != nil {
				// Non-string bodies are kept verbatim
				body = string(bodyRaw)
			}
		}
		return event.New(p.stringify(headers), body), nil
	}

	flat := make(map[string]any, len(raw))
	for k, v := range raw {
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return nil, fmt.Errorf("failed to decode field %s: %w", k, err)
		}
		flat[k] = value
	}
	return event.New(p.stringify(flat), ""), nil
}

// stringify converts scalar values to header strings, dropping nulls and nested values
func (p *Parser) stringify(values map[string]any) map[string]string {
	headers := make(map[string]string, len(values))
	for k, v := range values {
		switch value := v.(type) {
		case string:
			headers[k] = value
		case float64:
			headers[k] = strconv.FormatFloat(value, 'f', -1, 64)
		case bool:
			headers[k] = strconv.FormatBool(value)
		case nil:
			// absent
		default:
			p.logger.Trace("Skipping non-scalar field", p.logger.Args("field", k))
		}
	}
	return headers
}
