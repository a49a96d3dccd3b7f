package clf

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"geostamp/internal/enrichment"
	"geostamp/internal/event"

	"github.com/pterm/pterm"
)

// Common Log Format with referrer and user agent
// Format: <client> - <userid> [<datetime>] "<method> <request> HTTP/<version>" <status> <size> "<referrer>" "<user_agent>"
const clfPattern = `^(\S+) \S+ (\S+) \[([^\]]+)\] "([A-Z]+) ([^ "]+)? HTTP/[0-9.]+" (\d{3}) (\d+|-) "([^"]*)" "([^"]*)"`

// Header names produced by the parser
const (
	HeaderTimestamp = "timestamp"
	HeaderMethod    = "method"
	HeaderPath      = "path"
	HeaderStatus    = "status"
	HeaderSize      = "size"
	HeaderReferer   = "referer"
	HeaderUserAgent = "userAgent"
	HeaderUser      = "user"
	HeaderPort      = "clientPort"
)

// Parser turns access log lines into events whose source header holds the client IP
type Parser struct {
	logger   *pterm.Logger
	clfRegex *regexp.Regexp
}

// NewParser creates a new CLF parser instance
func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{
		logger:   logger,
		clfRegex: regexp.MustCompile(clfPattern),
	}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "clf"
}

// CanParse checks if the line is in CLF format
func (p *Parser) CanParse(line string) bool {
	if line == "" {
		return false
	}
	return p.clfRegex.MatchString(line)
}

// Parse parses a CLF line into an event. The raw line becomes the body.
func (p *Parser) Parse(line string) (*event.Event, error) {
	matches := p.clfRegex.FindStringSubmatch(line)
	if matches == nil {
		return nil, fmt.Errorf("line does not match CLF format")
	}

	ip, port := parseClientHost(matches[1])
	headers := map[string]string{
		enrichment.DefaultSourceHeader: ip,
		HeaderMethod:                   matches[4],
		HeaderPath:                     matches[5],
		HeaderStatus:                   matches[6],
	}
	if port > 0 {
		headers[HeaderPort] = strconv.Itoa(port)
	}
	if user := matches[2]; user != "-" {
		headers[HeaderUser] = user
	}
	if size := matches[7]; size != "-" {
		headers[HeaderSize] = size
	}
	if referer := matches[8]; referer != "" && referer != "-" {
		headers[HeaderReferer] = referer
	}
	if ua := matches[9]; ua != "" && ua != "-" {
		headers[HeaderUserAgent] = ua
	}

	// CLF timestamps look like "02/Jan/2006:15:04:05 -0700"
	timestamp, err := time.Parse("02/Jan/2006:15:04:05 -0700", matches[3])
	if err != nil {
		p.logger.WithCaller().Debug("Failed to parse timestamp, using current time",
			p.logger.Args("timestamp", matches[3], "error", err))
		timestamp = time.Now()
	}
	headers[HeaderTimestamp] = timestamp.UTC().Format(time.RFC3339)

	return event.New(headers, line), nil
}

// parseClientHost splits an optional port off the client address
func parseClientHost(clientHost string) (ip string, port int) {
	if clientHost == "" {
		return "", 0
	}

	host, portStr, err := net.SplitHostPort(clientHost)
	if err != nil {
		// No port present, return as-is
		return clientHost, 0
	}

	port, _ = strconv.Atoi(portStr)
	return host, port
}
