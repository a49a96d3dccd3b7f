package event

// Event is a single pipeline record: string headers plus an opaque body
type Event struct {
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// New creates an event owning a copy of the given headers
func New(headers map[string]string, body string) *Event {
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &Event{Headers: copied, Body: body}
}

// GetHeaders returns the live header map, creating it if needed
func (e *Event) GetHeaders() map[string]string {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	return e.Headers
}

// SetHeaders replaces the header map wholesale
func (e *Event) SetHeaders(headers map[string]string) {
	e.Headers = headers
}

// Header returns the value stored under key and whether it was present
func (e *Event) Header(key string) (string, bool) {
	v, ok := e.Headers[key]
	return v, ok
}
