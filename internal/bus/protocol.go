// Package bus broadcasts transcript events to local subscribers over a Unix
// socket using NDJSON. Delivery is best effort: a slow or stalled subscriber
// loses events, never the pipeline.
package bus

// Event kinds streamed by the server.
const (
	EventSessionStarted = "session_started"
	EventEmission       = "emission"
	EventSessionEnded   = "session_ended"
)

// Event is streamed to subscribed clients, one JSON object per line.
type Event struct {
	Event         string   `json:"event"`
	SessionID     string   `json:"sessionId,omitempty"`
	Session       string   `json:"session,omitempty"`
	Seq           *int     `json:"seq,omitempty"`
	Text          string   `json:"text,omitempty"`
	Start         *float64 `json:"start,omitempty"`
	End           *float64 `json:"end,omitempty"`
	AbsoluteStart string   `json:"absoluteStart,omitempty"`
	AbsoluteEnd   string   `json:"absoluteEnd,omitempty"`
}

// IntPtr returns a pointer to an int value. Convenience for building events.
func IntPtr(n int) *int { return &n }

// Float64Ptr returns a pointer to a float64 value.
func Float64Ptr(f float64) *float64 { return &f }
