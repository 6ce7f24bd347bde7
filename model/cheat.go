package model

import "encoding/json"

// CheatType identifies the kind of integrity violation a sensor observed.
// The keys match the backend's cheat_rules toggles.
type CheatType string

const (
	CheatVisibilityHidden CheatType = "visibility_hidden"
	CheatWindowBlur       CheatType = "window_blur"
	CheatWindowResize     CheatType = "window_resize"
	CheatDevTools         CheatType = "dev_tools"
	CheatClipboard        CheatType = "clipboard"
	CheatContextMenu      CheatType = "context_menu"
	CheatForbiddenKey     CheatType = "forbidden_key"
)

// Severity grades how strongly a cheat event should be weighed.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// CheatEvent is produced by an external sensor and forwarded opaquely.
// The wire carries it as a serialized JSON string inside the cheat action;
// the server stores the payload without interpreting it.
type CheatEvent struct {
	Type     CheatType       `json:"type"`
	Severity Severity        `json:"severity"`
	Extra    json.RawMessage `json:"extra,omitempty"`
}
