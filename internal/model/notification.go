package model

// Notification is the logical payload handed to the dispatcher. It is not
// persisted on its own; scheduled entries carry it JSON-encoded and history
// rows record its type and title.
type Notification struct {
	Type  string         `json:"type"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
	// Tag is a de-duplication key: a new notification replaces an
	// undelivered one sharing the tag on the same device.
	Tag string `json:"tag,omitempty"`
}
