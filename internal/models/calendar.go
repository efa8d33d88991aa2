package models

// CalendarEvent is one entry of the mock daily schedule surfaced by the
// calendar tool.
type CalendarEvent struct {
	Summary     string   `json:"summary"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Description string   `json:"description,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
}

// SearchResult is one entry of the search tool's JSON envelope.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}
