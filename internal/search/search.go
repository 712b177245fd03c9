package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Snippet  string `json:"snippet"`
	ToolType string `json:"type,omitempty"`
	Theme    string `json:"theme,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType string // tool type, empty = all
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over tools.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ToolRecord is the data we index for a tool document.
type ToolRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ToolType    string `json:"type"`
	Theme       string `json:"theme"`
	Version     int64  `json:"version"`
}
