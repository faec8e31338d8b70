package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
	CreatedBy string `json:"createdBy"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterStatus string // empty = all statuses
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// RecordDoc is the data we index for an intake record.
type RecordDoc struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	BusinessProblem  string   `json:"businessProblem"`
	Description      string   `json:"description"`
	FrameworkTags    []string `json:"frameworkTags"`
	CapabilityGroups []string `json:"capabilityGroups"`
	Status           string   `json:"status"`
	CreatedBy        string   `json:"createdBy"`
}
