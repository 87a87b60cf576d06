// Package search provides full-text search over the document register.
// Meilisearch is the primary engine with PostgreSQL full-text search as
// a fallback, so search keeps working when Meilisearch is down.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	DocType    string `json:"docType"`
	Status     string `json:"status"`
	RevisionID string `json:"revisionId"`
}

// Query describes a search request.
type Query struct {
	Text               string
	FilterStatus       string
	FilterDocType      string
	FilterDepartmentID string
	Limit              int
	Offset             int
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

// DocumentRecord is the data we index for a document. It always
// reflects the current revision.
type DocumentRecord struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	DocType      string `json:"docType"`
	Status       string `json:"status"`
	DepartmentID string `json:"departmentId"`
	RevisionID   string `json:"revisionId"`
}
