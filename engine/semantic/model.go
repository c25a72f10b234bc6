package semantic

// SearchResult is a single similarity hit, ranked by descending score.
type SearchResult struct {
	ID         string  `json:"id"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	LineNumber int     `json:"line_number"`
}
