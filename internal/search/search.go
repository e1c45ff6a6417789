// Package search provides token lookup across the corpus, backed by
// Meilisearch with a PostgreSQL fallback.
package search

// TokenRecord is the data indexed per corpus token.
type TokenRecord struct {
	ID        int64  `json:"id"`
	VerseID   int64  `json:"verse_id"`
	ChapterID int64  `json:"chapter_id"`
	Text      string `json:"text"`
	Lemma     string `json:"lemma"`
	Xpos      string `json:"xpos"`
}

// Query describes a token search request.
type Query struct {
	Text      string
	ChapterID int64 // 0 = all chapters
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []TokenRecord `json:"results"`
	Total   int           `json:"total"`
	Query   string        `json:"query"`
}

// Searcher can execute a token search.
type Searcher interface {
	Search(q Query) ([]TokenRecord, int, error)
	Healthy() bool
}
