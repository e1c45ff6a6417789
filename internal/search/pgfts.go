package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL token searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches token text and lemma by prefix, ranking exact matches
// first.
func (p *PgFTS) Search(q Query) ([]TokenRecord, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT t.id, l.verse_id, v.chapter_id, t.text, t.lemma,
		       COALESCE(t.analysis->>'xpos', ''),
		       COUNT(*) OVER ()
		FROM token t
		JOIN line l ON l.id = t.line_id
		JOIN verse v ON v.id = l.verse_id
		WHERE (t.text ILIKE $1 OR t.lemma ILIKE $1)
	`
	args := []any{text + "%", text}
	if q.ChapterID != 0 {
		query += ` AND v.chapter_id = $3`
		args = append(args, q.ChapterID)
	}
	query += fmt.Sprintf(`
		ORDER BY (t.text = $2 OR t.lemma = $2) DESC, t.id
		LIMIT %d OFFSET %d
	`, limit, offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var (
		results []TokenRecord
		total   int
	)
	for rows.Next() {
		var r TokenRecord
		if err := rows.Scan(&r.ID, &r.VerseID, &r.ChapterID, &r.Text, &r.Lemma, &r.Xpos, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
