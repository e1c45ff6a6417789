package store

import (
	"context"
	"fmt"
)

// SubmitLogLatest returns, per (verse, task), the latest submission time for
// the annotator within the chapter.
func (s *PostgresStore) SubmitLogLatest(ctx context.Context, chapterID, annotatorID int64) ([]SubmitLogSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sl.task_id, t.short, sl.verse_id, sl.annotator_id, MAX(sl.updated_at)
		FROM submit_log sl
		JOIN task t ON t.id = sl.task_id
		JOIN verse v ON v.id = sl.verse_id
		WHERE v.chapter_id=$1 AND sl.annotator_id=$2
		GROUP BY sl.task_id, t.short, sl.verse_id, sl.annotator_id
		ORDER BY sl.verse_id, sl.task_id
	`, chapterID, annotatorID)
	if err != nil {
		return nil, fmt.Errorf("submit log latest: %w", err)
	}
	defer rows.Close()

	var out []SubmitLogSummary
	for rows.Next() {
		var e SubmitLogSummary
		if err := rows.Scan(&e.TaskID, &e.TaskShort, &e.VerseID, &e.AnnotatorID, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan submit log summary: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
