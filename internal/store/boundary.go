package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) BoundariesForVerse(ctx context.Context, taskID, verseID, annotatorID int64) ([]Boundary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, verse_id, token_id, annotator_id, updated_at
		FROM boundary
		WHERE task_id=$1 AND verse_id=$2 AND annotator_id=$3
		ORDER BY token_id
	`, taskID, verseID, annotatorID)
	if err != nil {
		return nil, fmt.Errorf("boundaries for verse: %w", err)
	}
	defer rows.Close()
	return collectBoundaries(rows)
}

func (s *PostgresStore) BoundariesForVerses(ctx context.Context, taskID int64, verseIDs []int64, annotatorID int64) ([]Boundary, error) {
	if len(verseIDs) == 0 {
		return nil, nil
	}
	args := []any{taskID, annotatorID}
	query := fmt.Sprintf(`
		SELECT id, task_id, verse_id, token_id, annotator_id, updated_at
		FROM boundary
		WHERE task_id=$1 AND annotator_id=$2 AND verse_id IN (%s)
		ORDER BY verse_id, token_id
	`, placeholders(3, len(verseIDs)))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args(args, verseIDs)...)
	if err != nil {
		return nil, fmt.Errorf("boundaries for verses: %w", err)
	}
	defer rows.Close()
	return collectBoundaries(rows)
}

func (s *PostgresStore) BoundariesForChapter(ctx context.Context, taskID, chapterID, annotatorID int64) ([]Boundary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.task_id, b.verse_id, b.token_id, b.annotator_id, b.updated_at
		FROM boundary b
		JOIN verse v ON v.id = b.verse_id
		WHERE b.task_id=$1 AND v.chapter_id=$2 AND b.annotator_id=$3
		ORDER BY b.token_id
	`, taskID, chapterID, annotatorID)
	if err != nil {
		return nil, fmt.Errorf("boundaries for chapter: %w", err)
	}
	defer rows.Close()
	return collectBoundaries(rows)
}

// PreviousBoundary returns the annotator's nearest boundary strictly before
// tokenID within the chapter, or ErrNotFound when the segment starts the
// chapter.
func (s *PostgresStore) PreviousBoundary(ctx context.Context, taskID, chapterID, tokenID, annotatorID int64) (Boundary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.task_id, b.verse_id, b.token_id, b.annotator_id, b.updated_at
		FROM boundary b
		JOIN verse v ON v.id = b.verse_id
		WHERE b.task_id=$1 AND v.chapter_id=$2 AND b.token_id < $3
		  AND b.annotator_id=$4
		ORDER BY b.token_id DESC
		LIMIT 1
	`, taskID, chapterID, tokenID, annotatorID)
	return scanBoundaryRow(row)
}

// NextBoundary returns the annotator's nearest boundary strictly after
// tokenID within the chapter, or ErrNotFound at the chapter's end.
func (s *PostgresStore) NextBoundary(ctx context.Context, taskID, chapterID, tokenID, annotatorID int64) (Boundary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.task_id, b.verse_id, b.token_id, b.annotator_id, b.updated_at
		FROM boundary b
		JOIN verse v ON v.id = b.verse_id
		WHERE b.task_id=$1 AND v.chapter_id=$2 AND b.token_id > $3
		  AND b.annotator_id=$4
		ORDER BY b.token_id ASC
		LIMIT 1
	`, taskID, chapterID, tokenID, annotatorID)
	return scanBoundaryRow(row)
}

func (s *PostgresStore) GetBoundary(ctx context.Context, id int64) (Boundary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, verse_id, token_id, annotator_id, updated_at
		FROM boundary WHERE id=$1
	`, id)
	return scanBoundaryRow(row)
}

func scanBoundaryRow(row rowScanner) (Boundary, error) {
	var b Boundary
	err := row.Scan(&b.ID, &b.TaskID, &b.VerseID, &b.TokenID, &b.AnnotatorID, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Boundary{}, ErrNotFound
	}
	if err != nil {
		return Boundary{}, fmt.Errorf("scan boundary: %w", err)
	}
	return b, nil
}

func collectBoundaries(rows *sql.Rows) ([]Boundary, error) {
	var out []Boundary
	for rows.Next() {
		var b Boundary
		if err := rows.Scan(&b.ID, &b.TaskID, &b.VerseID, &b.TokenID, &b.AnnotatorID, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan boundary: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
