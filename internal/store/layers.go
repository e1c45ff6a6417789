package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Layer reads are scoped by annotator and, per family, by the key the
// diff planner uses: token-anchored families by token set, boundary-anchored
// families by boundary set. includeDeleted widens the read to soft-deleted
// rows so a resubmission can revive them instead of violating a unique key.

func (s *PostgresStore) WordOrderForBoundaries(ctx context.Context, boundaryIDs []int64, annotatorID int64) ([]WordOrderRow, error) {
	if len(boundaryIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, task_id, boundary_id, token_id, ord, annotator_id, updated_at
		FROM word_order
		WHERE annotator_id=$1 AND boundary_id IN (%s)
		ORDER BY boundary_id, ord
	`, placeholders(2, len(boundaryIDs)))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args([]any{annotatorID}, boundaryIDs)...)
	if err != nil {
		return nil, fmt.Errorf("word order for boundaries: %w", err)
	}
	defer rows.Close()

	var out []WordOrderRow
	for rows.Next() {
		var r WordOrderRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.BoundaryID, &r.TokenID, &r.Order, &r.AnnotatorID, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan word order: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TokenTextAnnotationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]TokenTextAnnotationRow, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, task_id, boundary_id, token_id, content, annotator_id, is_deleted, updated_at
		FROM token_text_annotation
		WHERE task_id=$1 AND annotator_id=$2 AND token_id IN (%s)%s
		ORDER BY token_id
	`, placeholders(3, len(tokenIDs)), activeClause(includeDeleted))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args([]any{taskID, annotatorID}, tokenIDs)...)
	if err != nil {
		return nil, fmt.Errorf("token text annotations: %w", err)
	}
	defer rows.Close()

	var out []TokenTextAnnotationRow
	for rows.Next() {
		var r TokenTextAnnotationRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.BoundaryID, &r.TokenID, &r.Content, &r.AnnotatorID, &r.IsDeleted, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan token text annotation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TokenClassificationsForTokens(ctx context.Context, taskID int64, tokenIDs []int64, annotatorID int64, includeDeleted bool) ([]TokenClassificationRow, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, task_id, boundary_id, token_id, label_id, annotator_id, is_deleted, updated_at
		FROM token_classification
		WHERE task_id=$1 AND annotator_id=$2 AND token_id IN (%s)%s
		ORDER BY token_id
	`, placeholders(3, len(tokenIDs)), activeClause(includeDeleted))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args([]any{taskID, annotatorID}, tokenIDs)...)
	if err != nil {
		return nil, fmt.Errorf("token classifications: %w", err)
	}
	defer rows.Close()
	return collectTokenClassifications(rows)
}

func (s *PostgresStore) TokenGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]TokenGraphRow, error) {
	if len(boundaryIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, task_id, boundary_id, src_id, label_id, dst_id, annotator_id, is_deleted, updated_at
		FROM token_graph
		WHERE task_id=$1 AND annotator_id=$2 AND boundary_id IN (%s)%s
		ORDER BY id
	`, placeholders(3, len(boundaryIDs)), activeClause(includeDeleted))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args([]any{taskID, annotatorID}, boundaryIDs)...)
	if err != nil {
		return nil, fmt.Errorf("token graph for boundaries: %w", err)
	}
	defer rows.Close()
	return collectTokenGraph(rows)
}

func (s *PostgresStore) TokenConnectionsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]TokenConnectionRow, error) {
	if len(boundaryIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, task_id, boundary_id, src_id, dst_id, annotator_id, is_deleted, updated_at
		FROM token_connection
		WHERE task_id=$1 AND annotator_id=$2 AND boundary_id IN (%s)%s
		ORDER BY id
	`, placeholders(3, len(boundaryIDs)), activeClause(includeDeleted))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args([]any{taskID, annotatorID}, boundaryIDs)...)
	if err != nil {
		return nil, fmt.Errorf("token connections for boundaries: %w", err)
	}
	defer rows.Close()

	var out []TokenConnectionRow
	for rows.Next() {
		var r TokenConnectionRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.BoundaryID, &r.SrcID, &r.DstID, &r.AnnotatorID, &r.IsDeleted, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan token connection: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SentenceClassificationsForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]SentenceClassificationRow, error) {
	if len(boundaryIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, task_id, boundary_id, label_id, annotator_id, is_deleted, updated_at
		FROM sentence_classification
		WHERE task_id=$1 AND annotator_id=$2 AND boundary_id IN (%s)%s
		ORDER BY boundary_id
	`, placeholders(3, len(boundaryIDs)), activeClause(includeDeleted))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args([]any{taskID, annotatorID}, boundaryIDs)...)
	if err != nil {
		return nil, fmt.Errorf("sentence classifications: %w", err)
	}
	defer rows.Close()

	var out []SentenceClassificationRow
	for rows.Next() {
		var r SentenceClassificationRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.BoundaryID, &r.LabelID, &r.AnnotatorID, &r.IsDeleted, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sentence classification: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SentenceGraphForBoundaries matches edges whose source sentence is in the
// boundary set; an edge is stored with the sentence it was submitted from.
func (s *PostgresStore) SentenceGraphForBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64, includeDeleted bool) ([]SentenceGraphRow, error) {
	if len(boundaryIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, task_id, src_boundary_id, dst_boundary_id, src_token_id, dst_token_id,
		       label_id, relation_type, annotator_id, is_deleted, updated_at
		FROM sentence_graph
		WHERE task_id=$1 AND annotator_id=$2 AND src_boundary_id IN (%s)%s
		ORDER BY id
	`, placeholders(3, len(boundaryIDs)), activeClause(includeDeleted))
	rows, err := s.db.QueryContext(ctx, query, appendInt64Args([]any{taskID, annotatorID}, boundaryIDs)...)
	if err != nil {
		return nil, fmt.Errorf("sentence graph for boundaries: %w", err)
	}
	defer rows.Close()
	return collectSentenceGraph(rows)
}

// SentenceGraphTouchingBoundaries matches edges with either endpoint in the
// boundary set, the scope used when boundaries are invalidated.
func (s *PostgresStore) SentenceGraphTouchingBoundaries(ctx context.Context, taskID int64, boundaryIDs []int64, annotatorID int64) ([]SentenceGraphRow, error) {
	if len(boundaryIDs) == 0 {
		return nil, nil
	}
	n := len(boundaryIDs)
	query := fmt.Sprintf(`
		SELECT id, task_id, src_boundary_id, dst_boundary_id, src_token_id, dst_token_id,
		       label_id, relation_type, annotator_id, is_deleted, updated_at
		FROM sentence_graph
		WHERE task_id=$1 AND annotator_id=$2
		  AND (src_boundary_id IN (%s) OR dst_boundary_id IN (%s))
		ORDER BY id
	`, placeholders(3, n), placeholders(3+n, n))
	args := appendInt64Args([]any{taskID, annotatorID}, boundaryIDs)
	args = appendInt64Args(args, boundaryIDs)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sentence graph touching boundaries: %w", err)
	}
	defer rows.Close()
	return collectSentenceGraph(rows)
}

func activeClause(includeDeleted bool) string {
	if includeDeleted {
		return ""
	}
	return " AND NOT is_deleted"
}

func collectTokenClassifications(rows *sql.Rows) ([]TokenClassificationRow, error) {
	var out []TokenClassificationRow
	for rows.Next() {
		var r TokenClassificationRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.BoundaryID, &r.TokenID, &r.LabelID, &r.AnnotatorID, &r.IsDeleted, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan token classification: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func collectTokenGraph(rows *sql.Rows) ([]TokenGraphRow, error) {
	var out []TokenGraphRow
	for rows.Next() {
		var r TokenGraphRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.BoundaryID, &r.SrcID, &r.LabelID, &r.DstID, &r.AnnotatorID, &r.IsDeleted, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan token graph: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func collectSentenceGraph(rows *sql.Rows) ([]SentenceGraphRow, error) {
	var out []SentenceGraphRow
	for rows.Next() {
		var r SentenceGraphRow
		if err := rows.Scan(&r.ID, &r.TaskID, &r.SrcBoundaryID, &r.DstBoundaryID, &r.SrcTokenID, &r.DstTokenID,
			&r.LabelID, &r.RelationType, &r.AnnotatorID, &r.IsDeleted, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sentence graph: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
