package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is the mutator surface a submission transaction runs over. The
// service layer computes what to change and applies it through these
// primitives; either everything commits or nothing does.
type Tx interface {
	InsertBoundary(ctx context.Context, b Boundary) (int64, error)
	DeleteBoundaries(ctx context.Context, ids []int64) error
	DeleteLayersForBoundaries(ctx context.Context, boundaryIDs []int64) error
	DeleteWordOrder(ctx context.Context, boundaryIDs []int64) error
	InsertWordOrder(ctx context.Context, r WordOrderRow) (int64, error)

	InsertTokenTextAnnotation(ctx context.Context, r TokenTextAnnotationRow) (int64, error)
	UpdateTokenTextAnnotation(ctx context.Context, id, boundaryID int64, content string, now time.Time) error
	SoftDeleteTokenTextAnnotation(ctx context.Context, id int64, now time.Time) error

	InsertTokenClassification(ctx context.Context, r TokenClassificationRow) (int64, error)
	UpdateTokenClassification(ctx context.Context, id, boundaryID, labelID int64, now time.Time) error
	SoftDeleteTokenClassification(ctx context.Context, id int64, now time.Time) error

	InsertTokenGraph(ctx context.Context, r TokenGraphRow) (int64, error)
	UpdateTokenGraph(ctx context.Context, id, boundaryID int64, now time.Time) error
	SoftDeleteTokenGraph(ctx context.Context, id int64, now time.Time) error

	InsertTokenConnection(ctx context.Context, r TokenConnectionRow) (int64, error)
	UpdateTokenConnection(ctx context.Context, id, boundaryID int64, now time.Time) error
	SoftDeleteTokenConnection(ctx context.Context, id int64, now time.Time) error

	InsertSentenceClassification(ctx context.Context, r SentenceClassificationRow) (int64, error)
	UpdateSentenceClassification(ctx context.Context, id, labelID int64, now time.Time) error
	SoftDeleteSentenceClassification(ctx context.Context, id int64, now time.Time) error

	InsertSentenceGraph(ctx context.Context, r SentenceGraphRow) (int64, error)
	UpdateSentenceGraph(ctx context.Context, id, labelID int64, now time.Time) error
	SoftDeleteSentenceGraph(ctx context.Context, id int64, now time.Time) error

	AppendSubmitLog(ctx context.Context, e SubmitLogEntry) error
}

// InTx runs fn inside one database transaction, rolling back on error.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: dbtx}); err != nil {
		_ = dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (p *pgTx) InsertBoundary(ctx context.Context, b Boundary) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO boundary (task_id, verse_id, token_id, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, b.TaskID, b.VerseID, b.TokenID, b.AnnotatorID, b.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert boundary: %w", err)
	}
	return id, nil
}

func (p *pgTx) DeleteBoundaries(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM boundary WHERE id IN (%s)`, placeholders(1, len(ids)))
	if _, err := p.tx.ExecContext(ctx, query, int64Args(ids)...); err != nil {
		return fmt.Errorf("delete boundaries: %w", err)
	}
	return nil
}

// DeleteLayersForBoundaries removes every annotation row anchored to the
// boundaries, across all families and all annotators. Must run before the
// boundary rows themselves can be deleted.
func (p *pgTx) DeleteLayersForBoundaries(ctx context.Context, boundaryIDs []int64) error {
	if len(boundaryIDs) == 0 {
		return nil
	}
	ph := placeholders(1, len(boundaryIDs))
	args := int64Args(boundaryIDs)
	stmts := []string{
		fmt.Sprintf(`DELETE FROM word_order WHERE boundary_id IN (%s)`, ph),
		fmt.Sprintf(`DELETE FROM token_text_annotation WHERE boundary_id IN (%s)`, ph),
		fmt.Sprintf(`DELETE FROM token_classification WHERE boundary_id IN (%s)`, ph),
		fmt.Sprintf(`DELETE FROM token_graph WHERE boundary_id IN (%s)`, ph),
		fmt.Sprintf(`DELETE FROM token_connection WHERE boundary_id IN (%s)`, ph),
		fmt.Sprintf(`DELETE FROM sentence_classification WHERE boundary_id IN (%s)`, ph),
		fmt.Sprintf(`DELETE FROM sentence_graph WHERE src_boundary_id IN (%s) OR dst_boundary_id IN (%s)`,
			ph, placeholders(1+len(boundaryIDs), len(boundaryIDs))),
	}
	for i, stmt := range stmts {
		a := args
		if i == len(stmts)-1 {
			a = appendInt64Args(append([]any{}, args...), boundaryIDs)
		}
		if _, err := p.tx.ExecContext(ctx, stmt, a...); err != nil {
			return fmt.Errorf("delete boundary layers: %w", err)
		}
	}
	return nil
}

func (p *pgTx) DeleteWordOrder(ctx context.Context, boundaryIDs []int64) error {
	if len(boundaryIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM word_order WHERE boundary_id IN (%s)`, placeholders(1, len(boundaryIDs)))
	if _, err := p.tx.ExecContext(ctx, query, int64Args(boundaryIDs)...); err != nil {
		return fmt.Errorf("delete word order: %w", err)
	}
	return nil
}

func (p *pgTx) InsertWordOrder(ctx context.Context, r WordOrderRow) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO word_order (task_id, boundary_id, token_id, ord, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.TaskID, r.BoundaryID, r.TokenID, r.Order, r.AnnotatorID, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert word order: %w", err)
	}
	return id, nil
}

func (p *pgTx) InsertTokenTextAnnotation(ctx context.Context, r TokenTextAnnotationRow) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO token_text_annotation (task_id, boundary_id, token_id, content, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.TaskID, r.BoundaryID, r.TokenID, r.Content, r.AnnotatorID, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert token text annotation: %w", err)
	}
	return id, nil
}

func (p *pgTx) UpdateTokenTextAnnotation(ctx context.Context, id, boundaryID int64, content string, now time.Time) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE token_text_annotation
		SET boundary_id=$2, content=$3, is_deleted=FALSE, updated_at=$4
		WHERE id=$1
	`, id, boundaryID, content, now)
	if err != nil {
		return fmt.Errorf("update token text annotation: %w", err)
	}
	return nil
}

func (p *pgTx) SoftDeleteTokenTextAnnotation(ctx context.Context, id int64, now time.Time) error {
	return p.softDelete(ctx, "token_text_annotation", id, now)
}

func (p *pgTx) InsertTokenClassification(ctx context.Context, r TokenClassificationRow) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO token_classification (task_id, boundary_id, token_id, label_id, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.TaskID, r.BoundaryID, r.TokenID, r.LabelID, r.AnnotatorID, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert token classification: %w", err)
	}
	return id, nil
}

func (p *pgTx) UpdateTokenClassification(ctx context.Context, id, boundaryID, labelID int64, now time.Time) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE token_classification
		SET boundary_id=$2, label_id=$3, is_deleted=FALSE, updated_at=$4
		WHERE id=$1
	`, id, boundaryID, labelID, now)
	if err != nil {
		return fmt.Errorf("update token classification: %w", err)
	}
	return nil
}

func (p *pgTx) SoftDeleteTokenClassification(ctx context.Context, id int64, now time.Time) error {
	return p.softDelete(ctx, "token_classification", id, now)
}

func (p *pgTx) InsertTokenGraph(ctx context.Context, r TokenGraphRow) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO token_graph (task_id, boundary_id, src_id, label_id, dst_id, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, r.TaskID, r.BoundaryID, r.SrcID, r.LabelID, r.DstID, r.AnnotatorID, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert token graph: %w", err)
	}
	return id, nil
}

func (p *pgTx) UpdateTokenGraph(ctx context.Context, id, boundaryID int64, now time.Time) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE token_graph SET boundary_id=$2, is_deleted=FALSE, updated_at=$3 WHERE id=$1
	`, id, boundaryID, now)
	if err != nil {
		return fmt.Errorf("update token graph: %w", err)
	}
	return nil
}

func (p *pgTx) SoftDeleteTokenGraph(ctx context.Context, id int64, now time.Time) error {
	return p.softDelete(ctx, "token_graph", id, now)
}

func (p *pgTx) InsertTokenConnection(ctx context.Context, r TokenConnectionRow) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO token_connection (task_id, boundary_id, src_id, dst_id, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.TaskID, r.BoundaryID, r.SrcID, r.DstID, r.AnnotatorID, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert token connection: %w", err)
	}
	return id, nil
}

func (p *pgTx) UpdateTokenConnection(ctx context.Context, id, boundaryID int64, now time.Time) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE token_connection SET boundary_id=$2, is_deleted=FALSE, updated_at=$3 WHERE id=$1
	`, id, boundaryID, now)
	if err != nil {
		return fmt.Errorf("update token connection: %w", err)
	}
	return nil
}

func (p *pgTx) SoftDeleteTokenConnection(ctx context.Context, id int64, now time.Time) error {
	return p.softDelete(ctx, "token_connection", id, now)
}

func (p *pgTx) InsertSentenceClassification(ctx context.Context, r SentenceClassificationRow) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO sentence_classification (task_id, boundary_id, label_id, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.TaskID, r.BoundaryID, r.LabelID, r.AnnotatorID, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sentence classification: %w", err)
	}
	return id, nil
}

func (p *pgTx) UpdateSentenceClassification(ctx context.Context, id, labelID int64, now time.Time) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE sentence_classification SET label_id=$2, is_deleted=FALSE, updated_at=$3 WHERE id=$1
	`, id, labelID, now)
	if err != nil {
		return fmt.Errorf("update sentence classification: %w", err)
	}
	return nil
}

func (p *pgTx) SoftDeleteSentenceClassification(ctx context.Context, id int64, now time.Time) error {
	return p.softDelete(ctx, "sentence_classification", id, now)
}

func (p *pgTx) InsertSentenceGraph(ctx context.Context, r SentenceGraphRow) (int64, error) {
	var id int64
	err := p.tx.QueryRowContext(ctx, `
		INSERT INTO sentence_graph
			(task_id, src_boundary_id, dst_boundary_id, src_token_id, dst_token_id, label_id, relation_type, annotator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, r.TaskID, r.SrcBoundaryID, r.DstBoundaryID, r.SrcTokenID, r.DstTokenID,
		r.LabelID, r.RelationType, r.AnnotatorID, r.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sentence graph: %w", err)
	}
	return id, nil
}

func (p *pgTx) UpdateSentenceGraph(ctx context.Context, id, labelID int64, now time.Time) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE sentence_graph SET label_id=$2, is_deleted=FALSE, updated_at=$3 WHERE id=$1
	`, id, labelID, now)
	if err != nil {
		return fmt.Errorf("update sentence graph: %w", err)
	}
	return nil
}

func (p *pgTx) SoftDeleteSentenceGraph(ctx context.Context, id int64, now time.Time) error {
	return p.softDelete(ctx, "sentence_graph", id, now)
}

func (p *pgTx) AppendSubmitLog(ctx context.Context, e SubmitLogEntry) error {
	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO submit_log (verse_id, annotator_id, task_id, updated_at)
		VALUES ($1, $2, $3, $4)
	`, e.VerseID, e.AnnotatorID, e.TaskID, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("append submit log: %w", err)
	}
	return nil
}

func (p *pgTx) softDelete(ctx context.Context, table string, id int64, now time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET is_deleted=TRUE, updated_at=$2 WHERE id=$1`, table)
	if _, err := p.tx.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("soft delete %s: %w", table, err)
	}
	return nil
}
