package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) ListTasks(ctx context.Context, includeDeleted bool) ([]Task, error) {
	query := `
		SELECT id, category, title, short, help, ord, is_deleted
		FROM task
	`
	if !includeDeleted {
		query += ` WHERE NOT is_deleted`
	}
	query += ` ORDER BY ord, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Category, &t.Title, &t.Short, &t.Help, &t.Order, &t.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64) (Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, category, title, short, help, ord, is_deleted FROM task WHERE id=$1
	`, id).Scan(&t.ID, &t.Category, &t.Title, &t.Short, &t.Help, &t.Order, &t.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task SET title=$2, short=$3, help=$4, ord=$5, is_deleted=$6 WHERE id=$1
	`, t.ID, t.Title, t.Short, t.Help, t.Order, t.IsDeleted)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureTask inserts a task for the category unless one already exists,
// returning the task id either way.
func (s *PostgresStore) EnsureTask(ctx context.Context, t Task) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM task WHERE category=$1 ORDER BY id LIMIT 1
	`, t.Category).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ensure task: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO task (category, title, short, help, ord)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, t.Category, t.Title, t.Short, t.Help, t.Order).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListLabels(ctx context.Context, taskID int64, includeDeleted bool) ([]Label, error) {
	query := `
		SELECT id, task_id, label, description, is_deleted
		FROM label WHERE task_id=$1
	`
	if !includeDeleted {
		query += ` AND NOT is_deleted`
	}
	query += ` ORDER BY label`
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var out []Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Label, &l.Description, &l.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetLabel(ctx context.Context, id int64) (Label, error) {
	var l Label
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, label, description, is_deleted FROM label WHERE id=$1
	`, id).Scan(&l.ID, &l.TaskID, &l.Label, &l.Description, &l.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Label{}, ErrNotFound
	}
	if err != nil {
		return Label{}, fmt.Errorf("get label: %w", err)
	}
	return l, nil
}

// AddLabel revives a soft-deleted label with the same text if present,
// otherwise inserts a new row.
func (s *PostgresStore) AddLabel(ctx context.Context, l Label) (int64, error) {
	var (
		id        int64
		isDeleted bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, is_deleted FROM label WHERE task_id=$1 AND label=$2
	`, l.TaskID, l.Label).Scan(&id, &isDeleted)
	switch {
	case err == nil:
		if isDeleted {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE label SET is_deleted=FALSE, description=$2 WHERE id=$1
			`, id, l.Description); err != nil {
				return 0, fmt.Errorf("revive label: %w", err)
			}
		}
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO label (task_id, label, description)
			VALUES ($1, $2, $3)
			RETURNING id
		`, l.TaskID, l.Label, l.Description).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert label: %w", err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("add label: %w", err)
	}
}

// LabelUsageCount counts active annotation rows that reference the label,
// across every family that can carry one.
func (s *PostgresStore) LabelUsageCount(ctx context.Context, labelID int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM token_classification WHERE label_id=$1 AND NOT is_deleted) +
		  (SELECT COUNT(*) FROM token_graph WHERE label_id=$1 AND NOT is_deleted) +
		  (SELECT COUNT(*) FROM sentence_classification WHERE label_id=$1 AND NOT is_deleted) +
		  (SELECT COUNT(*) FROM sentence_graph WHERE label_id=$1 AND NOT is_deleted)
	`, labelID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("label usage count: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) SoftDeleteLabel(ctx context.Context, labelID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE label SET is_deleted=TRUE WHERE id=$1`, labelID)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
