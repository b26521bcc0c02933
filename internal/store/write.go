package store

import (
	"context"
	"fmt"

	"github.com/roach88/todosync/internal/todo"
)

// WriteUpsert inserts rec or replaces the stored row with the same id, and
// raises the last_id high-water mark in the same transaction.
// Uses ON CONFLICT(id) DO UPDATE for idempotency - repeating a write is harmless.
// created_at is written on insert only; it never changes after creation.
func (s *Store) WriteUpsert(ctx context.Context, rec todo.Todo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write upsert %d: begin: %w", rec.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO todos (id, text, completed, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			completed = excluded.completed
	`,
		rec.ID,
		rec.Text,
		boolToInt(rec.Completed),
		rec.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write upsert %d: %w", rec.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('last_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = max(value, excluded.value)
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("write upsert %d: raise last_id: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write upsert %d: commit: %w", rec.ID, err)
	}
	return nil
}

// WriteDelete removes the row with the given id.
// Deleting a missing id succeeds.
func (s *Store) WriteDelete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("write delete %d: %w", id, err)
	}
	return nil
}

// WriteDeleteMany removes every row in ids in a single transaction.
func (s *Store) WriteDeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write delete many: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM todos WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("write delete many: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("write delete many: delete %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write delete many: commit: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
