package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/todosync/internal/todo"
)

// LoadAll returns every stored todo in canonical order.
// Ordering: ORDER BY created_at DESC, id DESC.
//
// Returns an empty slice (not nil) if the table is empty.
func (s *Store) LoadAll(ctx context.Context) ([]todo.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, completed, created_at
		FROM todos
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	todos := []todo.Todo{}
	for rows.Next() {
		rec, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate todos: %w", err)
	}

	return todos, nil
}

// ReadTodo returns a single todo by id.
// Returns a *todo.NotFoundError if no row matches.
func (s *Store) ReadTodo(ctx context.Context, id int64) (todo.Todo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, completed, created_at
		FROM todos
		WHERE id = ?
	`, id)

	rec, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Todo{}, &todo.NotFoundError{ID: id}
	}
	if err != nil {
		return todo.Todo{}, err
	}
	return rec, nil
}

// LastID returns the highest id ever written, including ids whose rows have
// since been deleted. It is 0 for a fresh database.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT max(
			COALESCE((SELECT value FROM meta WHERE key = 'last_id'), 0),
			COALESCE((SELECT MAX(id) FROM todos), 0)
		)
	`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("query last id: %w", err)
	}
	return id, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(sc scanner) (todo.Todo, error) {
	var (
		rec       todo.Todo
		completed int
		createdAt int64
	)
	if err := sc.Scan(&rec.ID, &rec.Text, &completed, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return todo.Todo{}, err
		}
		return todo.Todo{}, fmt.Errorf("scan todo: %w", err)
	}
	rec.Completed = completed != 0
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}
