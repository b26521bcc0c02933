package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/todosync/internal/testutil"
	"github.com/roach88/todosync/internal/todo"
)

// createTestStore opens a file-backed store under t.TempDir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTodo creates a todo created offset seconds after the test epoch.
func createTestTodo(id int64, text string, completed bool, offset int) todo.Todo {
	return todo.Todo{
		ID:        id,
		Text:      text,
		Completed: completed,
		CreatedAt: testutil.DefaultEpoch.Add(time.Duration(offset) * time.Second),
	}
}
