package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/harun/atlas/pkg/metadata"
	_ "github.com/mattn/go-sqlite3"
)

const taskSchema = `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		input TEXT NOT NULL,
		result TEXT,
		error_kind TEXT,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);
`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(taskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, t *Task) error {
	input, err := t.Input.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}

	var result, errKind, errMessage sql.NullString
	if t.Result != nil {
		b, err := t.Result.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}
	if t.Error != nil {
		errKind = sql.NullString{String: t.Error.Kind, Valid: true}
		errMessage = sql.NullString{String: t.Error.Message, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, status, input, result, error_kind, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		t.ID, string(t.Status), string(input), result, errKind, errMessage,
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Task, error) {
	var (
		status               string
		input                string
		result               sql.NullString
		errKind, errMessage  sql.NullString
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, input, result, error_kind, error_message, created_at, updated_at
		FROM tasks WHERE id = ?`, id,
	).Scan(&status, &input, &result, &errKind, &errMessage, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &UnknownTaskError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}

	t := &Task{
		ID:        id,
		CreatedAt: time.Unix(0, createdAt),
		UpdatedAt: time.Unix(0, updatedAt),
	}
	if t.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	if t.Input, err = metadata.FromJSON([]byte(input)); err != nil {
		return nil, fmt.Errorf("failed to decode input of task %s: %w", id, err)
	}
	if result.Valid {
		if t.Result, err = metadata.FromJSON([]byte(result.String)); err != nil {
			return nil, fmt.Errorf("failed to decode result of task %s: %w", id, err)
		}
	}
	if errKind.Valid {
		t.Error = &Failure{Kind: errKind.String, Message: errMessage.String}
	}
	return t, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored tasks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
