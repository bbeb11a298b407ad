package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/taskloader/internal/apperr"
	"github.com/starford/taskloader/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ` + Collection + ` (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	frontmatter TEXT NOT NULL DEFAULT '{}',
	content     TEXT NOT NULL DEFAULT ''
);
`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Begin opens a SQL transaction and clears the table inside it. Readers keep
// seeing the committed rows until Commit.
func (s *SQLite) Begin(ctx context.Context) (Txn, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+Collection); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("store: clear: %w", err)
	}
	return &sqliteTxn{tx: tx}, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (models.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, title, frontmatter, content FROM `+Collection+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("store: get %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLite) List(ctx context.Context) ([]models.Task, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, title, frontmatter, content FROM `+Collection+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	out := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM `+Collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (models.Task, error) {
	var t models.Task
	var fm string
	if err := r.Scan(&t.ID, &t.Title, &fm, &t.Content); err != nil {
		return models.Task{}, err
	}
	if err := json.Unmarshal([]byte(fm), &t.Frontmatter); err != nil {
		return models.Task{}, fmt.Errorf("decode frontmatter of %s: %w", t.ID, err)
	}
	return t, nil
}

type sqliteTxn struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTxn) Set(ctx context.Context, task models.Task) error {
	if t.done {
		return ErrTxDone
	}
	fm, err := json.Marshal(task.Frontmatter)
	if err != nil {
		return fmt.Errorf("store: encode frontmatter of %s: %w", task.ID, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO `+Collection+` (id, title, frontmatter, content)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title       = excluded.title,
			frontmatter = excluded.frontmatter,
			content     = excluded.content
	`, task.ID, task.Title, string(fm), task.Content)
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", task.ID, err)
	}
	return nil
}

func (t *sqliteTxn) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (t *sqliteTxn) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
