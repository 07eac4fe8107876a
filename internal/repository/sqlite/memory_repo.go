package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/memory"
)

const memorySchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identity   TEXT NOT NULL,
	role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	message    TEXT NOT NULL,
	action     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_identity ON conversations (identity, id);
CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identity   TEXT NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS notes_identity ON notes (identity, id);
`

// MemoryRepo: история диалога и заметки, у каждого пользователя свои.
type MemoryRepo struct {
	db  *sql.DB
	now func() time.Time
}

var _ memory.Store = (*MemoryRepo)(nil)

func OpenMemoryRepo(path string) (*MemoryRepo, error) {
	db, err := openDB(path, memorySchema)
	if err != nil {
		return nil, err
	}
	return &MemoryRepo{db: db, now: time.Now}, nil
}

func (r *MemoryRepo) Close() error { return r.db.Close() }

func (r *MemoryRepo) Append(ctx context.Context, id domain.Identity, m memory.Message) error {
	at := m.At
	if at.IsZero() {
		at = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (identity, role, message, action, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(id), string(m.Role), memory.Clip(m.Text, memory.MaxMessageRunes), m.Action,
		at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: append message: %w", err)
	}
	return nil
}

// Recent: последние n реплик в хронологическом порядке.
func (r *MemoryRepo) Recent(ctx context.Context, id domain.Identity, n int) ([]memory.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT role, message, action, created_at FROM (
		SELECT id, role, message, action, created_at FROM conversations
		WHERE identity = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, string(id), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []memory.Message
	for rows.Next() {
		var (
			m        memory.Message
			role, ts string
		)
		if err := rows.Scan(&role, &m.Text, &m.Action, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan history: %w", err)
		}
		m.Role = memory.Role(role)
		if m.At, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear удаляет историю пользователя и возвращает число удаленных реплик.
// Заметки остаются.
func (r *MemoryRepo) Clear(ctx context.Context, id domain.Identity) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE identity = ?`, string(id))
	if err != nil {
		return 0, fmt.Errorf("sqlite: clear history: %w", err)
	}
	return res.RowsAffected()
}

func (r *MemoryRepo) SaveNote(ctx context.Context, id domain.Identity, title, content string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (identity, title, content, created_at) VALUES (?, ?, ?, ?)`,
		string(id), title, content, r.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("sqlite: save note: %w", err)
	}
	return res.LastInsertId()
}

// Notes: последние n заметок, новые первыми.
func (r *MemoryRepo) Notes(ctx context.Context, id domain.Identity, n int) ([]memory.Note, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, content, created_at FROM notes
		WHERE identity = ? ORDER BY id DESC LIMIT ?`, string(id), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []memory.Note
	for rows.Next() {
		var (
			note memory.Note
			ts   string
		)
		if err := rows.Scan(&note.ID, &note.Title, &note.Content, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan note: %w", err)
		}
		if note.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	return out, rows.Err()
}

func parseTime(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(ts))
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", ts, err)
	}
	return t, nil
}
