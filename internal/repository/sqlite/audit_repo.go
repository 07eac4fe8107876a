package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Драйвер SQLite без cgo

	"github.com/xela07ax/remote-command-gateway/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq            INTEGER PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	timestamp      TEXT NOT NULL,
	identity       TEXT NOT NULL,
	message_id     TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL DEFAULT '',
	intent_summary TEXT NOT NULL DEFAULT '',
	decision       TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	prev_hash      TEXT NOT NULL,
	hash           TEXT NOT NULL
);
CREATE TRIGGER IF NOT EXISTS audit_records_no_update
BEFORE UPDATE ON audit_records
BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS audit_records_no_delete
BEFORE DELETE ON audit_records
BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END;
`

const selectColumns = `seq, id, timestamp, identity, message_id, action, intent_summary,
	decision, outcome, reason, duration_ms, prev_hash, hash`

// AuditRepo: локальное хранилище журнала аудита (append-only таблица).
type AuditRepo struct {
	db *sql.DB
}

// OpenAuditRepo открывает базу по пути (":memory:" для тестов), включает WAL
// и создает схему.
func OpenAuditRepo(path string) (*AuditRepo, error) {
	db, err := openDB(path, schema)
	if err != nil {
		return nil, err
	}
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Close() error { return r.db.Close() }

func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_records (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.Seq, rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Identity,
			rec.MessageID, rec.Action, rec.IntentSummary, string(rec.Decision), string(rec.Outcome),
			rec.Reason, rec.DurationMs, rec.PrevHash, rec.Hash,
		); err != nil {
			return fmt.Errorf("sqlite: insert seq %d: %w", rec.Seq, err)
		}
	}
	return tx.Commit()
}

func (r *AuditRepo) Last(ctx context.Context) (audit.Record, bool, error) {
	recs, err := r.query(ctx, `SELECT `+selectColumns+` FROM audit_records ORDER BY seq DESC LIMIT 1`)
	if err != nil || len(recs) == 0 {
		return audit.Record{}, false, err
	}
	return recs[0], true, nil
}

// Tail: последние n записей в порядке возрастания seq.
func (r *AuditRepo) Tail(ctx context.Context, n int) ([]audit.Record, error) {
	return r.query(ctx, `SELECT * FROM (
		SELECT `+selectColumns+` FROM audit_records ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`, n)
}

func (r *AuditRepo) ReadAll(ctx context.Context) ([]audit.Record, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM audit_records ORDER BY seq ASC`)
}

// Stats: разрешенные действия пользователя, сгруппированные по action.
func (r *AuditRepo) Stats(ctx context.Context, identity string, top int) (audit.Stats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT action, COUNT(*),
		SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END)
		FROM audit_records WHERE identity = ? AND decision = 'allowed' AND action <> ''
		GROUP BY action`, identity)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("sqlite: query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []audit.ActionCount
	for rows.Next() {
		var c audit.ActionCount
		if err := rows.Scan(&c.Action, &c.Count, &c.Succeeded); err != nil {
			return audit.Stats{}, fmt.Errorf("sqlite: scan stats: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return audit.Stats{}, fmt.Errorf("sqlite: read stats: %w", err)
	}
	return audit.SummarizeStats(counts, top), nil
}

func (r *AuditRepo) query(ctx context.Context, q string, args ...any) ([]audit.Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Record
	for rows.Next() {
		var (
			rec      audit.Record
			ts       string
			decision string
			outcome  string
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &ts, &rec.Identity, &rec.MessageID, &rec.Action,
			&rec.IntentSummary, &decision, &outcome, &rec.Reason, &rec.DurationMs, &rec.PrevHash, &rec.Hash); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, strings.TrimSpace(ts))
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse timestamp of seq %d: %w", rec.Seq, err)
		}
		rec.Decision, rec.Outcome = audit.Decision(decision), audit.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
