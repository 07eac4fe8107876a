package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/remote-command-gateway/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq            BIGINT PRIMARY KEY,
	id             UUID NOT NULL UNIQUE,
	timestamp      TIMESTAMPTZ NOT NULL,
	identity       TEXT NOT NULL,
	message_id     TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL DEFAULT '',
	intent_summary TEXT NOT NULL DEFAULT '',
	decision       TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	prev_hash      TEXT NOT NULL,
	hash           TEXT NOT NULL
)`

const selectColumns = `seq, id, timestamp, identity, message_id, action, intent_summary,
	decision, outcome, reason, duration_ms, prev_hash, hash`

// Количество колонок в таблице audit_records
const numFields = 13

type AuditRepo struct {
	db *sql.DB
}

// OpenAuditRepo подключается к Postgres, проверяет соединение и создает таблицу.
func OpenAuditRepo(ctx context.Context, connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return NewAuditRepo(db), nil
}

// NewAuditRepo оборачивает уже открытое соединение, схема должна существовать.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

func (r *AuditRepo) Close() error { return r.db.Close() }

func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(records)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		if i > 0 {
			placeholders.WriteByte(',')
		}
		p := i * numFields
		placeholders.WriteByte('(')
		for j := 1; j <= numFields; j++ {
			if j > 1 {
				placeholders.WriteByte(',')
			}
			fmt.Fprintf(&placeholders, "$%d", p+j)
		}
		placeholders.WriteByte(')')

		vals = append(vals,
			rec.Seq, rec.ID, rec.Timestamp.UTC(), rec.Identity, rec.MessageID, rec.Action,
			rec.IntentSummary, string(rec.Decision), string(rec.Outcome), rec.Reason,
			rec.DurationMs, rec.PrevHash, rec.Hash,
		)
	}

	query := fmt.Sprintf("INSERT INTO audit_records (%s) VALUES %s", selectColumns, placeholders.String())
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert audit batch: %w", err)
	}
	return nil
}

func (r *AuditRepo) Last(ctx context.Context) (audit.Record, bool, error) {
	recs, err := r.query(ctx, `SELECT `+selectColumns+` FROM audit_records ORDER BY seq DESC LIMIT 1`)
	if err != nil || len(recs) == 0 {
		return audit.Record{}, false, err
	}
	return recs[0], true, nil
}

func (r *AuditRepo) Tail(ctx context.Context, n int) ([]audit.Record, error) {
	return r.query(ctx, `SELECT * FROM (
		SELECT `+selectColumns+` FROM audit_records ORDER BY seq DESC LIMIT $1
	) t ORDER BY seq ASC`, n)
}

func (r *AuditRepo) ReadAll(ctx context.Context) ([]audit.Record, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM audit_records ORDER BY seq ASC`)
}

func (r *AuditRepo) Stats(ctx context.Context, identity string, top int) (audit.Stats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT action, COUNT(*),
		SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END)
		FROM audit_records WHERE identity = $1 AND decision = 'allowed' AND action <> ''
		GROUP BY action`, identity)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("postgres: query stats: %w", err)
	}
	defer rows.Close()

	var counts []audit.ActionCount
	for rows.Next() {
		var c audit.ActionCount
		if err := rows.Scan(&c.Action, &c.Count, &c.Succeeded); err != nil {
			return audit.Stats{}, fmt.Errorf("postgres: scan stats: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return audit.Stats{}, fmt.Errorf("postgres: read stats: %w", err)
	}
	return audit.SummarizeStats(counts, top), nil
}

func (r *AuditRepo) query(ctx context.Context, q string, args ...any) ([]audit.Record, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec      audit.Record
			decision string
			outcome  string
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Timestamp, &rec.Identity, &rec.MessageID, &rec.Action,
			&rec.IntentSummary, &decision, &outcome, &rec.Reason, &rec.DurationMs, &rec.PrevHash, &rec.Hash); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Decision, rec.Outcome = audit.Decision(decision), audit.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
