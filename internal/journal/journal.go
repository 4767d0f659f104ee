// SPDX-License-Identifier: AGPL-3.0-or-later

// Package journal persists the ordered event stream of every plan execution
// in a size-bounded SQLite database. The journal is append-only; when the
// byte quota is reached the oldest entries are evicted first.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toolup-org/toolup/internal/paths"
)

const (
	sqliteDriverName = "sqlite"

	defaultBusyTimeout = 5 * time.Second
	defaultMaxBytes    = 64 << 20 // 64 MiB
)

// ErrQuotaExceeded indicates a single payload larger than the whole journal
// budget.
var ErrQuotaExceeded = errors.New("journal: quota exceeded")

// Entry is one persisted plan event.
type Entry struct {
	Seq       int64
	PlanID    string
	EventType string
	Payload   []byte
	Timestamp time.Time
}

// Options controls how the journal database is opened.
type Options struct {
	// Dir is the directory holding the database file. Empty means the
	// toolup journal directory.
	Dir string
	// MaxBytes bounds the total payload footprint. Zero uses the default.
	MaxBytes int64
}

// Journal wraps the SQLite connection.
type Journal struct {
	db       *sql.DB
	maxBytes int64
	nowFn    func() time.Time
}

// Open initialises the journal database with its pragmas and schema.
func Open(ctx context.Context, opts Options) (*Journal, error) {
	dir := opts.Dir
	if dir == "" {
		dir = paths.JournalDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure journal dir: %w", err)
	}

	dbPath := filepath.Join(dir, "toolup.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", filepath.ToSlash(dbPath), int(defaultBusyTimeout/time.Millisecond))

	conn, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	statements := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		`CREATE TABLE IF NOT EXISTS plan_journal (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			ts INTEGER NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_plan_journal_plan_ts ON plan_journal(plan_id, ts);",
	}
	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("initialise journal: %w", err)
		}
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Journal{
		db:       conn,
		maxBytes: maxBytes,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close shuts down the underlying connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores one event. Eviction of the oldest entries and the insert
// happen in a single transaction so the quota holds at every commit point.
func (j *Journal) Append(ctx context.Context, planID, eventType string, payload []byte, ts time.Time) (Entry, error) {
	var entry Entry
	if j == nil {
		return entry, nil
	}
	if planID == "" {
		return entry, fmt.Errorf("append journal: plan id required")
	}
	if len(payload) == 0 {
		return entry, fmt.Errorf("append journal: payload required")
	}
	payloadBytes := int64(len(payload))
	if payloadBytes > j.maxBytes {
		return entry, ErrQuotaExceeded
	}

	now := ts
	if now.IsZero() {
		now = j.nowFn()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return entry, fmt.Errorf("begin journal tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var existingBytes int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(payload)), 0) FROM plan_journal`).Scan(&existingBytes); err != nil {
		return entry, fmt.Errorf("journal size lookup: %w", err)
	}

	for existingBytes+payloadBytes > j.maxBytes {
		var seq, size int64
		err := tx.QueryRowContext(ctx, `SELECT seq, length(payload) FROM plan_journal ORDER BY seq ASC LIMIT 1`).Scan(&seq, &size)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return entry, fmt.Errorf("journal eviction lookup: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM plan_journal WHERE seq = ?`, seq); err != nil {
			return entry, fmt.Errorf("journal eviction delete seq=%d: %w", seq, err)
		}
		existingBytes -= size
		if existingBytes < 0 {
			existingBytes = 0
		}
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO plan_journal (plan_id, event_type, payload, ts)
VALUES (?, ?, ?, ?)
`, planID, eventType, payload, now.UnixMilli())
	if err != nil {
		return entry, fmt.Errorf("journal insert: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("journal last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return entry, fmt.Errorf("journal commit: %w", err)
	}
	committed = true

	return Entry{
		Seq:       seq,
		PlanID:    planID,
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		Timestamp: now,
	}, nil
}

// ForEach streams events for a plan strictly after the given sequence in
// ascending order. Iteration halts when the callback returns an error.
func (j *Journal) ForEach(ctx context.Context, planID string, afterSeq int64, fn func(Entry) error) error {
	if j == nil || fn == nil {
		return nil
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT seq, event_type, payload, ts
FROM plan_journal
WHERE plan_id = ? AND seq > ?
ORDER BY seq ASC
`, planID, afterSeq)
	if err != nil {
		return fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq, tsMillis int64
		var eventType string
		var payload []byte
		if err := rows.Scan(&seq, &eventType, &payload, &tsMillis); err != nil {
			return fmt.Errorf("journal scan: %w", err)
		}
		entry := Entry{
			Seq:       seq,
			PlanID:    planID,
			EventType: eventType,
			Payload:   append([]byte(nil), payload...),
			Timestamp: time.UnixMilli(tsMillis).UTC(),
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("journal rows: %w", err)
	}
	return nil
}
