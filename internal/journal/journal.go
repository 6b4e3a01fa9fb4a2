// Package journal keeps an append-only SQLite audit log of game events.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lox/throne/internal/throne"
)

const queueSize = 256

// Journal records game events. It subscribes to the game and writes events
// from its own goroutine so that operations never wait on disk I/O.
//
// Every Open starts a new session. Sequence numbers restart when a game is
// restored from an older snapshot, so events are ordered by session first.
type Journal struct {
	db      *sql.DB
	queue   chan throne.EventRecord
	done    chan struct{}
	logger  *log.Logger
	session string
	epoch   int64

	// mu guards closed. Senders hold it shared so that Run can tell when
	// nothing more will reach the queue.
	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the journal database at path and runs
// migrations. Use ":memory:" for a throwaway journal.
func Open(path string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	j := &Journal{
		db:     db,
		queue:  make(chan throne.EventRecord, queueSize),
		done:   make(chan struct{}),
		logger: logger.WithPrefix("journal"),
	}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.startSession(); err != nil {
		_ = db.Close()
		return nil, err
	}
	j.logger = j.logger.With("session", j.session)
	return j, nil
}

func (j *Journal) startSession() error {
	j.session = uuid.NewString()
	res, err := j.db.Exec(`INSERT INTO sessions (session_id) VALUES (?)`, j.session)
	if err != nil {
		return fmt.Errorf("failed to start journal session: %w", err)
	}
	if j.epoch, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to start journal session: %w", err)
	}
	return nil
}

// Session returns the identifier of the session events are recorded under.
func (j *Journal) Session() string {
	return j.session
}

func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			epoch INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			epoch INTEGER NOT NULL REFERENCES sessions(epoch),
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			round INTEGER NOT NULL,
			identity TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			pot TEXT NOT NULL,
			claim_fee TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_seq ON events(epoch, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_events_round ON events(round, epoch, seq)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.Exec(migration); err != nil {
			return fmt.Errorf("journal migration failed: %w", err)
		}
	}
	return nil
}

// OnEvent implements throne.EventSubscriber. Once Run has returned, events
// are written synchronously.
func (j *Journal) OnEvent(event throne.GameEvent) {
	rec := event.Record()

	j.mu.RLock()
	defer j.mu.RUnlock()
	if !j.closed {
		select {
		case j.queue <- rec:
			return
		case <-j.done:
		}
	}
	j.write(rec)
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still queued.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-j.queue:
			j.write(rec)
		case <-ctx.Done():
			// Unblock senders waiting on a full queue, then wait for every
			// sender still inside OnEvent before the final drain.
			close(j.done)
			j.mu.Lock()
			j.closed = true
			j.mu.Unlock()
			j.flush()
			return nil
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case rec := <-j.queue:
			j.write(rec)
		default:
			return
		}
	}
}

// write records an event. Writes are not tied to the Run context so that
// events queued before shutdown still land.
func (j *Journal) write(rec throne.EventRecord) {
	if err := j.Append(context.Background(), rec); err != nil {
		j.logger.Error("Failed to record event", "error", err, "seq", rec.Seq, "type", rec.Type)
	}
}

// Append writes one record synchronously.
func (j *Journal) Append(ctx context.Context, rec throne.EventRecord) error {
	// Amounts are stored as decimal text: SQLite integers are signed 64-bit.
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, epoch, seq, type, round, identity, amount, pot, claim_fee, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		j.epoch,
		int64(rec.Seq),
		string(rec.Type),
		int64(rec.Round),
		string(rec.Identity),
		formatAmount(rec.Amount),
		formatAmount(rec.Pot),
		formatAmount(rec.ClaimFee),
		rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Query selects journal entries.
type Query struct {
	Round uint64 // zero selects every round
	Limit int    // zero means no limit
}

// Events returns recorded events in commit order: by session, then by
// sequence number within a session.
func (j *Journal) Events(ctx context.Context, q Query) ([]throne.EventRecord, error) {
	query := `SELECT seq, type, round, identity, amount, pot, claim_fee, occurred_at FROM events`
	var args []any
	if q.Round > 0 {
		query += ` WHERE round = ?`
		args = append(args, int64(q.Round))
	}
	query += ` ORDER BY epoch, seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []throne.EventRecord
	for rows.Next() {
		var (
			seq, round            int64
			typ, identity         string
			amount, pot, claimFee string
			occurredAt            time.Time
		)
		if err := rows.Scan(&seq, &typ, &round, &identity, &amount, &pot, &claimFee, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec := throne.EventRecord{
			Seq:       uint64(seq),
			Type:      throne.EventType(typ),
			Round:     uint64(round),
			Identity:  throne.Identity(identity),
			Timestamp: occurredAt,
		}
		if rec.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if rec.Pot, err = parseAmount(pot); err != nil {
			return nil, err
		}
		if rec.ClaimFee, err = parseAmount(claimFee); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LastSeq returns the highest sequence number recorded in any session, or
// zero for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := j.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return uint64(seq), nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
