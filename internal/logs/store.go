// Package logs persists broadcast events and channel log lines in a
// local sqlite database, serving logs.tail and channels.logs.
package logs

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultMaxEvents is the retention cap when the config carries none.
const DefaultMaxEvents = 10000

// pruneEvery bounds how often retention runs relative to inserts.
const pruneEvery = 256

// EventRow is one persisted broadcast event.
type EventRow struct {
	ID         int64           `json:"id"`
	Ts         int64           `json:"ts"`
	Name       string          `json:"name"`
	SessionKey string          `json:"sessionKey,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ChannelLogRow is one persisted channel log line.
type ChannelLogRow struct {
	ID      int64  `json:"id"`
	Ts      int64  `json:"ts"`
	Channel string `json:"channel"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Store is the history database. Safe for concurrent use; writes are
// serialized over a single connection.
type Store struct {
	db        *sql.DB
	maxEvents int

	writes chan func()
	done   chan struct{}
}

// Open opens (creating if needed) the history database at path and
// applies pending migrations. maxEvents <= 0 uses DefaultMaxEvents.
func Open(path string, maxEvents int) (*Store, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	if err := migrateUp(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	// Single shared connection: database/sql serializes writers instead
	// of them fighting over the sqlite write lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{
		db:        db,
		maxEvents: maxEvents,
		writes:    make(chan func(), 512),
		done:      make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

func migrateUp(path string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate log store: %w", err)
	}
	return nil
}

// Close drains pending writes and closes the database.
func (s *Store) Close() error {
	close(s.writes)
	<-s.done
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	n := 0
	for fn := range s.writes {
		fn()
		n++
		if n%pruneEvery == 0 {
			s.prune()
		}
	}
}

// enqueue hands a write to the background loop, shedding when the
// queue is full so broadcast never blocks on disk.
func (s *Store) enqueue(fn func()) {
	select {
	case s.writes <- fn:
	default:
		slog.Debug("logs.write_dropped")
	}
}

// AppendEvent records a broadcast event. Best-effort and asynchronous.
func (s *Store) AppendEvent(name, sessionKey string, payload interface{}) {
	ts := time.Now().UnixMilli()
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			slog.Warn("logs.event_marshal", "event", name, "error", err)
			raw = nil
		}
	}
	s.enqueue(func() {
		if _, err := s.db.Exec(
			"INSERT INTO events (ts, name, session_key, payload) VALUES (?, ?, ?, ?)",
			ts, name, sessionKey, string(raw),
		); err != nil {
			slog.Warn("logs.event_insert", "event", name, "error", err)
		}
	})
}

// AppendChannelLog records one channel adapter log line.
func (s *Store) AppendChannelLog(channel, level, message string) {
	ts := time.Now().UnixMilli()
	if level == "" {
		level = "info"
	}
	s.enqueue(func() {
		if _, err := s.db.Exec(
			"INSERT INTO channel_logs (ts, channel, level, message) VALUES (?, ?, ?, ?)",
			ts, channel, level, message,
		); err != nil {
			slog.Warn("logs.channel_insert", "channel", channel, "error", err)
		}
	})
}

// Flush blocks until writes enqueued before the call have been
// applied.
func (s *Store) Flush() {
	done := make(chan struct{})
	s.writes <- func() { close(done) }
	<-done
}

// TailParams filter a Tail query.
type TailParams struct {
	Limit   int    // max rows (default 100, cap 1000)
	Name    string // exact event name filter
	AfterID int64  // return rows with id > AfterID (cursor)
}

// Tail returns the most recent events matching params, oldest first.
func (s *Store) Tail(params TailParams) ([]EventRow, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := "SELECT id, ts, name, session_key, payload FROM events WHERE id > ?"
	args := []interface{}{params.AfterID}
	if params.Name != "" {
		query += " AND name = ?"
		args = append(args, params.Name)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		var payload string
		if err := rows.Scan(&r.ID, &r.Ts, &r.Name, &r.SessionKey, &payload); err != nil {
			return nil, err
		}
		if payload != "" {
			r.Payload = json.RawMessage(payload)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query walked newest-first for the limit; present oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ChannelLogs returns the most recent log lines for one channel,
// oldest first.
func (s *Store) ChannelLogs(channel string, limit int) ([]ChannelLogRow, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.Query(
		"SELECT id, ts, channel, level, message FROM channel_logs WHERE channel = ? ORDER BY id DESC LIMIT ?",
		channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query channel logs: %w", err)
	}
	defer rows.Close()

	var out []ChannelLogRow
	for rows.Next() {
		var r ChannelLogRow
		if err := rows.Scan(&r.ID, &r.Ts, &r.Channel, &r.Level, &r.Message); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// prune enforces the retention cap on both tables.
func (s *Store) prune() {
	for _, table := range []string{"events", "channel_logs"} {
		_, err := s.db.Exec(fmt.Sprintf(
			"DELETE FROM %s WHERE id <= (SELECT COALESCE(MAX(id), 0) - ? FROM %s)", table, table,
		), s.maxEvents)
		if err != nil {
			slog.Warn("logs.prune", "table", table, "error", err)
		}
	}
}
