// Package sqlite persists session state: the watchlist, per-symbol chart
// settings and provider credentials.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"chartfeed/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/chartfeed.db"
}

// Store is a SQLite-backed model.StateStore and model.CredentialProvider.
// Writes are queued by Persist and committed by a single Run goroutine in
// batched transactions. Pending changes are keyed (the watchlist, or one
// symbol's settings) and a newer change replaces an uncommitted older one.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]model.StateChange
	order   []string
	wake    chan struct{}

	// Metrics hooks (optional)
	OnCommit   func(n int, d time.Duration)
	OnCoalesce func()
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "sqlite"))
	log.Info("opened database", slog.String("path", cfg.DBPath))
	return &Store{
		db:      db,
		log:     log,
		pending: make(map[string]model.StateChange),
		wake:    make(chan struct{}, 1),
	}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS watchlist (
			position INTEGER NOT NULL,
			symbol   TEXT    NOT NULL PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS symbol_settings (
			symbol     TEXT    NOT NULL PRIMARY KEY,
			data       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credentials (
			user_id    TEXT NOT NULL PRIMARY KEY,
			api_key    TEXT NOT NULL,
			api_secret TEXT NOT NULL
		);
	`)
	return err
}

func changeKey(c model.StateChange) string {
	if c.Kind == model.ChangeWatchlist {
		return "watchlist"
	}
	return "settings:" + c.Symbol
}

// Persist queues a change for the writer goroutine. It never blocks and
// never drops: an uncommitted change for the same key is superseded.
func (s *Store) Persist(change model.StateChange) {
	key := changeKey(change)

	s.mu.Lock()
	_, superseded := s.pending[key]
	if !superseded {
		s.order = append(s.order, key)
	}
	s.pending[key] = change
	full := len(s.order) >= defaultBatchSize
	s.mu.Unlock()

	if superseded && s.OnCoalesce != nil {
		s.OnCoalesce()
	}
	if full {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// take removes and returns every pending change in first-queued order.
func (s *Store) take() []model.StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	batch := make([]model.StateChange, 0, len(s.order))
	for _, key := range s.order {
		batch = append(batch, s.pending[key])
		delete(s.pending, key)
	}
	s.order = s.order[:0]
	return batch
}

// requeue puts back changes from a failed batch unless a newer change for
// the same key arrived meanwhile.
func (s *Store) requeue(batch []model.StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range batch {
		key := changeKey(c)
		if _, ok := s.pending[key]; ok {
			continue
		}
		s.pending[key] = c
		s.order = append(s.order, key)
	}
}

// Pending reports how many keyed changes are waiting for commit.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Run commits pending changes in batched transactions.
// Flushes once defaultBatchSize keys are pending OR every flushDelay,
// whichever first. Blocks until ctx is cancelled; pending changes are
// committed before return. A failed batch is retried on the next flush.
func (s *Store) Run(ctx context.Context) {
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		batch := s.take()
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.applyBatch(batch); err != nil {
			s.log.Error("batch commit failed", slog.Int("changes", len(batch)), slog.Any("error", err))
			s.requeue(batch)
			return
		}
		s.log.Debug("committed changes", slog.Int("changes", len(batch)), slog.Duration("took", time.Since(start)))
		if s.OnCommit != nil {
			s.OnCommit(len(batch), time.Since(start))
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-s.wake:
			flush()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(defaultFlushDelay)

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// applyBatch applies changes in order in a single transaction.
func (s *Store) applyBatch(changes []model.StateChange) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	for _, c := range changes {
		if err := applyChange(tx, c); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func applyChange(tx *sql.Tx, c model.StateChange) error {
	switch c.Kind {
	case model.ChangeWatchlist:
		if _, err := tx.Exec(`DELETE FROM watchlist`); err != nil {
			return err
		}
		for i, sym := range c.Watchlist {
			if _, err := tx.Exec(`INSERT OR REPLACE INTO watchlist (position, symbol) VALUES (?, ?)`, i, sym); err != nil {
				return err
			}
		}
	case model.ChangeSettings:
		data, err := json.Marshal(c.Settings)
		if err != nil {
			return fmt.Errorf("marshal settings %s: %w", c.Symbol, err)
		}
		_, err = tx.Exec(`
			INSERT INTO symbol_settings (symbol, data, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		`, c.Symbol, string(data), time.Now().Unix())
		if err != nil {
			return err
		}
	case model.ChangeSettingsDeleted:
		if _, err := tx.Exec(`DELETE FROM symbol_settings WHERE symbol = ?`, c.Symbol); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown change kind %d", c.Kind)
	}
	return nil
}

// SaveCredentials stores provider keys for a user.
func (s *Store) SaveCredentials(ctx context.Context, userID string, creds model.Credentials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, api_key, api_secret) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET api_key = excluded.api_key, api_secret = excluded.api_secret
	`, userID, creds.APIKey, creds.APISecret)
	if err != nil {
		return fmt.Errorf("sqlite save credentials: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
