package model

import (
	"context"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the session from concrete credential and
// persistence backends (config, SQLite).

// CredentialProvider looks up provider keys for a user.
// A nil result with a nil error means the user has no keys.
type CredentialProvider interface {
	Keys(ctx context.Context, userID string) (*Credentials, error)
}

// ChangeKind identifies what a StateChange persists.
type ChangeKind int

const (
	ChangeWatchlist ChangeKind = iota
	ChangeSettings
	ChangeSettingsDeleted
)

// StateChange is one unit of persisted session state.
type StateChange struct {
	Kind      ChangeKind
	Symbol    string
	Settings  SymbolSettings
	Watchlist []string
}

// StateStore loads persisted session state and accepts changes for
// asynchronous write-behind.
type StateStore interface {
	// LoadWatchlist returns the persisted watchlist in order.
	LoadWatchlist(ctx context.Context) ([]string, error)

	// LoadSettings returns persisted settings keyed by symbol.
	LoadSettings(ctx context.Context) (map[string]SymbolSettings, error)

	// Persist enqueues a change. Must not block the caller for I/O.
	Persist(change StateChange)
}
