package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"chartfeed/internal/model"
)

// LoadWatchlist returns the persisted watchlist in position order.
func (s *Store) LoadWatchlist(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM watchlist ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query watchlist: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("sqlite scan watchlist: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// LoadSettings returns persisted settings keyed by symbol. Rows that no
// longer decode are skipped and logged.
func (s *Store) LoadSettings(ctx context.Context) (map[string]model.SymbolSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, data FROM symbol_settings`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbol_settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.SymbolSettings)
	for rows.Next() {
		var sym, data string
		if err := rows.Scan(&sym, &data); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol_settings: %w", err)
		}
		var st model.SymbolSettings
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			s.log.Warn("skipping undecodable settings row", "symbol", sym, "error", err)
			continue
		}
		out[sym] = st
	}
	return out, rows.Err()
}

// Keys implements model.CredentialProvider. A user without a row yields
// nil credentials and a nil error.
func (s *Store) Keys(ctx context.Context, userID string) (*model.Credentials, error) {
	var c model.Credentials
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key, api_secret FROM credentials WHERE user_id = ?`, userID,
	).Scan(&c.APIKey, &c.APISecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query credentials: %w", err)
	}
	return &c, nil
}
