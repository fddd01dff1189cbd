package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartfeed/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// runUntilDrained runs the writer, lets fn queue changes and waits for the
// final flush.
func runUntilDrained(t *testing.T, s *Store, fn func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	fn()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not stop")
	}
}

func TestPersistAndLoad(t *testing.T) {
	s := openTestStore(t)
	aapl := model.SymbolSettings{
		ChartTypes:   []model.ChartType{model.ChartLine},
		Indicators:   []string{"volume", "rsi"},
		Params:       map[string]map[string]float64{"rsi": {"period": 7}},
		Volatility:   []string{},
		Combinations: []string{"x"},
	}

	runUntilDrained(t, s, func() {
		s.Persist(model.StateChange{Kind: model.ChangeWatchlist, Watchlist: []string{"MSFT", "AAPL"}})
		s.Persist(model.StateChange{Kind: model.ChangeSettings, Symbol: "AAPL", Settings: model.DefaultSymbolSettings()})
		s.Persist(model.StateChange{Kind: model.ChangeSettings, Symbol: "AAPL", Settings: aapl})
		s.Persist(model.StateChange{Kind: model.ChangeSettings, Symbol: "MSFT", Settings: model.DefaultSymbolSettings()})
		s.Persist(model.StateChange{Kind: model.ChangeWatchlist, Watchlist: []string{"AAPL", "TSLA", "MSFT"}})
		s.Persist(model.StateChange{Kind: model.ChangeSettingsDeleted, Symbol: "MSFT"})
	})

	ctx := context.Background()
	wl, err := s.LoadWatchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSLA", "MSFT"}, wl)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, aapl, settings["AAPL"])
}

func TestLoadFromEmptyDatabase(t *testing.T) {
	s := openTestStore(t)
	wl, err := s.LoadWatchlist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, wl)

	settings, err := s.LoadSettings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func TestCredentials(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	creds, err := s.Keys(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, creds)

	require.NoError(t, s.SaveCredentials(ctx, "u1", model.Credentials{APIKey: "k1", APISecret: "s1"}))
	require.NoError(t, s.SaveCredentials(ctx, "u1", model.Credentials{APIKey: "k2", APISecret: "s2"}))

	creds, err = s.Keys(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &model.Credentials{APIKey: "k2", APISecret: "s2"}, creds)
}

func TestPersistCoalescesPerKey(t *testing.T) {
	s := openTestStore(t)
	var coalesced int
	s.OnCoalesce = func() { coalesced++ }

	// Far more changes than a batch, across two keys, with no writer running.
	for i := 0; i < 3*defaultBatchSize; i++ {
		s.Persist(model.StateChange{Kind: model.ChangeWatchlist, Watchlist: []string{"AAPL", fmt.Sprintf("S%d", i)}})
		s.Persist(model.StateChange{Kind: model.ChangeSettingsDeleted, Symbol: "AAPL"})
	}
	last := model.DefaultSymbolSettings()
	last.Indicators = []string{"volume", "macd"}
	s.Persist(model.StateChange{Kind: model.ChangeSettings, Symbol: "AAPL", Settings: last})

	assert.Equal(t, 2, s.Pending())
	assert.Equal(t, 6*defaultBatchSize-1, coalesced)

	runUntilDrained(t, s, func() {})
	assert.Zero(t, s.Pending())

	ctx := context.Background()
	wl, err := s.LoadWatchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", fmt.Sprintf("S%d", 3*defaultBatchSize-1)}, wl)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, settings["AAPL"])
}

func TestFailedBatchIsRequeued(t *testing.T) {
	s := openTestStore(t)
	bad := model.StateChange{Kind: model.ChangeKind(99), Symbol: "X"}
	s.Persist(bad)

	batch := s.take()
	require.Len(t, batch, 1)
	require.Error(t, s.applyBatch(batch))
	s.requeue(batch)
	assert.Equal(t, 1, s.Pending())

	// a newer change for the key wins over the failed one
	s.take()
	s.Persist(model.StateChange{Kind: model.ChangeSettingsDeleted, Symbol: "X"})
	s.requeue(batch)
	got := s.take()
	require.Len(t, got, 1)
	assert.Equal(t, model.ChangeSettingsDeleted, got[0].Kind)
}
