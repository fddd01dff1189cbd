package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartfeed/internal/bus"
	"chartfeed/internal/model"
	"chartfeed/internal/session"
)

type call struct {
	op   string
	args []any
}

type fakeController struct {
	mu    sync.Mutex
	calls []call
	err   error
	snap  session.Snapshot
	fan   *bus.FanOut[session.Snapshot]
}

func newFakeController() *fakeController {
	return &fakeController{
		fan:  bus.New[session.Snapshot](),
		snap: session.Snapshot{Seq: 1, Status: model.StatusConnected, Watchlist: []string{"AAPL"}},
	}
}

func (f *fakeController) record(op string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op, args})
	return f.err
}

func (f *fakeController) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeController) lastCall() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeController) AddToWatchlist(s string) error      { return f.record("add", s) }
func (f *fakeController) RemoveFromWatchlist(s string) error { return f.record("remove", s) }
func (f *fakeController) SelectSymbol(_ context.Context, s string) error {
	return f.record("select", s)
}
func (f *fakeController) ClearChart(keep bool) { f.record("clear", keep) }
func (f *fakeController) ToggleIndicator(n string, e *bool) error {
	return f.record("toggle", n, e)
}
func (f *fakeController) ApplyPreset(n string) error { return f.record("preset", n) }
func (f *fakeController) SetChartTypes(t []model.ChartType) error {
	return f.record("chartTypes", t)
}
func (f *fakeController) SetVolatility(n []string)   { f.record("volatility", n) }
func (f *fakeController) SetCombinations(n []string) { f.record("combinations", n) }
func (f *fakeController) SetIndicatorParams(n string, p map[string]float64) error {
	return f.record("params", n, p)
}
func (f *fakeController) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}
func (f *fakeController) Watch(buffer int) (<-chan session.Snapshot, func()) {
	return f.fan.Subscribe(buffer)
}

func newTestServer(t *testing.T) (*Server, *fakeController, *httptest.Server) {
	t.Helper()
	ctl := newFakeController()
	srv := NewServer(ctl, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ctl, ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetSnapshot(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, []string{"AAPL"}, snap.Watchlist)
}

func TestRESTCommands(t *testing.T) {
	_, ctl, ts := newTestServer(t)
	f := false

	tests := []struct {
		method, path, body string
		want               call
	}{
		{http.MethodPost, "/api/watchlist/msft", "", call{"add", []any{"msft"}}},
		{http.MethodDelete, "/api/watchlist/AAPL", "", call{"remove", []any{"AAPL"}}},
		{http.MethodPost, "/api/select/TSLA", "", call{"select", []any{"TSLA"}}},
		{http.MethodPost, "/api/clear?keepSymbol=true", "", call{"clear", []any{true}}},
		{http.MethodPost, "/api/indicators/rsi?enabled=false", "", call{"toggle", []any{"rsi", &f}}},
		{http.MethodPost, "/api/indicators/rsi", "", call{"toggle", []any{"rsi", (*bool)(nil)}}},
		{http.MethodPost, "/api/presets/momentum", "", call{"preset", []any{"momentum"}}},
		{http.MethodPut, "/api/indicators/sma/params", `{"params":{"period":50}}`,
			call{"params", []any{"sma", map[string]float64{"period": 50}}}},
		{http.MethodPut, "/api/settings/chart-types", `{"chartTypes":["line"]}`,
			call{"chartTypes", []any{[]model.ChartType{model.ChartLine}}}},
		{http.MethodPut, "/api/settings/volatility", `{"names":["atr"]}`,
			call{"volatility", []any{[]string{"atr"}}}},
		{http.MethodPost, "/api/commands", `{"type":"set_combinations","names":["a"]}`,
			call{"combinations", []any{[]string{"a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
			assert.Equal(t, tt.want, ctl.lastCall())
		})
	}
}

func TestRESTErrors(t *testing.T) {
	_, ctl, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/indicators/rsi?enabled=maybe", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/commands", `{"type":"select"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "Symbol")

	resp = do(t, http.MethodPost, ts.URL+"/api/commands", `{"type":"explode"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/commands", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctl.setErr(fmt.Errorf("remove: %w", model.ErrNotFound))
	resp = do(t, http.MethodDelete, ts.URL+"/api/watchlist/ZZZ", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Unknown presets are ignored by the session, not rejected.
	ctl.setErr(nil)
	resp = do(t, http.MethodPost, ts.URL+"/api/presets/no-such-preset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, call{"preset", []any{"no-such-preset"}}, ctl.lastCall())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("x: %w", model.ErrNotFound), http.StatusNotFound},
		{&model.ConfigError{Field: "f", Err: model.ErrUnsupportedTimeframe}, http.StatusBadRequest},
		{fmt.Errorf("x: %w", model.ErrInvalidSymbol), http.StatusBadRequest},
		{fmt.Errorf("x: %w", model.ErrUnknownIndicator), http.StatusBadRequest},
		{&model.CredentialError{UserID: "u"}, http.StatusServiceUnavailable},
		{&model.NetworkError{Op: "fetch bars", Err: fmt.Errorf("timeout")}, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestCommandMetricsHook(t *testing.T) {
	srv, ctl, _ := newTestServer(t)
	var got []string
	srv.OnCommand = func(cmd, outcome string) { got = append(got, cmd+":"+outcome) }

	require.NoError(t, srv.Execute(context.Background(), Command{Type: CmdApplyPreset, Name: "trend"}))
	ctl.setErr(fmt.Errorf("x: %w", model.ErrUnknownIndicator))
	require.Error(t, srv.Execute(context.Background(), Command{Type: CmdToggleIndicator, Name: "nope"}))

	assert.Equal(t, []string{"apply_preset:ok", "toggle_indicator:error"}, got)
	assert.Equal(t, 2, srv.Latency.Count())
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWebSocketStream(t *testing.T) {
	srv, ctl, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, "snapshot", env.Type)
	assert.Equal(t, uint64(1), env.Seq)
	require.NotNil(t, env.Data)
	assert.Equal(t, []string{"AAPL"}, env.Data.Watchlist)
	require.Eventually(t, func() bool { return srv.Hub().Count() == 1 }, time.Second, 10*time.Millisecond)

	ctl.fan.Publish(session.Snapshot{Seq: 7, Selected: "MSFT"})
	env = readEnvelope(t, conn)
	assert.Equal(t, "snapshot", env.Type)
	assert.Equal(t, uint64(7), env.Seq)
	assert.Equal(t, "MSFT", env.Data.Selected)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "command",
		"reqId":   "r1",
		"command": map[string]any{"type": "add_watchlist", "symbol": "NVDA"},
	}))
	env = readEnvelope(t, conn)
	assert.Equal(t, "ack", env.Type)
	assert.Equal(t, "r1", env.ReqID)
	require.NotNil(t, env.OK)
	assert.True(t, *env.OK)
	assert.Equal(t, call{"add", []any{"NVDA"}}, ctl.lastCall())

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "command",
		"reqId":   "r2",
		"command": map[string]any{"type": "select"},
	}))
	env = readEnvelope(t, conn)
	assert.Equal(t, "ack", env.Type)
	assert.False(t, *env.OK)
	assert.NotEmpty(t, env.Error)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "ping": 42}))
	env = readEnvelope(t, conn)
	assert.Equal(t, "pong", env.Type)
	assert.Equal(t, int64(42), env.Ping)

	conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Count() == 0 }, time.Second, 10*time.Millisecond)
}
