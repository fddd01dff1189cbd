package gateway

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"chartfeed/internal/logger"
	"chartfeed/internal/model"
	"chartfeed/internal/session"
)

// Stats is the /api/stats response.
type Stats struct {
	Clients      int     `json:"clients"`
	Goroutines   int     `json:"goroutines"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	GCRuns       uint32  `json:"gc_runs"`
	UptimeSec    int64   `json:"uptime_sec"`
	Commands     int     `json:"commands_sampled"`
	CommandP50Ms float64 `json:"command_p50_ms"`
	CommandP95Ms float64 `json:"command_p95_ms"`
	CommandP99Ms float64 `json:"command_p99_ms"`
	TS           string  `json:"ts"`
}

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// runCommand executes cmd and answers with the resulting snapshot.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd Command) {
	traceID := logger.GenerateTraceID(cmd.Type, time.Now())
	ctx := logger.WithTraceID(r.Context(), traceID)
	w.Header().Set("X-Trace-Id", traceID)

	if err := s.Execute(ctx, cmd); err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: err.Error(), TraceID: traceID})
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, session.Presets())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	p50, p95, p99 := s.Latency.Percentiles()
	writeJSON(w, http.StatusOK, Stats{
		Clients:      s.hub.Count(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(mem.HeapAlloc) / (1024 * 1024),
		GCRuns:       mem.NumGC,
		UptimeSec:    int64(time.Since(s.started).Seconds()),
		Commands:     s.Latency.Count(),
		CommandP50Ms: ms(p50),
		CommandP95Ms: ms(p95),
		CommandP99Ms: ms(p99),
		TS:           time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

func (s *Server) handleCommandBody(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	s.runCommand(w, r, cmd)
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, Command{Type: CmdAddWatchlist, Symbol: mux.Vars(r)["symbol"]})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, Command{Type: CmdRemoveWatchlist, Symbol: mux.Vars(r)["symbol"]})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, Command{Type: CmdSelect, Symbol: mux.Vars(r)["symbol"]})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	keep, ok := boolQuery(w, r, "keepSymbol")
	if !ok {
		return
	}
	s.runCommand(w, r, Command{Type: CmdClear, KeepSymbol: keep != nil && *keep})
}

// handleToggle flips an indicator; ?enabled= forces a state.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	enabled, ok := boolQuery(w, r, "enabled")
	if !ok {
		return
	}
	s.runCommand(w, r, Command{Type: CmdToggleIndicator, Name: mux.Vars(r)["name"], Enabled: enabled})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Params map[string]float64 `json:"params"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.runCommand(w, r, Command{Type: CmdSetParams, Name: mux.Vars(r)["name"], Params: body.Params})
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, Command{Type: CmdApplyPreset, Name: mux.Vars(r)["name"]})
}

func (s *Server) handleChartTypes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChartTypes []string `json:"chartTypes"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.runCommand(w, r, Command{Type: CmdSetChartTypes, ChartTypes: body.ChartTypes})
}

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Names []string `json:"names"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.runCommand(w, r, Command{Type: CmdSetVolatility, Names: body.Names})
}

func (s *Server) handleCombinations(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Names []string `json:"names"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.runCommand(w, r, Command{Type: CmdSetCombinations, Names: body.Names})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// boolQuery parses an optional boolean query parameter. A nil result means
// the parameter was absent.
func boolQuery(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		cerr := &model.ConfigError{Field: key, Err: err}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: cerr.Error()})
		return nil, false
	}
	return &v, true
}
