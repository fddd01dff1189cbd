// Package gateway serves a chart session to browser clients: a websocket
// snapshot stream that also accepts commands, and a REST API.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"chartfeed/internal/model"
	"chartfeed/internal/session"
)

// Controller is the session surface the gateway drives.
type Controller interface {
	AddToWatchlist(symbol string) error
	RemoveFromWatchlist(symbol string) error
	SelectSymbol(ctx context.Context, symbol string) error
	ClearChart(keepSymbol bool)
	ToggleIndicator(name string, enabled *bool) error
	ApplyPreset(name string) error
	SetChartTypes(types []model.ChartType) error
	SetVolatility(names []string)
	SetCombinations(names []string)
	SetIndicatorParams(name string, params map[string]float64) error
	Snapshot() session.Snapshot
	Watch(buffer int) (<-chan session.Snapshot, func())
}

// Server owns the HTTP routes and the websocket hub.
type Server struct {
	ctl     Controller
	hub     *Hub
	log     *slog.Logger
	started time.Time

	// Latency tracks command execution time.
	Latency *LatencyTracker

	// Metrics hooks (optional)
	OnCommand func(command, outcome string)
	OnClients func(n int)
}

// NewServer creates a gateway for ctl.
func NewServer(ctl Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		ctl:     ctl,
		log:     log.With(slog.String("component", "gateway")),
		started: time.Now(),
		Latency: NewLatencyTracker(4096),
	}
	s.hub = newHub(s)
	return s
}

// Hub returns the websocket client registry.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/presets", s.handlePresets).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/commands", s.handleCommandBody).Methods(http.MethodPost)

	api.HandleFunc("/watchlist/{symbol}", s.handleWatchlistAdd).Methods(http.MethodPost)
	api.HandleFunc("/watchlist/{symbol}", s.handleWatchlistRemove).Methods(http.MethodDelete)
	api.HandleFunc("/select/{symbol}", s.handleSelect).Methods(http.MethodPost)
	api.HandleFunc("/clear", s.handleClear).Methods(http.MethodPost)
	api.HandleFunc("/indicators/{name}", s.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/indicators/{name}/params", s.handleParams).Methods(http.MethodPut)
	api.HandleFunc("/presets/{name}", s.handlePreset).Methods(http.MethodPost)
	api.HandleFunc("/settings/chart-types", s.handleChartTypes).Methods(http.MethodPut)
	api.HandleFunc("/settings/volatility", s.handleVolatility).Methods(http.MethodPut)
	api.HandleFunc("/settings/combinations", s.handleCombinations).Methods(http.MethodPut)

	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// corsMiddleware sets CORS headers for every response.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}
