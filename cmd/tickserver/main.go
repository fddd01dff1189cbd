// cmd/tickserver is a staging websocket server that speaks the live trade
// protocol, so chartfeed can run without provider credentials.
//
// Clients may authenticate ({"action":"auth",...}, any keys accepted) and
// then subscribe and unsubscribe ({"action":"subscribe","trades":[...]}).
// Every interval each subscribed symbol receives a random-walk trade:
//
//	[{"T":"t","S":"AAPL","p":187.42,"s":12,"t":"2024-01-15T14:30:00.123Z"}]
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_INTERVAL_MS  trade interval in milliseconds (default "250")
//	TICK_PRICES       optional SYMBOL:PRICE start prices, e.g. "AAPL:187,MSFT:410"
package main

import (
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"chartfeed/internal/logger"
)

type controlMsg struct {
	T      string   `json:"T"`
	Msg    string   `json:"msg,omitempty"`
	Trades []string `json:"trades,omitempty"`
}

type tradeMsg struct {
	T    string  `json:"T"`
	S    string  `json:"S"`
	P    float64 `json:"p"`
	Size int     `json:"s"`
	TS   string  `json:"t"`
}

type clientMsg struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	send chan []byte

	mu   sync.Mutex
	subs map[string]struct{}
}

func (c *client) subscribed(sym string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[sym]
	return ok
}

func (c *client) symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) register() *client {
	c := &client{send: make(chan []byte, 256), subs: make(map[string]struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// symbols returns the union of every client's subscriptions.
func (h *hub) symbols() []string {
	seen := make(map[string]struct{})
	h.mu.RLock()
	for c := range h.clients {
		for _, s := range c.symbols() {
			seen[s] = struct{}{}
		}
	}
	h.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// deliver sends msg to every client subscribed to sym.
func (h *hub) deliver(sym string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(sym) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client, drop trade
		}
	}
}

func queue(c *client, v any) {
	b, err := json.Marshal([]any{v})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade error", slog.Any("error", err))
			return
		}
		log.Info("client connected", slog.String("remote", r.RemoteAddr))

		c := h.register()
		queue(c, controlMsg{T: "success", Msg: "connected"})

		go func() {
			defer func() {
				h.unregister(c)
				conn.Close()
				log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
			}()
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var m clientMsg
				if err := json.Unmarshal(raw, &m); err != nil {
					queue(c, controlMsg{T: "error", Msg: "invalid syntax"})
					continue
				}
				handleAction(c, m)
			}
		}()

		// Write pump
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func handleAction(c *client, m clientMsg) {
	switch m.Action {
	case "auth":
		queue(c, controlMsg{T: "success", Msg: "authenticated"})
	case "subscribe", "unsubscribe":
		c.mu.Lock()
		for _, s := range m.Trades {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if m.Action == "subscribe" {
				c.subs[s] = struct{}{}
			} else {
				delete(c.subs, s)
			}
		}
		c.mu.Unlock()
		queue(c, controlMsg{T: "subscription", Trades: c.symbols()})
	default:
		queue(c, controlMsg{T: "error", Msg: "unknown action"})
	}
}

// ─── Trade generator ─────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.1%) rounded to cents.
func walkPrice(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat((rng.Float64()*0.2 - 0.1) / 100.0)
	next := price.Add(price.Mul(pct)).Round(2)
	if floor := decimal.NewFromFloat(0.01); next.LessThan(floor) {
		return floor
	}
	return next
}

func runGenerator(h *hub, start map[string]decimal.Decimal, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]decimal.Decimal)

	for now := range ticker.C {
		for _, sym := range h.symbols() {
			p, ok := prices[sym]
			if !ok {
				if p, ok = start[sym]; !ok {
					p = decimal.NewFromInt(100)
				}
			}
			p = walkPrice(rng, p)
			prices[sym] = p

			b, err := json.Marshal([]tradeMsg{{
				T:    "t",
				S:    sym,
				P:    p.InexactFloat64(),
				Size: rng.Intn(100) + 1,
				TS:   now.UTC().Format(time.RFC3339Nano),
			}})
			if err != nil {
				continue
			}
			h.deliver(sym, b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log := logger.Init("tickserver", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 250)) * time.Millisecond
	start := parsePrices(envOrDefault("TICK_PRICES", ""), log)

	h := newHub()
	go runGenerator(h, start, interval)

	r := mux.NewRouter()
	r.HandleFunc("/ws", wsHandler(h, log))
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tickserver"}`))
	}).Methods(http.MethodGet)

	log.Info("listening", slog.String("addr", addr), slog.Duration("interval", interval))
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parsePrices(s string, log *slog.Logger) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Warn("skipping invalid price entry", slog.String("entry", part))
			continue
		}
		p, err := decimal.NewFromString(strings.TrimSpace(seg[1]))
		if err != nil || !p.IsPositive() {
			log.Warn("skipping invalid price", slog.String("entry", part))
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(seg[0]))] = p
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
