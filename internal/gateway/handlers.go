package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	redisstore "github.com/elPachango/bitbot/internal/store/redis"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// commandTimeout bounds how long a control request waits for the bot's
// reply; it outlasts the bot's own handling deadline.
const commandTimeout = redisstore.HandleTimeout + time.Second

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-TOTP-Code")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server bundles what the HTTP handlers need.
type Server struct {
	Hub   *Hub
	Src   Source
	Guard *TOTPGuard
	Sys   *SystemSampler
	M     *Metrics
	Start time.Time
}

// RegisterRoutes registers all HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		s.Hub.HandleWSRequest(conn, r.URL.Query().Get("last_ts"))
	})

	mux.HandleFunc("/api/state", s.get(s.handleState))
	mux.HandleFunc("/api/trades", s.get(s.handleTrades))
	mux.HandleFunc("/api/stats", s.get(s.handleStats))
	mux.HandleFunc("/api/missed", s.get(s.handleMissed))
	mux.HandleFunc("/api/system", s.get(func(w http.ResponseWriter, r *http.Request) {
		m := s.Sys.Collect()
		m.LatencyP50, m.LatencyP95, m.LatencyP99 = s.Hub.Latency.Percentiles()
		writeJSON(w, http.StatusOK, m)
	}))

	mux.HandleFunc("/api/pause", s.control(s.pauseCommand))
	mux.HandleFunc("/api/close_all", s.control(s.closeAllCommand))
	mux.HandleFunc("/api/update_portfolio", s.control(s.updatePortfolioCommand))

	mux.HandleFunc("/health", s.get(func(w http.ResponseWriter, r *http.Request) {
		_, err := s.Src.LatestState(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"redis":      err == nil,
			"ws_clients": s.Hub.ClientCount(),
			"totp":       s.Guard.Enabled(),
			"uptime_sec": int64(time.Since(s.Start).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	}))
}

// get wraps a read-only handler with CORS and method checks.
func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			h(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.Src.LatestState(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "bot has not published state yet")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}
	trades, err := s.Src.RecentTrades(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if trades == nil {
		trades = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Src.LatestState(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "bot has not published state yet")
		return
	}
	var partial struct {
		Stats json.RawMessage `json:"stats"`
	}
	if err := json.Unmarshal(st, &partial); err != nil || partial.Stats == nil {
		writeError(w, http.StatusBadGateway, "state has no stats")
		return
	}
	writeJSON(w, http.StatusOK, partial.Stats)
}

// handleMissed serves buffered envelopes for client gap backfill:
// /api/missed?channel=pub:state:BTCUSDT&from=10&to=14
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		writeError(w, http.StatusBadRequest, "channel, from and to are required")
		return
	}
	raw := s.Hub.GetReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(raw))
	for i, b := range raw {
		out[i] = b
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel":     channel,
		"current_seq": s.Hub.GetChannelSeq(channel),
		"messages":    out,
	})
}

// controlRequest is the body of every control endpoint.
type controlRequest struct {
	Code    string   `json:"code"`
	Paused  *bool    `json:"paused,omitempty"`
	Price   float64  `json:"price,omitempty"`
	Capital *float64 `json:"capital,omitempty"`
	Value   *float64 `json:"value,omitempty"` // alias of capital
}

// control wraps a command builder with method, TOTP and forwarding logic.
func (s *Server) control(build func(controlRequest) (redisstore.Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req controlRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
		}
		if req.Code == "" {
			req.Code = r.Header.Get("X-TOTP-Code")
		}
		if err := s.Guard.Verify(req.Code); err != nil {
			s.countCommand("auth", "denied")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		cmd, err := build(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		reply, err := s.Src.SendCommand(ctx, cmd)
		switch {
		case errors.Is(err, redisstore.ErrBotOffline):
			s.countCommand(cmd.Action, "offline")
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case errors.Is(err, context.DeadlineExceeded):
			s.countCommand(cmd.Action, "timeout")
			writeError(w, http.StatusGatewayTimeout, "bot did not answer in time")
			return
		case err != nil:
			s.countCommand(cmd.Action, "error")
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if !reply.OK {
			s.countCommand(cmd.Action, "rejected")
			writeError(w, http.StatusConflict, reply.Error)
			return
		}

		s.countCommand(cmd.Action, "ok")
		log.Printf("[gateway] command %s applied", cmd.Action)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"result": reply.Result,
		})
	}
}

func (s *Server) countCommand(action, result string) {
	if s.M != nil {
		s.M.Commands.WithLabelValues(action, result).Inc()
	}
}

func (s *Server) pauseCommand(req controlRequest) (redisstore.Command, error) {
	switch {
	case req.Paused == nil:
		return redisstore.Command{Action: redisstore.ActionTogglePause}, nil
	case *req.Paused:
		return redisstore.Command{Action: redisstore.ActionPause}, nil
	default:
		return redisstore.Command{Action: redisstore.ActionResume}, nil
	}
}

func (s *Server) closeAllCommand(req controlRequest) (redisstore.Command, error) {
	if req.Price < 0 {
		return redisstore.Command{}, errors.New("price must not be negative")
	}
	return redisstore.Command{Action: redisstore.ActionCloseAll, Value: req.Price}, nil
}

func (s *Server) updatePortfolioCommand(req controlRequest) (redisstore.Command, error) {
	if req.Capital == nil {
		req.Capital = req.Value
	}
	if req.Capital == nil || *req.Capital <= 0 {
		return redisstore.Command{}, errors.New("capital must be a positive number")
	}
	return redisstore.Command{Action: redisstore.ActionAdjustCapital, Value: *req.Capital}, nil
}
