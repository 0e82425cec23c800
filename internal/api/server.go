package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/connhealth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the Hub and REST surface onto a gorilla/mux router (§6
// ambient addition: health/metrics/activity endpoints the distilled spec
// didn't name, carried the way the teacher's own server.go wraps its
// router in rs/cors).
type Server struct {
	hub    *Hub
	health *connhealth.Service
	logger *zap.Logger
}

// NewServer builds the HTTP server. health may be nil if connection
// monitoring isn't wired (e.g. in a backtest-only deployment).
func NewServer(hub *Hub, health *connhealth.Service, logger *zap.Logger) *Server {
	return &Server{hub: hub, health: health, logger: logger.Named("api")}
}

// Router builds the mux router with CORS applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/health/connection", s.handleConnectionHealth).Methods(http.MethodGet)
	r.HandleFunc("/activity", s.handleActivity).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnectionHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unmonitored"})
		return
	}
	snap := s.health.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":                 snap.Online,
		"last_event_at":          snap.LastEventAt.Format(time.RFC3339),
		"last_heal_at":           snap.LastHealAt.Format(time.RFC3339),
		"consecutive_reconnects": snap.ConsecutiveReconnects,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.hub.RecentActivity(limit))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(uuid.NewString(), s.hub, conn)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
