package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/audio"
	"github.com/oszuidwest/zwfm-levelwatch/internal/config"
	"github.com/oszuidwest/zwfm-levelwatch/internal/server"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// Server is an HTTP server that provides the API, metrics and live view of the level watcher.
type Server struct {
	config   *config.Config
	commands *server.CommandHandler
	metrics  http.Handler
	version  *VersionChecker
}

// NewServer returns a new Server for the given command handler and metrics handler.
func NewServer(cfg *config.Config, commands *server.CommandHandler, metrics http.Handler, version *VersionChecker) *Server {
	return &Server{
		config:   cfg,
		commands: commands,
		metrics:  metrics,
		version:  version,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authorized := s.authorized(r)

	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate, authorized)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}, authorized bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, authorized, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes new level reports and periodic status updates.
func (s *Server) runWebSocketEventLoop(send chan any, done, statusUpdate <-chan struct{}) {
	levelsTicker := time.NewTicker(250 * time.Millisecond) // Picks up each new tick promptly
	statusTicker := time.NewTicker(3000 * time.Millisecond)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	peaks := audio.NewPeakHolder()
	var lastTick uint64

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		case now := <-levelsTicker.C:
			report, ok := s.commands.LatestReport()
			if !ok || report.Tick == lastTick {
				continue
			}
			lastTick = report.Tick
			if !trySend(buildWSLevels(&report, peaks, now)) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				close(send)
				return
			}
		}
	}
}

// buildWSLevels returns a levels message with per-channel peaks held for the meter view.
func buildWSLevels(report *types.LevelReport, peaks *audio.PeakHolder, now time.Time) types.WSLevelsResponse {
	levels := make([]float64, len(report.Peaks))
	for i, p := range report.Peaks {
		levels[i] = audio.DBFS(p)
	}
	return types.WSLevelsResponse{
		Type:   "levels",
		Report: *report,
		Held:   peaks.Update(levels, now),
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()
	return types.WSStatusResponse{
		Type:       "status",
		Monitor:    s.commands.Status(),
		Thresholds: cfg.Thresholds,
		Station:    cfg.StationName,
		Serial:     cfg.Serial,
		Version:    s.version.Info(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/config", s.handleAPIConfig)
	mux.HandleFunc("GET /api/level", s.handleAPILevelGet)
	mux.HandleFunc("POST /api/level", s.apiKeyAuth(s.handleAPILevelUpdate))
	mux.HandleFunc("GET /api/events", s.handleAPIEvents)
	mux.HandleFunc("GET /api/devices", s.handleAPIDevices)
	mux.HandleFunc("POST /api/notifications/test/{channel}", s.apiKeyAuth(s.handleAPINotificationTest))
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// authorized reports whether r carries the configured API key, or no key is configured.
// Browsers cannot set headers on WebSocket requests, so the key is also accepted as the "key" query parameter.
func (s *Server) authorized(r *http.Request) bool {
	apiKey := s.config.APIKey()
	if apiKey == "" {
		return true
	}
	provided := r.Header.Get("X-API-Key")
	if provided == "" {
		provided = r.URL.Query().Get("key")
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) == 1
}

// apiKeyAuth returns middleware for API key authentication.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
