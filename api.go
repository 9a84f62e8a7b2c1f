package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"

	"github.com/oszuidwest/zwfm-levelwatch/internal/audio"
	"github.com/oszuidwest/zwfm-levelwatch/internal/notify"
	"github.com/oszuidwest/zwfm-levelwatch/internal/server"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false when a response was sent.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if verr := server.Validate(&v); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
		return v, false
	}
	return v, true
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Monitor    types.MonitorStatus   `json:"monitor"`
	Latest     *types.LevelReport    `json:"latest,omitempty"`
	Thresholds types.ThresholdConfig `json:"thresholds"`
	Station    string                `json:"station"`
	Serial     string                `json:"serial"`
	Version    types.VersionInfo     `json:"version"`
}

// handleAPIStatus returns the monitor status and the last level report.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config.Snapshot()
	resp := StatusResponse{
		Monitor:    s.commands.Status(),
		Thresholds: cfg.Thresholds,
		Station:    cfg.StationName,
		Serial:     cfg.Serial,
		Version:    s.version.Info(),
	}
	if report, ok := s.commands.LatestReport(); ok {
		resp.Latest = &report
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIConfig returns the configuration without secrets.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, server.BuildConfigView(s.config.Snapshot()))
}

// handleAPILevelGet returns the current thresholds.
// GET /api/level
func (s *Server) handleAPILevelGet(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.config.Thresholds())
}

// handleAPILevelUpdate applies a partial threshold change.
// POST /api/level
func (s *Server) handleAPILevelUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := parseJSON[server.LevelUpdateRequest](s, w, r)
	if !ok {
		return
	}
	t, err := s.commands.ApplyLevel(&req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

// handleAPIEvents returns a page of the event log.
// GET /api/events?limit=50&offset=0&filter=alert
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := server.EventsRequest{Filter: q.Get("filter")}
	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
	}
	if verr := server.Validate(&req); verr != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr})
		return
	}

	page, err := s.commands.Events(&req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// handleAPIDevices returns available capture devices.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config.Snapshot()
	devices, err := audio.Devices(cfg.AudioBackend)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"devices":  devices,
		"selected": cfg.AudioDevice,
		"platform": runtime.GOOS,
	})
}

// handleAPINotificationTest sends a test message on one notification channel.
// POST /api/notifications/test/{channel}
func (s *Server) handleAPINotificationTest(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	err := s.commands.TestChannel(r.Context(), channel)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "channel": channel})
	case errors.Is(err, notify.ErrUnknownChannel):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notify.ErrNotConfigured):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}
