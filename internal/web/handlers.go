package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitos/crypto_auto_trader/internal/domain"
	"go.uber.org/zap"
)

const defaultExecutionLimit = 50

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"daemon":    status,
		"last_scan": s.scanner.LastScan(),
	})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scanner.Current())
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	limit := defaultExecutionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	execs, err := s.execRepo.ListExecutions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list executions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if execs == nil {
		execs = []*domain.TradeExecution{}
	}
	s.writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleEnableStrategy(w http.ResponseWriter, r *http.Request) {
	s.toggleStrategy(w, r, true)
}

func (s *Server) handleDisableStrategy(w http.ResponseWriter, r *http.Request) {
	s.toggleStrategy(w, r, false)
}

func (s *Server) toggleStrategy(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")
	if err := s.manager.SetEnabled(id, enabled); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": enabled})
}

func (s *Server) handleStrategyDryRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		DryRun *bool `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DryRun == nil {
		s.writeError(w, http.StatusBadRequest, "body must be {\"dry_run\": bool}")
		return
	}

	if err := s.manager.SetDryRun(id, *req.DryRun); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "dry_run": *req.DryRun})
}

func (s *Server) handleExecuteStrategy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	executed, err := s.manager.ExecuteOne(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Manual strategy execution failed", zap.String("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "executed": executed})
}

func (s *Server) handleDaemonStart(w http.ResponseWriter, r *http.Request) {
	// The daemon outlives the request; its context must not be the
	// request-scoped one, which is canceled as soon as the response is sent.
	if err := s.daemon.Start(context.Background()); err != nil {
		s.logger.Error("Daemon start failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *Server) handleDaemonStop(w http.ResponseWriter, r *http.Request) {
	s.daemon.Stop()
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settingsRepo.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("Failed to load settings", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.TradingSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}
	if settings.MaxDailyTrades < 0 || settings.SlippageBps < 0 || settings.CheckInterval < 0 {
		s.writeError(w, http.StatusBadRequest, "limits must be non-negative")
		return
	}

	if err := s.settingsRepo.SaveSettings(r.Context(), &settings); err != nil {
		s.logger.Error("Failed to save settings", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	s.writeJSON(w, http.StatusOK, &settings)
}
