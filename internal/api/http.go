package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/operation"
	"github.com/SimplyPrint/sign-agent/internal/service"
	"github.com/SimplyPrint/sign-agent/internal/settings"
)

// maxBodyBytes bounds request bodies; documents to sign are sent as digests or small payloads.
const maxBodyBytes = 8 << 20

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.Ready() {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	resp := map[string]any{
		"status":     status,
		"operations": s.opts.Factory.Kinds(),
	}
	if s.opts.Registry != nil {
		resp["knownCards"] = s.opts.Registry.Len()
	}
	respondJSON(w, code, resp)
}

// perform runs inv synchronously and writes its result.
func (s *Server) perform(w http.ResponseWriter, r *http.Request, inv operation.Invocation) {
	if !s.Ready() {
		respondError(w, http.StatusServiceUnavailable, "agent is not ready")
		return
	}
	res := inv.Call(r.Context(), s.opts.Factory)
	respondJSON(w, httpStatus(res), res)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	s.perform(w, r, operation.NewInvocation(operation.KindListCards, "http"))
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.URL.Query().Get("card"))
	if err != nil || idx < 0 {
		respondError(w, http.StatusBadRequest, "invalid card index")
		return
	}
	s.perform(w, r, operation.NewInvocation(operation.KindGetCertificate, "http", idx))
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req PerformRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Kind = string(operation.KindSign)
	inv, err := req.Invocation("http")
	if err != nil {
		res := operation.Exception(err)
		respondJSON(w, httpStatus(res), res)
		return
	}
	s.perform(w, r, inv)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !settings.IsSyncDevicesEnabled() {
		respondError(w, http.StatusForbidden, "device sync is disabled in settings")
		return
	}
	s.perform(w, r, operation.NewInvocation(operation.KindSyncDevices, "http"))
}

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	s.perform(w, r, operation.NewInvocation(operation.KindProcessRequest, "http", chi.URLParam(r, "id")))
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.opts.OnShutdown == nil {
		respondError(w, http.StatusServiceUnavailable, "shutdown not available")
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	// after the response is written
	go s.opts.OnShutdown()
}

func (s *Server) handleAutostart(w http.ResponseWriter, r *http.Request) {
	svc := s.opts.Autostart
	if svc == nil {
		respondError(w, http.StatusNotImplemented, "auto-start not supported")
		return
	}

	switch r.Method {
	case http.MethodGet:
		status, _ := svc.Status()
		respondJSON(w, http.StatusOK, map[string]any{
			"enabled": svc.IsInstalled(),
			"status":  status,
		})

	case http.MethodPost:
		err := svc.Install()
		if errors.Is(err, service.ErrAlreadyInstalled) {
			respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start already enabled"})
			return
		}
		if err != nil {
			logging.Error(logging.CatSystem, "Failed to enable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logging.Info(logging.CatSystem, "Auto-start enabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start enabled"})

	case http.MethodDelete:
		err := svc.Uninstall()
		if errors.Is(err, service.ErrNotInstalled) {
			respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start already disabled"})
			return
		}
		if err != nil {
			logging.Error(logging.CatSystem, "Failed to disable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logging.Info(logging.CatSystem, "Auto-start disabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{"success": "auto-start disabled"})
	}
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// default 100, max 1000
	limit := 100
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
		limit = min(l, 1000)
	}

	var minLevel *logging.Level
	if lvl, ok := logging.ParseLevel(query.Get("level")); ok {
		minLevel = &lvl
	}

	var category *logging.Category
	if c := query.Get("category"); c != "" {
		cat := logging.Category(c)
		category = &cat
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entries": logging.Get().GetEntries(limit, minLevel, category),
		"stats":   logging.Get().Stats(),
	})
}

func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	logging.Get().Clear()
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "logs cleared",
	})
}

func handleCrashes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if filename := query.Get("file"); filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondError(w, http.StatusNotFound, "crash log not found: "+err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"filename": filename,
			"content":  content,
		})
		return
	}

	limit := 20
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 {
		limit = min(l, 100)
	}

	logs, err := logging.GetCrashLogs(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list crash logs: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"crashes":  logs,
		"crashDir": logging.CrashLogDir(),
	})
}

func handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, settings.Get())
}

func handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CrashReporting *bool `json:"crashReporting"`
		SyncDevices    *bool `json:"syncDevices"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.CrashReporting != nil || req.SyncDevices != nil {
		err := settings.Update(func(s *settings.Settings) {
			if req.CrashReporting != nil {
				s.CrashReporting = *req.CrashReporting
			}
			if req.SyncDevices != nil {
				s.SyncDevices = *req.SyncDevices
			}
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save settings: "+err.Error())
			return
		}
	}

	s := settings.Get()
	respondJSON(w, http.StatusOK, map[string]any{
		"crashReporting": s.CrashReporting,
		"syncDevices":    s.SyncDevices,
		"message":        "Settings updated. Restart may be required for some changes to take effect.",
	})
}
