// Package server exposes the service over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkin/internal/cleanup"
	"checkin/internal/models"
	"checkin/internal/planner"
	"checkin/internal/service"

	"github.com/gorilla/mux"
)

// MaxUploadSize bounds CSV uploads.
const MaxUploadSize = 5 << 20

// Handler serves the check-in routes.
type Handler struct {
	logger *slog.Logger
	svc    *service.Service
}

// New creates a Handler.
func New(logger *slog.Logger, svc *service.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, svc: svc}
}

// Router returns a router with every route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.Register(r)
	return r
}

// Register adds the routes to r.
func (h *Handler) Register(r *mux.Router) {
	r.Use(h.logRequests)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/create-events", h.createEvents).Methods(http.MethodPost)
	r.HandleFunc("/delete-events", h.deleteEvents).Methods(http.MethodPost)
	r.HandleFunc("/clear-demo-events", h.clearDemo).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/demo-mode", h.demoMode).Methods(http.MethodGet)
	api.HandleFunc("/csv/preview", h.previewCSV).Methods(http.MethodPost)
	api.HandleFunc("/csv/import", h.importCSV).Methods(http.MethodPost)
	api.HandleFunc("/delete-recent", h.deleteRecent).Methods(http.MethodPost)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("Handled request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "demoMode": h.svc.DemoMode()})
}

func (h *Handler) demoMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"demoMode": h.svc.DemoMode()})
}

func (h *Handler) createEvents(w http.ResponseWriter, r *http.Request) {
	var req planner.ManualRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.fail(w, badRequest(err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.fail(w, badRequest(err))
			return
		}
		req = planner.ManualRequest{
			BaseDate:      r.PostFormValue("baseDate"),
			Title:         r.PostFormValue("title"),
			Time:          r.PostFormValue("time"),
			AttendeeEmail: r.PostFormValue("attendeeEmail"),
			Demo:          formBool(r, "demoMode"),
			DryRun:        formBool(r, "dryRun"),
			CalendarID:    r.PostFormValue("calendarId"),
		}
	}

	summary, err := h.svc.PlanAndReconcile(r.Context(), req)
	if err != nil {
		failWithSummary(h, w, err, summary)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (h *Handler) deleteEvents(w http.ResponseWriter, r *http.Request) {
	var criteria cleanup.MatchCriteria
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
			h.fail(w, badRequest(err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.fail(w, badRequest(err))
			return
		}
		criteria = cleanup.MatchCriteria{
			BaseDate:      r.PostFormValue("baseDate"),
			Title:         r.PostFormValue("title"),
			AttendeeEmail: r.PostFormValue("attendeeEmail"),
			CalendarID:    r.PostFormValue("calendarId"),
		}
	}

	summary, err := h.svc.DeleteByMatch(r.Context(), criteria)
	if err != nil {
		failWithSummary(h, w, err, summary)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (h *Handler) clearDemo(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.DeleteAllDemo(r.Context())
	if err != nil {
		failWithSummary(h, w, err, summary)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (h *Handler) deleteRecent(w http.ResponseWriter, r *http.Request) {
	hours := 0
	if isJSON(r) {
		var body struct {
			Hours int `json:"hours"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.fail(w, badRequest(err))
			return
		}
		hours = body.Hours
	} else if v := r.FormValue("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.fail(w, &models.ValidationError{Field: "hours", Value: v, Reason: "must be a whole number"})
			return
		}
		hours = n
	}

	summary, err := h.svc.DeleteRecent(r.Context(), hours)
	if err != nil {
		failWithSummary(h, w, err, summary)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (h *Handler) previewCSV(w http.ResponseWriter, r *http.Request) {
	rows, opts, err := h.readUpload(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	preview, err := h.svc.Preview(rows, opts)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "preview": preview})
}

func (h *Handler) importCSV(w http.ResponseWriter, r *http.Request) {
	rows, opts, err := h.readUpload(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	summary, err := h.svc.PlanAndReconcileBatch(r.Context(), rows, opts)
	if err != nil {
		failWithSummary(h, w, err, summary)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]planner.Row, service.ImportOptions, error) {
	var opts service.ImportOptions
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, opts, &models.ValidationError{Field: "csvFile", Reason: "file exceeds 5 MiB"}
		}
		return nil, opts, badRequest(err)
	}
	file, _, err := r.FormFile("csvFile")
	if err != nil {
		return nil, opts, &models.ValidationError{Field: "csvFile", Reason: "no file uploaded"}
	}
	defer file.Close()

	rows, err := h.svc.ParseCSV(file)
	if err != nil {
		return nil, opts, badRequest(err)
	}
	opts = service.ImportOptions{
		Time:   r.FormValue("time"),
		Demo:   formBool(r, "demoMode"),
		DryRun: formBool(r, "dryRun"),
	}
	return rows, opts, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.respondError(w, err, nil)
}

// failWithSummary reports err along with the partial summary of an aborted run.
func failWithSummary[T any](h *Handler, w http.ResponseWriter, err error, summary *T) {
	if summary == nil {
		h.fail(w, err)
		return
	}
	h.respondError(w, err, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, summary any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrAuthRequired):
		status = http.StatusUnauthorized
	case models.IsValidation(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err)
	} else {
		h.logger.Warn("Request rejected", "status", status, "error", err)
	}
	body := map[string]any{"success": false, "error": err.Error()}
	if summary != nil {
		body["summary"] = summary
	}
	writeJSON(w, status, body)
}

func badRequest(err error) error {
	return &models.ValidationError{Field: "request", Reason: err.Error()}
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// formBool accepts the checkbox values browsers send.
func formBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.FormValue(name)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
