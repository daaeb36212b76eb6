package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/pairlab/internal/export"
	"github.com/ashureev/pairlab/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultLogExportLimit = 100

// ExportHandler serves CSV/JSON downloads of transcripts and interaction
// logs for offline analysis.
type ExportHandler struct {
	*Handler
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(base *Handler) *ExportHandler {
	return &ExportHandler{Handler: base}
}

// RegisterRoutes registers export routes.
func (h *ExportHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/export", func(r chi.Router) {
		r.Get("/transcripts.csv", h.Transcripts)
		r.Get("/logs", h.Logs)
	})
}

// Transcripts streams the transcript export as CSV.
func (h *ExportHandler) Transcripts(w http.ResponseWriter, r *http.Request) {
	opts := export.TranscriptOptions{
		IncludeActive: r.URL.Query().Get("include_active") == "true",
	}

	var err error
	if opts.Start, err = parseDate(r.URL.Query().Get("start")); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.End, err = parseDate(r.URL.Query().Get("end")); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if tz := r.URL.Query().Get("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			Error(w, http.StatusBadRequest, "unknown timezone")
			return
		}
		opts.Location = loc
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "chat-logs-"+time.Now().Format("2006-01-02")+".csv"))

	if err := export.WriteTranscriptCSV(r.Context(), h.st, w, opts); err != nil {
		// Headers are out; all we can do is log.
		slog.Error("Transcript export failed", "error", err)
	}
}

// Logs exports interaction logs as JSON (default) or a CSV summary.
func (h *ExportHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q := store.LogQuery{Limit: defaultLogExportLimit}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	var err error
	if q.Start, err = parseDate(r.URL.Query().Get("start")); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.End, err = parseDate(r.URL.Query().Get("end")); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.st.ListInteractionLogs(r.Context(), q)
	if err != nil {
		slog.Error("Failed to list interaction logs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list interaction logs")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", "interactions-"+time.Now().Format("2006-01-02")+".csv"))
		if err := export.WriteLogsCSV(w, logs); err != nil {
			slog.Error("Interaction log export failed", "error", err)
		}
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"count": len(logs),
		"data":  logs,
	})
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %s", v)
}
