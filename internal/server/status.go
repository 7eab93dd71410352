package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/formatter"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/tasks"
)

// PassReporter exposes the live state of a running orchestrator.
type PassReporter interface {
	State() tasks.State
	LastPass() *models.PassSummary
}

// LedgerReader is the read side of the ledger.
type LedgerReader interface {
	History(ctx context.Context, filter models.HistoryFilter) ([]models.LedgerRecord, error)
	Counts(ctx context.Context) (map[models.Status]int, error)
}

const maxHistoryLimit = 500

// StatusHandler serves health, status and history endpoints.
type StatusHandler struct {
	Reporter PassReporter
	Ledger   LedgerReader
	Sources  []string
	Targets  []string
}

// Routes returns the HTTP routes this handler serves.
func (h *StatusHandler) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Path: "/health", Handler: h.Health},
		{Method: http.MethodGet, Path: "/api/status", Handler: h.Status},
		{Method: http.MethodGet, Path: "/api/history", Handler: h.History},
	}
}

func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Ledger.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report := formatter.StatusReport{Sources: h.Sources, Targets: h.Targets, Counts: counts}
	if h.Reporter != nil {
		report.State = h.Reporter.State().String()
		if last := h.Reporter.LastPass(); last != nil {
			summary := formatter.NewSummaryReport(last, false)
			report.LastPass = &summary
		}
	}
	writeJSON(w, http.StatusOK, report)
}

// History accepts limit, status, target and source query parameters.
func (h *StatusHandler) History(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.Ledger.History(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.LedgerRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func historyFilter(r *http.Request) (models.HistoryFilter, error) {
	q := r.URL.Query()
	filter := models.HistoryFilter{Limit: 50, Target: q.Get("target"), Source: q.Get("source")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = min(n, maxHistoryLimit)
	}
	if v := q.Get("status"); v != "" {
		status := models.Status(strings.ToLower(v))
		if !status.Valid() {
			return filter, fmt.Errorf("invalid status %q", v)
		}
		filter.Status = status
	}
	return filter, nil
}

// NewStatusServer builds the router for h with logging and panic recovery.
func NewStatusServer(h *StatusHandler, logger *log.Logger) *MuxRouter {
	router := NewMuxRouter()
	router.Use(Recover(logger), Logging(logger))
	router.Handler(h)
	return router
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}
