package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/lumarr/internal/formatter"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/desertthunder/lumarr/internal/tasks"
)

type fakeReporter struct {
	state tasks.State
	last  *models.PassSummary
}

func (f *fakeReporter) State() tasks.State            { return f.state }
func (f *fakeReporter) LastPass() *models.PassSummary { return f.last }

type fakeLedger struct {
	records []models.LedgerRecord
	counts  map[models.Status]int
	err     error
	filter  models.HistoryFilter
}

func (f *fakeLedger) History(ctx context.Context, filter models.HistoryFilter) ([]models.LedgerRecord, error) {
	f.filter = filter
	return f.records, f.err
}

func (f *fakeLedger) Counts(ctx context.Context) (map[models.Status]int, error) {
	return f.counts, f.err
}

func newTestServer(ledger *fakeLedger, reporter PassReporter) *MuxRouter {
	h := &StatusHandler{Reporter: reporter, Ledger: ledger, Sources: []string{"plex"}, Targets: []string{"radarr"}}
	return NewStatusServer(h, shared.NewLogger(nil))
}

func TestStatusServer(t *testing.T) {
	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeLedger{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("unexpected response: %d %s", rec.Code, rec.Header().Get("Content-Type"))
		}
	})

	t.Run("status", func(t *testing.T) {
		ledger := &fakeLedger{counts: map[models.Status]int{models.StatusSuccess: 3}}
		reporter := &fakeReporter{state: tasks.Sleeping, last: &models.PassSummary{
			RunID:   "run-9",
			Results: []models.Result{{Outcome: models.OutcomeAdded}, {Outcome: models.OutcomeFailed}},
		}}

		rec := httptest.NewRecorder()
		newTestServer(ledger, reporter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var got formatter.StatusReport
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got.State != "sleeping" || got.Counts[models.StatusSuccess] != 3 {
			t.Errorf("unexpected status: %+v", got)
		}
		if got.LastPass == nil || got.LastPass.RunID != "run-9" || got.LastPass.Added != 1 || got.LastPass.Failed != 1 {
			t.Errorf("unexpected last pass: %+v", got.LastPass)
		}
	})

	t.Run("status ledger error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeLedger{err: errors.New("locked")}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("history filter", func(t *testing.T) {
		ledger := &fakeLedger{records: []models.LedgerRecord{{ItemKey: "plex:movie:1", Status: models.StatusFailed}}}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/history?limit=9999&status=FAILED&target=radarr", nil)
		newTestServer(ledger, nil).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		want := models.HistoryFilter{Limit: maxHistoryLimit, Status: models.StatusFailed, Target: "radarr"}
		if ledger.filter != want {
			t.Errorf("filter = %+v, want %+v", ledger.filter, want)
		}

		var got []models.LedgerRecord
		json.NewDecoder(rec.Body).Decode(&got)
		if len(got) != 1 || got[0].ItemKey != "plex:movie:1" {
			t.Errorf("unexpected records: %+v", got)
		}
	})

	t.Run("history empty is an array", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeLedger{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		if body := rec.Body.String(); body != "[]\n" {
			t.Errorf("expected empty array, got %q", body)
		}
	})

	t.Run("history bad params", func(t *testing.T) {
		for _, q := range []string{"limit=abc", "limit=-1", "status=done"} {
			rec := httptest.NewRecorder()
			newTestServer(&fakeLedger{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?"+q, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", q, rec.Code)
			}
		}
	})

	t.Run("unknown route and method", func(t *testing.T) {
		srv := newTestServer(&fakeLedger{}, nil)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewMuxRouter()
		router.Use(mark("first"), mark("second"))
		router.Handle(http.MethodGet, "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "handler" {
			t.Errorf("unexpected order: %v", order)
		}
	})

	t.Run("recover", func(t *testing.T) {
		router := NewMuxRouter()
		router.Use(Recover(shared.NewLogger(nil)))
		router.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestListenAndServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ListenAndServe(ctx, addr, newTestServer(&fakeLedger{}, nil), shared.NewLogger(nil))
	}()

	var resp *http.Response
	for range 50 {
		if resp, err = http.Get("http://" + addr + "/health"); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
