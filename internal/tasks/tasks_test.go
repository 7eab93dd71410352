package tasks

import (
	"database/sql"
	"testing"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/repositories"
	"github.com/desertthunder/lumarr/internal/shared"
	tu "github.com/desertthunder/lumarr/internal/testing"
)

// harness wires a dispatcher and resolver over an in-memory database.
type harness struct {
	db       *sql.DB
	ledger   *repositories.LedgerRepository
	cache    *repositories.MetadataCache
	movies   *tu.MockTarget
	series   *tu.MockTarget
	enricher *tu.MockEnricher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &harness{
		db:       db,
		ledger:   repositories.NewLedgerRepository(db, nil),
		cache:    repositories.NewMetadataCache(db, nil),
		movies:   &tu.MockTarget{TargetName: models.TargetRadarr},
		series:   &tu.MockTarget{TargetName: models.TargetSonarr},
		enricher: &tu.MockEnricher{IDs: map[string]models.ProviderIDs{}},
	}
}

func (h *harness) dispatcher(opts DispatchOptions) *Dispatcher {
	return NewDispatcher(h.ledger, h.movies, h.series, opts, nil)
}

func (h *harness) resolver() *Resolver {
	return NewResolver(h.enricher, h.cache, 24*time.Hour, nil)
}

func movie(source, id, title string, ids models.ProviderIDs) models.WatchItem {
	return models.WatchItem{Source: source, ExternalID: id, Title: title, Kind: models.KindMovie, IDs: ids}
}

func show(source, id, title string, ids models.ProviderIDs) models.WatchItem {
	return models.WatchItem{Source: source, ExternalID: id, Title: title, Kind: models.KindShow, IDs: ids}
}

func countOutcome(results []models.Result, o models.Outcome) int {
	n := 0
	for _, r := range results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
