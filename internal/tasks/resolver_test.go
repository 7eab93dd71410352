package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("required id present skips lookup", func(t *testing.T) {
		h := newHarness(t)
		item := movie("plex", "1", "Heat", models.ProviderIDs{TMDB: "949"})

		got, err := h.resolver().Resolve(ctx, item, false)
		if err != nil || got.IDs != item.IDs {
			t.Errorf("expected item unchanged, got %v, %v", got.IDs, err)
		}
		if h.enricher.Calls() != 0 {
			t.Error("enricher should not be called")
		}
	})

	t.Run("imdb only movie gains tmdb id", func(t *testing.T) {
		h := newHarness(t)
		h.enricher.IDs["The Matrix"] = models.ProviderIDs{TMDB: "603", IMDB: "tt9999"}
		item := movie("plex", "1", "The Matrix", models.ProviderIDs{IMDB: "tt1"})

		got, err := h.resolver().Resolve(ctx, item, false)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := models.ProviderIDs{TMDB: "603", IMDB: "tt1"}
		if got.IDs != want {
			t.Errorf("got %v, want %v (embedded imdb must survive)", got.IDs, want)
		}
	})

	t.Run("results are cached", func(t *testing.T) {
		h := newHarness(t)
		h.enricher.IDs["Heat"] = models.ProviderIDs{TMDB: "949"}
		r := h.resolver()
		item := movie("letterboxd", "w1", "Heat", models.ProviderIDs{})

		for range 3 {
			if got, err := r.Resolve(ctx, item, false); err != nil || got.IDs.TMDB != "949" {
				t.Fatalf("expected tmdb 949, got %v, %v", got.IDs, err)
			}
		}
		if h.enricher.Calls() != 1 {
			t.Errorf("expected one lookup, got %d", h.enricher.Calls())
		}

		if _, err := r.Resolve(ctx, item, true); err != nil {
			t.Fatalf("forced resolve failed: %v", err)
		}
		if h.enricher.Calls() != 2 {
			t.Errorf("force should bypass cache, got %d lookups", h.enricher.Calls())
		}
	})

	t.Run("unknown items are negatively cached", func(t *testing.T) {
		h := newHarness(t)
		r := h.resolver()
		item := movie("letterboxd", "w2", "Obscure Short", models.ProviderIDs{})

		for range 2 {
			if _, err := r.Resolve(ctx, item, false); !errors.Is(err, shared.ErrUnresolvedIdentifier) {
				t.Fatalf("expected unresolved, got %v", err)
			}
		}
		if h.enricher.Calls() != 1 {
			t.Errorf("expected one lookup, got %d", h.enricher.Calls())
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		h := newHarness(t)
		h.enricher.Err = errors.New("tmdb down")
		r := h.resolver()

		withIDs := show("plex", "2", "Severance", models.ProviderIDs{TMDB: "95396"})
		if got, err := r.Resolve(ctx, withIDs, false); err != nil || got.IDs != withIDs.IDs {
			t.Errorf("item with some id should pass, got %v, %v", got.IDs, err)
		}

		bare := movie("plex", "3", "Nothing", models.ProviderIDs{})
		if _, err := r.Resolve(ctx, bare, false); !errors.Is(err, shared.ErrUnresolvedIdentifier) {
			t.Errorf("expected unresolved, got %v", err)
		}
	})

	t.Run("without enricher", func(t *testing.T) {
		r := NewResolver(nil, nil, 0, nil)
		if _, err := r.Resolve(ctx, movie("plex", "1", "x", models.ProviderIDs{}), false); !errors.Is(err, shared.ErrUnresolvedIdentifier) {
			t.Errorf("expected unresolved, got %v", err)
		}
		if _, err := r.Resolve(ctx, movie("plex", "1", "x", models.ProviderIDs{IMDB: "tt1"}), false); err != nil {
			t.Errorf("expected pass through, got %v", err)
		}
	})

	t.Run("cache key", func(t *testing.T) {
		tests := []struct {
			item models.WatchItem
			want string
		}{
			{movie("plex", "1", "Heat", models.ProviderIDs{IMDB: "tt1"}), "movie:ids://tt1"},
			{models.WatchItem{Kind: models.KindMovie, Title: "Heat", Slug: "heat"}, "movie:slug:heat"},
			{models.WatchItem{Kind: models.KindShow, Title: "Dark!", Year: 2017}, "show:title:dark|2017"},
		}
		for _, tt := range tests {
			if got := idCacheKey(tt.item); got != tt.want {
				t.Errorf("idCacheKey(%v) = %q, want %q", tt.item, got, tt.want)
			}
		}
	})
}
