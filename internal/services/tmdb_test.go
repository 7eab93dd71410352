package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

func tmdbServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case "/find/tt0133093":
			w.Write([]byte(`{"movie_results":[{"id":603,"title":"The Matrix"}],"tv_results":[]}`))
		case "/find/tt9999999":
			w.Write([]byte(`{"movie_results":[],"tv_results":[]}`))
		case "/search/movie":
			if r.URL.Query().Get("query") == "Heat" && r.URL.Query().Get("primary_release_year") == "1995" {
				w.Write([]byte(`{"results":[{"id":949,"title":"Heat"}]}`))
				return
			}
			w.Write([]byte(`{"results":[]}`))
		case "/search/tv":
			w.Write([]byte(`{"results":[{"id":95396,"name":"Severance"}]}`))
		case "/tv/95396/external_ids":
			w.Write([]byte(`{"imdb_id":"tt11280740","tvdb_id":371980}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTMDBClient(t *testing.T) {
	ctx := context.Background()
	server := tmdbServer(t)
	client := NewTMDBClient(server.URL, "key", nil, shared.NoRetry())

	tests := []struct {
		name string
		item models.WatchItem
		want models.ProviderIDs
	}{
		{
			name: "imdb to tmdb",
			item: models.WatchItem{Kind: models.KindMovie, Title: "The Matrix", IDs: models.ProviderIDs{IMDB: "tt0133093"}},
			want: models.ProviderIDs{TMDB: "603", IMDB: "tt0133093"},
		},
		{
			name: "title search",
			item: models.WatchItem{Kind: models.KindMovie, Title: "Heat", Year: 1995},
			want: models.ProviderIDs{TMDB: "949"},
		},
		{
			name: "show gains tvdb",
			item: models.WatchItem{Kind: models.KindShow, Title: "Severance", Year: 2022},
			want: models.ProviderIDs{TMDB: "95396", TVDB: "371980", IMDB: "tt11280740"},
		},
		{
			name: "unknown",
			item: models.WatchItem{Kind: models.KindMovie, Title: "Nope", IDs: models.ProviderIDs{IMDB: "tt9999999"}},
			want: models.ProviderIDs{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Enrich(ctx, tt.item)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("bad key is an error", func(t *testing.T) {
		bad := NewTMDBClient(server.URL, "wrong", nil, shared.NoRetry())
		if _, err := bad.Enrich(ctx, models.WatchItem{Kind: models.KindMovie, Title: "Heat"}); !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected api error, got %v", err)
		}
	})
}

type stubEnricher struct {
	ids   models.ProviderIDs
	err   error
	calls int
}

func (s *stubEnricher) Enrich(context.Context, models.WatchItem) (models.ProviderIDs, error) {
	s.calls++
	return s.ids, s.err
}

func TestEnricherChain(t *testing.T) {
	ctx := context.Background()
	movie := models.WatchItem{Kind: models.KindMovie, Title: "Heat"}

	t.Run("stops once required id is known", func(t *testing.T) {
		first := &stubEnricher{ids: models.ProviderIDs{TMDB: "949"}}
		second := &stubEnricher{ids: models.ProviderIDs{TMDB: "1"}}

		got, err := EnricherChain{first, second}.Enrich(ctx, movie)
		if err != nil || got.TMDB != "949" {
			t.Errorf("expected 949, got %v, %v", got, err)
		}
		if second.calls != 0 {
			t.Error("second enricher should not be called")
		}
	})

	t.Run("errors are skipped when a later enricher succeeds", func(t *testing.T) {
		first := &stubEnricher{err: errors.New("down")}
		second := &stubEnricher{ids: models.ProviderIDs{TMDB: "949"}}

		got, err := EnricherChain{first, nil, second}.Enrich(ctx, movie)
		if err != nil || got.TMDB != "949" {
			t.Errorf("expected 949, got %v, %v", got, err)
		}
	})

	t.Run("error surfaces when nothing is found", func(t *testing.T) {
		boom := errors.New("down")
		_, err := EnricherChain{&stubEnricher{err: boom}, &stubEnricher{}}.Enrich(ctx, movie)
		if !errors.Is(err, boom) {
			t.Errorf("expected last error, got %v", err)
		}
	})
}
