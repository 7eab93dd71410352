package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

// memoryCache is an in-process [MetadataCache] without expiry.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (m *memoryCache) GetMany(_ context.Context, scope string, keys []string, _ time.Duration) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := map[string][]byte{}
	for _, k := range keys {
		if v, ok := m.entries[scope+"/"+k]; ok {
			found[k] = v
		}
	}
	return found, nil
}

func (m *memoryCache) PutMany(_ context.Context, scope string, entries map[string][]byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.entries[scope+"/"+k] = v
		m.puts++
	}
	return nil
}

const plexPage = `{"MediaContainer":{"totalSize":%d,"size":%d,"Metadata":[%s]}}`

func plexEntry(rk, title, kind string, year int, guids ...string) string {
	parts := make([]string, 0, len(guids))
	for _, g := range guids {
		parts = append(parts, fmt.Sprintf(`{"id":%q}`, g))
	}
	guid := ""
	if len(parts) > 0 {
		guid = `,"Guid":[` + strings.Join(parts, ",") + `]`
	}
	return fmt.Sprintf(`{"ratingKey":%q,"title":%q,"type":%q,"year":%d%s}`, rk, title, kind, year, guid)
}

func TestPlexSource(t *testing.T) {
	ctx := context.Background()

	t.Run("pages watchlist and batches metadata", func(t *testing.T) {
		var metadataCalls []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Plex-Token") != "tok" {
				t.Errorf("expected plex token header")
			}

			switch {
			case r.URL.Path == "/library/sections/watchlist/all":
				start, _ := strconv.Atoi(r.URL.Query().Get("X-Plex-Container-Start"))
				if start == 0 {
					fmt.Fprintf(w, plexPage, 3, 2, strings.Join([]string{
						plexEntry("a", "The Matrix", "movie", 1999, "tmdb://603", "imdb://tt0133093"),
						plexEntry("b", "Severance", "show", 2022),
					}, ","))
					return
				}
				fmt.Fprintf(w, plexPage, 3, 1, plexEntry("c", "Dune", "movie", 2021))
			case strings.HasPrefix(r.URL.Path, "/library/metadata/"):
				metadataCalls = append(metadataCalls, strings.TrimPrefix(r.URL.Path, "/library/metadata/"))
				fmt.Fprintf(w, plexPage, 2, 2, strings.Join([]string{
					plexEntry("b", "Severance", "show", 2022, "tvdb://371980", "tmdb://95396"),
					plexEntry("c", "Dune", "movie", 2021, "tmdb://438631"),
				}, ","))
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))
		defer server.Close()

		cache := newMemoryCache()
		src := NewPlexSource(PlexSourceOpts{BaseURL: server.URL, Token: "tok", PageSize: 2, Cache: cache, Retry: shared.NoRetry()})

		result, err := src.Fetch(ctx, FetchOptions{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result.Items) != 3 {
			t.Fatalf("expected 3 items, got %d", len(result.Items))
		}
		if len(metadataCalls) != 1 || metadataCalls[0] != "b,c" {
			t.Errorf("expected one batched metadata call for b,c, got %v", metadataCalls)
		}

		byKey := map[string]models.WatchItem{}
		for _, item := range result.Items {
			byKey[item.ExternalID] = item
		}
		if byKey["a"].IDs.TMDB != "603" || byKey["a"].IDs.IMDB != "tt0133093" {
			t.Errorf("expected embedded guids for a, got %v", byKey["a"].IDs)
		}
		if byKey["b"].Kind != models.KindShow || byKey["b"].IDs.TVDB != "371980" {
			t.Errorf("expected show with tvdb id, got %+v", byKey["b"])
		}
		if byKey["c"].IDs.TMDB != "438631" {
			t.Errorf("expected tmdb id from metadata for c, got %v", byKey["c"].IDs)
		}

		t.Run("second fetch is served from cache", func(t *testing.T) {
			metadataCalls = nil
			if _, err := src.Fetch(ctx, FetchOptions{}); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(metadataCalls) != 0 {
				t.Errorf("expected no metadata calls, got %v", metadataCalls)
			}
		})

		t.Run("force refresh bypasses cache", func(t *testing.T) {
			metadataCalls = nil
			if _, err := src.Fetch(ctx, FetchOptions{ForceRefresh: true}); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(metadataCalls) != 1 {
				t.Errorf("expected a metadata call, got %v", metadataCalls)
			}
		})
	})

	t.Run("later page failure is partial", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("X-Plex-Container-Start") == "0" {
				fmt.Fprintf(w, plexPage, 2, 1, plexEntry("a", "A", "movie", 2000, "tmdb://1"))
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		src := NewPlexSource(PlexSourceOpts{BaseURL: server.URL, PageSize: 1, Retry: shared.NoRetry()})
		result, err := src.Fetch(ctx, FetchOptions{})
		if err != nil {
			t.Fatalf("expected partial result, got error %v", err)
		}
		if !result.Partial || len(result.Items) != 1 {
			t.Errorf("expected 1 item and partial flag, got %d items partial=%v", len(result.Items), result.Partial)
		}
	})

	t.Run("unauthorized is an auth failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		src := NewPlexSource(PlexSourceOpts{BaseURL: server.URL, Retry: shared.NoRetry()})
		if _, err := src.Fetch(ctx, FetchOptions{}); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})
}

func TestPlexRSSSource(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Watchlist</title>
<item><title>The Matrix (1999)</title><guid>tmdb://603</guid><category>movie</category></item>
<item><title>Severance (2022)</title><guid>tvdb://371980</guid><category>show</category></item>
<item><title>No guid</title></item>
</channel></rss>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/abc-123" {
			t.Errorf("expected rss id path, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feed))
	}))
	defer server.Close()

	src := NewPlexRSSSource(PlexRSSSourceOpts{BaseURL: server.URL, RSSID: "abc-123", Retry: shared.NoRetry()})
	result, err := src.Fetch(context.Background(), FetchOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}

	movie := result.Items[0]
	if movie.Title != "The Matrix" || movie.Year != 1999 || movie.IDs.TMDB != "603" {
		t.Errorf("unexpected movie %+v", movie)
	}
	if movie.ExternalID != "tmdb_603" {
		t.Errorf("expected external id tmdb_603, got %s", movie.ExternalID)
	}
	if show := result.Items[1]; show.Kind != models.KindShow || show.IDs.TVDB != "371980" {
		t.Errorf("unexpected show %+v", show)
	}
}

func TestGUIDHelpers(t *testing.T) {
	t.Run("idsFromGUIDs", func(t *testing.T) {
		ids := idsFromGUIDs([]string{"imdb://tt0133093", "tmdb://603", "tvdb://169", "tmdb://999"})
		want := models.ProviderIDs{TMDB: "603", TVDB: "169", IMDB: "tt0133093"}
		if ids != want {
			t.Errorf("got %v, want %v", ids, want)
		}
	})

	t.Run("splitTitleYear", func(t *testing.T) {
		tests := []struct {
			in    string
			title string
			year  int
		}{
			{"The Matrix (1999)", "The Matrix", 1999},
			{"Alien", "Alien", 0},
			{"Blade Runner 2049 (2017)", "Blade Runner 2049", 2017},
			{"  Heat (1995) ", "Heat", 1995},
		}
		for _, tt := range tests {
			title, year := splitTitleYear(tt.in)
			if title != tt.title || year != tt.year {
				t.Errorf("splitTitleYear(%q) = %q, %d", tt.in, title, year)
			}
		}
	})
}
