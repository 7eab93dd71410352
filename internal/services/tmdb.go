package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

const tmdbURL = "https://api.themoviedb.org/3"

// TMDBClient resolves provider identifiers through The Movie Database.
type TMDBClient struct {
	api    *APIClient
	apiKey string
}

// NewTMDBClient creates a TMDB client authenticated with an api_key query parameter.
func NewTMDBClient(baseURL, apiKey string, client *http.Client, policy shared.RetryPolicy) *TMDBClient {
	if baseURL == "" {
		baseURL = tmdbURL
	}
	return &TMDBClient{
		api:    NewAPIClient(baseURL, client, policy).WithHeader("Accept", "application/json"),
		apiKey: apiKey,
	}
}

type tmdbResult struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
}

type tmdbFindResponse struct {
	MovieResults []tmdbResult `json:"movie_results"`
	TVResults    []tmdbResult `json:"tv_results"`
}

type tmdbSearchResponse struct {
	Results []tmdbResult `json:"results"`
}

type tmdbExternalIDs struct {
	IMDBID string `json:"imdb_id"`
	TVDBID int    `json:"tvdb_id"`
}

// Enrich returns identifiers found for item. Lookups go by external id first and fall back to a
// title search; an empty result means TMDB does not know the item.
func (c *TMDBClient) Enrich(ctx context.Context, item models.WatchItem) (models.ProviderIDs, error) {
	ids := item.IDs

	if ids.TMDB == "" {
		tmdbID, err := c.find(ctx, item.Kind, ids)
		if err != nil {
			return models.ProviderIDs{}, err
		}
		if tmdbID == "" && item.Title != "" {
			if tmdbID, err = c.search(ctx, item.Kind, item.Title, item.Year); err != nil {
				return models.ProviderIDs{}, err
			}
		}
		ids.TMDB = tmdbID
	}

	if item.Kind == models.KindShow && ids.TMDB != "" && ids.TVDB == "" {
		ext, err := c.externalIDs(ctx, ids.TMDB)
		if err != nil {
			return models.ProviderIDs{}, err
		}
		ids = ids.Merge(ext)
	}

	if ids == item.IDs {
		return models.ProviderIDs{}, nil
	}
	return ids, nil
}

func (c *TMDBClient) find(ctx context.Context, kind models.MediaKind, ids models.ProviderIDs) (string, error) {
	lookups := []struct{ id, source string }{
		{ids.TVDB, "tvdb_id"},
		{ids.IMDB, "imdb_id"},
	}

	for _, l := range lookups {
		if l.id == "" {
			continue
		}

		query := c.query()
		query.Set("external_source", l.source)

		var found tmdbFindResponse
		if err := c.api.GetJSON(ctx, "/find/"+url.PathEscape(l.id), query, &found); err != nil {
			return "", fmt.Errorf("tmdb find %s: %w", l.id, err)
		}

		results := found.MovieResults
		if kind == models.KindShow {
			results = found.TVResults
		}
		if len(results) > 0 && results[0].ID > 0 {
			return strconv.Itoa(results[0].ID), nil
		}
	}
	return "", nil
}

func (c *TMDBClient) search(ctx context.Context, kind models.MediaKind, title string, year int) (string, error) {
	query := c.query()
	query.Set("query", title)

	path := "/search/movie"
	if kind == models.KindShow {
		path = "/search/tv"
		if year > 0 {
			query.Set("first_air_date_year", strconv.Itoa(year))
		}
	} else if year > 0 {
		query.Set("primary_release_year", strconv.Itoa(year))
	}

	var found tmdbSearchResponse
	if err := c.api.GetJSON(ctx, path, query, &found); err != nil {
		return "", fmt.Errorf("tmdb search %q: %w", title, err)
	}
	if len(found.Results) == 0 || found.Results[0].ID == 0 {
		return "", nil
	}
	return strconv.Itoa(found.Results[0].ID), nil
}

func (c *TMDBClient) externalIDs(ctx context.Context, tmdbID string) (models.ProviderIDs, error) {
	var ext tmdbExternalIDs
	if err := c.api.GetJSON(ctx, "/tv/"+tmdbID+"/external_ids", c.query(), &ext); err != nil {
		return models.ProviderIDs{}, fmt.Errorf("tmdb external ids %s: %w", tmdbID, err)
	}

	ids := models.ProviderIDs{IMDB: ext.IMDBID}
	if ext.TVDBID > 0 {
		ids.TVDB = strconv.Itoa(ext.TVDBID)
	}
	return ids, nil
}

func (c *TMDBClient) query() url.Values {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	return q
}

// EnricherChain asks each enricher in turn and merges what they find, stopping once the
// identifier required by the item's kind is known.
type EnricherChain []Enricher

func (chain EnricherChain) Enrich(ctx context.Context, item models.WatchItem) (models.ProviderIDs, error) {
	var found models.ProviderIDs
	var lastErr error

	for _, e := range chain {
		if e == nil {
			continue
		}

		current := item
		current.IDs = item.IDs.Merge(found)
		if current.IDs.Required(item.Kind) != "" {
			break
		}

		ids, err := e.Enrich(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			lastErr = err
			continue
		}
		found = found.Merge(ids)
	}

	if found.Empty() && lastErr != nil {
		return found, lastErr
	}
	return found, nil
}
