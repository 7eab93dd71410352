package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
	"golang.org/x/oauth2"
)

const (
	traktURL      = "https://api.trakt.tv"
	traktPageSize = 100
	traktMaxPages = 50
)

// TraktSourceOpts configures a [TraktSource].
type TraktSourceOpts struct {
	BaseURL     string
	ClientID    string
	AccessToken string
	HTTPClient  *http.Client
	Retry       shared.RetryPolicy
	Logger      *log.Logger
}

// TraktSource reads the authenticated user's Trakt watchlist.
type TraktSource struct {
	api    *APIClient
	logger *log.Logger
}

// NewTraktSource creates a Trakt watchlist source. Requests carry the access token as a bearer token.
func NewTraktSource(opts TraktSourceOpts) *TraktSource {
	if opts.BaseURL == "" {
		opts.BaseURL = traktURL
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	base := http.DefaultTransport
	timeout := 30 * time.Second
	if opts.HTTPClient != nil {
		if opts.HTTPClient.Transport != nil {
			base = opts.HTTPClient.Transport
		}
		timeout = opts.HTTPClient.Timeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken, TokenType: "Bearer"}),
			Base:   base,
		},
	}

	api := NewAPIClient(opts.BaseURL, client, opts.Retry).
		WithHeader("Content-Type", "application/json").
		WithHeader("trakt-api-version", "2").
		WithHeader("trakt-api-key", opts.ClientID)

	return &TraktSource{api: api, logger: shared.WithLogger(opts.Logger, "source", models.SourceTrakt)}
}

func (t *TraktSource) Name() string { return models.SourceTrakt }

type traktIDs struct {
	Trakt int    `json:"trakt"`
	Slug  string `json:"slug"`
	IMDB  string `json:"imdb"`
	TMDB  int    `json:"tmdb"`
	TVDB  int    `json:"tvdb"`
}

type traktMedia struct {
	Title string   `json:"title"`
	Year  int      `json:"year"`
	IDs   traktIDs `json:"ids"`
}

type traktEntry struct {
	Type     string      `json:"type"`
	ListedAt time.Time   `json:"listed_at"`
	Movie    *traktMedia `json:"movie,omitempty"`
	Show     *traktMedia `json:"show,omitempty"`
}

// Fetch pages through /sync/watchlist using the X-Pagination headers.
func (t *TraktSource) Fetch(ctx context.Context, _ FetchOptions) (*FetchResult, error) {
	result := &FetchResult{}
	now := time.Now().UTC()

	for page := 1; page <= traktMaxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("limit", strconv.Itoa(traktPageSize))

		resp, err := t.api.Get(ctx, "/sync/watchlist", query)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("failed to fetch trakt watchlist: %w", err)
			}
			result.fail(fmt.Errorf("trakt watchlist page %d: %w", page, err))
			break
		}

		var entries []traktEntry
		if err := resp.Decode(&entries); err != nil {
			if page == 1 {
				return nil, err
			}
			result.fail(err)
			break
		}

		for _, e := range entries {
			if item, ok := traktItem(e, now); ok {
				result.Items = append(result.Items, item)
			}
		}

		pageCount, err := strconv.Atoi(resp.Headers.Get("X-Pagination-Page-Count"))
		if err != nil || page >= pageCount || len(entries) == 0 {
			break
		}
	}

	t.logger.Debug("fetched watchlist", "items", len(result.Items))
	return result, nil
}

func traktItem(e traktEntry, now time.Time) (models.WatchItem, bool) {
	media, kind := e.Movie, models.KindMovie
	if e.Show != nil {
		media, kind = e.Show, models.KindShow
	}
	if media == nil || media.IDs.Trakt == 0 {
		return models.WatchItem{}, false
	}

	ids := models.ProviderIDs{IMDB: media.IDs.IMDB}
	if media.IDs.TMDB > 0 {
		ids.TMDB = strconv.Itoa(media.IDs.TMDB)
	}
	if media.IDs.TVDB > 0 {
		ids.TVDB = strconv.Itoa(media.IDs.TVDB)
	}

	discovered := e.ListedAt
	if discovered.IsZero() {
		discovered = now
	}

	return models.WatchItem{
		Source:       models.SourceTrakt,
		ExternalID:   strconv.Itoa(media.IDs.Trakt),
		Title:        media.Title,
		Year:         media.Year,
		Kind:         kind,
		IDs:          ids,
		Slug:         media.IDs.Slug,
		DiscoveredAt: discovered,
	}, true
}
