package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/mmcdole/gofeed"
)

const plexRSSURL = "https://rss.plex.tv"

// PlexRSSSourceOpts configures a [PlexRSSSource].
type PlexRSSSourceOpts struct {
	BaseURL    string
	RSSID      string
	HTTPClient *http.Client
	Retry      shared.RetryPolicy
	Logger     *log.Logger
}

// PlexRSSSource reads a public Plex watchlist RSS feed. It needs no token and makes no metadata calls.
type PlexRSSSource struct {
	api    *APIClient
	rssID  string
	logger *log.Logger
}

// NewPlexRSSSource creates a Plex RSS watchlist source.
func NewPlexRSSSource(opts PlexRSSSourceOpts) *PlexRSSSource {
	if opts.BaseURL == "" {
		opts.BaseURL = plexRSSURL
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &PlexRSSSource{
		api:    NewAPIClient(opts.BaseURL, opts.HTTPClient, opts.Retry),
		rssID:  opts.RSSID,
		logger: shared.WithLogger(opts.Logger, "source", models.SourcePlex),
	}
}

func (p *PlexRSSSource) Name() string { return models.SourcePlex }

func (p *PlexRSSSource) Fetch(ctx context.Context, _ FetchOptions) (*FetchResult, error) {
	feed, err := fetchFeed(ctx, p.api, "/"+p.rssID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plex rss feed: %w", err)
	}

	result := &FetchResult{}
	now := time.Now().UTC()
	for _, entry := range feed.Items {
		if item, ok := plexRSSItem(entry, now); ok {
			result.Items = append(result.Items, item)
		}
	}

	p.logger.Debug("fetched rss watchlist", "entries", len(feed.Items), "items", len(result.Items))
	return result, nil
}

func plexRSSItem(entry *gofeed.Item, now time.Time) (models.WatchItem, bool) {
	if entry == nil || entry.GUID == "" {
		return models.WatchItem{}, false
	}

	kind := models.KindMovie
	for _, c := range entry.Categories {
		if k, ok := models.ParseMediaKind(strings.ToLower(strings.TrimSpace(c))); ok {
			kind = k
			break
		}
	}

	guids := []string{entry.GUID}
	if entry.Link != "" {
		guids = append(guids, entry.Link)
	}

	title, year := splitTitleYear(entry.Title)
	return models.WatchItem{
		Source:       models.SourcePlex,
		ExternalID:   strings.ReplaceAll(entry.GUID, "://", "_"),
		Title:        title,
		Year:         year,
		Kind:         kind,
		IDs:          idsFromGUIDs(guids),
		DiscoveredAt: now,
	}, true
}
