package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

// PlexMetadataScope is the cache scope for per-item Plex metadata.
const PlexMetadataScope = "plex-metadata"

const (
	plexDiscoverURL = "https://discover.provider.plex.tv"
	plexProduct     = "lumarr"
	plexVersion     = "0.1.0"
)

var (
	tmdbGUID     = regexp.MustCompile(`tmdb://(\d+)`)
	tvdbGUID     = regexp.MustCompile(`tvdb://(\d+)`)
	imdbGUID     = regexp.MustCompile(`imdb://(tt\d+)`)
	titleAndYear = regexp.MustCompile(`^(.*?)(?:\s+\((\d{4})\))?$`)
)

// PlexSourceOpts configures a [PlexSource].
type PlexSourceOpts struct {
	BaseURL     string
	Token       string
	ClientID    string
	PageSize    int
	MaxPages    int
	CacheMaxAge time.Duration
	Cache       MetadataCache
	HTTPClient  *http.Client
	Retry       shared.RetryPolicy
	Logger      *log.Logger
}

// PlexSource reads the Plex watchlist through the discover API.
//
// The overview is paged; items lacking GUIDs are completed with a single batched metadata request
// whose results are cached per rating key.
type PlexSource struct {
	api      *APIClient
	pageSize int
	maxPages int
	cache    MetadataCache
	cacheTTL time.Duration
	logger   *log.Logger
}

// NewPlexSource creates a Plex watchlist source.
func NewPlexSource(opts PlexSourceOpts) *PlexSource {
	if opts.BaseURL == "" {
		opts.BaseURL = plexDiscoverURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 40
	}
	if opts.ClientID == "" {
		opts.ClientID = plexProduct
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	api := NewAPIClient(opts.BaseURL, opts.HTTPClient, opts.Retry).
		WithHeader("Accept", "application/json").
		WithHeader("X-Plex-Token", opts.Token).
		WithHeader("X-Plex-Client-Identifier", opts.ClientID).
		WithHeader("X-Plex-Product", plexProduct).
		WithHeader("X-Plex-Version", plexVersion).
		WithHeader("X-Plex-Device", "CLI").
		WithHeader("X-Plex-Platform", "CLI")

	return &PlexSource{
		api:      api,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		cache:    opts.Cache,
		cacheTTL: opts.CacheMaxAge,
		logger:   shared.WithLogger(opts.Logger, "source", models.SourcePlex),
	}
}

func (p *PlexSource) Name() string { return models.SourcePlex }

type plexContainer struct {
	MediaContainer struct {
		TotalSize int            `json:"totalSize"`
		Size      int            `json:"size"`
		Metadata  []plexMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type plexMetadata struct {
	RatingKey string     `json:"ratingKey"`
	GUID      string     `json:"guid,omitempty"`
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	Year      int        `json:"year,omitempty"`
	Guid      []plexGUID `json:"Guid,omitempty"`
}

type plexGUID struct {
	ID string `json:"id"`
}

// Fetch pages through the watchlist and completes missing GUIDs.
func (p *PlexSource) Fetch(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	result := &FetchResult{}

	var all []plexMetadata
	for page := 0; page < p.maxPages; page++ {
		query := url.Values{}
		query.Set("X-Plex-Container-Start", strconv.Itoa(page*p.pageSize))
		query.Set("X-Plex-Container-Size", strconv.Itoa(p.pageSize))

		var container plexContainer
		if err := p.api.GetJSON(ctx, "/library/sections/watchlist/all", query, &container); err != nil {
			err = p.classify(err)
			if page == 0 {
				return nil, fmt.Errorf("failed to fetch plex watchlist: %w", err)
			}
			result.fail(fmt.Errorf("plex watchlist page %d: %w", page+1, err))
			break
		}

		batch := container.MediaContainer.Metadata
		all = append(all, batch...)

		total := container.MediaContainer.TotalSize
		if len(batch) == 0 || (total > 0 && len(all) >= total) || (total == 0 && len(batch) < p.pageSize) {
			break
		}
	}

	var missing []string
	for _, m := range all {
		if len(m.Guid) == 0 && m.RatingKey != "" {
			missing = append(missing, m.RatingKey)
		}
	}

	details := map[string]plexMetadata{}
	if len(missing) > 0 {
		var err error
		details, err = p.details(ctx, missing, opts.ForceRefresh)
		if err != nil {
			if errors.Is(err, shared.ErrPersistence) || ctx.Err() != nil {
				return nil, err
			}
			p.logger.Warn("batch metadata fetch failed, continuing without guids", "items", len(missing), "error", err)
		}
	}

	now := time.Now().UTC()
	for _, m := range all {
		if d, ok := details[m.RatingKey]; ok {
			m = d
		}
		if item, ok := p.toItem(m, now); ok {
			result.Items = append(result.Items, item)
		}
	}

	p.logger.Debug("fetched watchlist", "items", len(result.Items), "needed_details", len(missing))
	return result, nil
}

// details returns full metadata for ratingKeys, from cache where fresh and otherwise with one batched request.
func (p *PlexSource) details(ctx context.Context, ratingKeys []string, force bool) (map[string]plexMetadata, error) {
	found := make(map[string]plexMetadata, len(ratingKeys))

	toFetch := ratingKeys
	if p.cache != nil && !force {
		cached, err := p.cache.GetMany(ctx, PlexMetadataScope, ratingKeys, p.cacheTTL)
		if err != nil {
			return found, err
		}

		toFetch = toFetch[:0:0]
		for _, rk := range ratingKeys {
			payload, ok := cached[rk]
			if !ok {
				toFetch = append(toFetch, rk)
				continue
			}
			var m plexMetadata
			if err := json.Unmarshal(payload, &m); err != nil {
				toFetch = append(toFetch, rk)
				continue
			}
			found[rk] = m
		}
		p.logger.Debug("metadata cache", "hits", len(found), "misses", len(toFetch))
	}

	if len(toFetch) == 0 {
		return found, nil
	}

	var container plexContainer
	if err := p.api.GetJSON(ctx, "/library/metadata/"+strings.Join(toFetch, ","), nil, &container); err != nil {
		return found, err
	}

	fresh := make(map[string][]byte, len(container.MediaContainer.Metadata))
	for _, m := range container.MediaContainer.Metadata {
		if m.RatingKey == "" {
			continue
		}
		found[m.RatingKey] = m
		if payload, err := json.Marshal(m); err == nil {
			fresh[m.RatingKey] = payload
		}
	}

	if p.cache != nil {
		if err := p.cache.PutMany(ctx, PlexMetadataScope, fresh, p.cacheTTL); err != nil {
			return found, err
		}
	}
	return found, nil
}

func (p *PlexSource) toItem(m plexMetadata, now time.Time) (models.WatchItem, bool) {
	kind, ok := models.ParseMediaKind(strings.ToLower(m.Type))
	if !ok || m.RatingKey == "" {
		return models.WatchItem{}, false
	}

	guids := make([]string, 0, len(m.Guid))
	for _, g := range m.Guid {
		guids = append(guids, g.ID)
	}

	return models.WatchItem{
		Source:       models.SourcePlex,
		ExternalID:   m.RatingKey,
		Title:        m.Title,
		Year:         m.Year,
		Kind:         kind,
		IDs:          idsFromGUIDs(guids),
		DiscoveredAt: now,
	}, true
}

func (p *PlexSource) classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: plex returned %d, check the token: %w", shared.ErrAuthFailed, se.StatusCode, err)
	}
	return err
}

// idsFromGUIDs extracts provider ids from Plex style guids such as "tmdb://603".
func idsFromGUIDs(guids []string) models.ProviderIDs {
	var ids models.ProviderIDs
	for _, g := range guids {
		if m := tmdbGUID.FindStringSubmatch(g); m != nil && ids.TMDB == "" {
			ids.TMDB = m[1]
		}
		if m := tvdbGUID.FindStringSubmatch(g); m != nil && ids.TVDB == "" {
			ids.TVDB = m[1]
		}
		if m := imdbGUID.FindStringSubmatch(g); m != nil && ids.IMDB == "" {
			ids.IMDB = m[1]
		}
	}
	return ids
}

// splitTitleYear parses "Title (Year)".
func splitTitleYear(s string) (string, int) {
	m := titleAndYear.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return strings.TrimSpace(s), 0
	}
	year, _ := strconv.Atoi(m[2])
	return strings.TrimSpace(m[1]), year
}
