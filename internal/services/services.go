// package services defines the source, target and enrichment clients
//
// Plex, Letterboxd, Trakt, TMDB, Radarr, Sonarr
package services

import (
	"context"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
)

// Source fetches one watch-intent list.
type Source interface {
	// Name returns the source name used in item keys and scheduling (e.g. "plex").
	Name() string

	// Fetch returns the current list. A non-nil error means nothing usable was fetched;
	// partial failures are reported in [FetchResult] alongside the items that did arrive.
	Fetch(ctx context.Context, opts FetchOptions) (*FetchResult, error)
}

// FetchOptions adjusts a single fetch.
type FetchOptions struct {
	ForceRefresh bool // bypass cached metadata reads
}

// FetchResult holds the items of one fetch.
type FetchResult struct {
	Items    []models.WatchItem
	Partial  bool    // some pages or users could not be fetched
	Failures []error // why the result is partial
}

func (r *FetchResult) fail(err error) {
	r.Partial = true
	r.Failures = append(r.Failures, err)
}

// AddOutcome is the successful result of asking a target to add an item.
type AddOutcome int

const (
	Added AddOutcome = iota
	AlreadyPresent
)

func (o AddOutcome) String() string {
	if o == AlreadyPresent {
		return "already_present"
	}
	return "added"
}

// MovieTarget adds movies to a library manager.
type MovieTarget interface {
	Name() string
	AddMovie(ctx context.Context, item models.WatchItem) (AddOutcome, error)
}

// SeriesTarget adds shows to a library manager.
type SeriesTarget interface {
	Name() string
	AddSeries(ctx context.Context, item models.WatchItem) (AddOutcome, error)
}

// Enricher looks up missing provider identifiers for an item.
//
// An empty [models.ProviderIDs] with a nil error means the item is unknown upstream.
type Enricher interface {
	Enrich(ctx context.Context, item models.WatchItem) (models.ProviderIDs, error)
}

// MetadataCache is the subset of the metadata cache the source adapters use.
type MetadataCache interface {
	GetMany(ctx context.Context, scope string, keys []string, ttl time.Duration) (map[string][]byte, error)
	PutMany(ctx context.Context, scope string, entries map[string][]byte, ttl time.Duration) error
}
