package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/repositories"
	"github.com/desertthunder/lumarr/internal/services"
	"github.com/desertthunder/lumarr/internal/shared"
)

// IDsScope is the metadata cache scope for resolved identifiers.
const IDsScope = "ids"

// IDCache stores enrichment results, including empty ones.
type IDCache interface {
	GetOrFetch(ctx context.Context, scope, key string, ttl time.Duration, force bool, fetch repositories.FetchFunc) ([]byte, error)
}

// Resolver fills in the provider identifier a target needs.
type Resolver struct {
	enricher services.Enricher
	cache    IDCache
	ttl      time.Duration
	logger   *log.Logger
}

// NewResolver creates a resolver. A nil enricher leaves items as fetched; a nil cache calls the enricher every time.
func NewResolver(enricher services.Enricher, cache IDCache, ttl time.Duration, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Resolver{enricher: enricher, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns item with its identifiers completed.
//
// Identifiers embedded by the source are never replaced. Items that already carry the identifier their
// target keys on are returned without a lookup. The error wraps [shared.ErrUnresolvedIdentifier] when the
// item ends up with no identifier at all, and [shared.ErrPersistence] when the cache fails.
func (r *Resolver) Resolve(ctx context.Context, item models.WatchItem, force bool) (models.WatchItem, error) {
	if item.IDs.Required(item.Kind) != "" {
		return item, nil
	}

	if r.enricher == nil {
		if item.IDs.Empty() {
			return item, fmt.Errorf("%w: %s", shared.ErrUnresolvedIdentifier, item)
		}
		return item, nil
	}

	found, err := r.lookup(ctx, item, force)
	if err != nil {
		if errors.Is(err, shared.ErrPersistence) || ctx.Err() != nil {
			return item, err
		}
		r.logger.Warn("identifier lookup failed", "item", item.Key(), "title", item.String(), "error", err)
		if item.IDs.Empty() {
			return item, fmt.Errorf("%w: %s: %w", shared.ErrUnresolvedIdentifier, item, err)
		}
		return item, nil
	}

	item.IDs = item.IDs.Merge(found)
	if item.IDs.Empty() {
		return item, fmt.Errorf("%w: %s", shared.ErrUnresolvedIdentifier, item)
	}

	r.logger.Debug("resolved identifiers", "item", item.Key(), "ids", item.IDs.String())
	return item, nil
}

func (r *Resolver) lookup(ctx context.Context, item models.WatchItem, force bool) (models.ProviderIDs, error) {
	fetch := func(ctx context.Context) ([]byte, error) {
		ids, err := r.enricher.Enrich(ctx, item)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ids)
	}

	var payload []byte
	var err error
	if r.cache == nil {
		payload, err = fetch(ctx)
	} else {
		payload, err = r.cache.GetOrFetch(ctx, IDsScope, idCacheKey(item), r.ttl, force, fetch)
	}
	if err != nil {
		return models.ProviderIDs{}, err
	}

	var ids models.ProviderIDs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ids); err != nil {
			return models.ProviderIDs{}, fmt.Errorf("corrupt cached identifiers: %w", err)
		}
	}
	return ids, nil
}

// idCacheKey identifies a lookup by what is known about the item: its ids, its slug, or its title and year.
func idCacheKey(item models.WatchItem) string {
	prefix := string(item.Kind) + ":"
	switch {
	case !item.IDs.Empty():
		return prefix + "ids:" + item.IDs.TMDB + "/" + item.IDs.TVDB + "/" + item.IDs.IMDB
	case item.Slug != "":
		return prefix + "slug:" + item.Slug
	default:
		return prefix + "title:" + shared.NormalizeTitleKey(item.Title) + "|" + strconv.Itoa(item.Year)
	}
}
