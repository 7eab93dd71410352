package main

import (
	"database/sql"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/repositories"
	"github.com/desertthunder/lumarr/internal/services"
	"github.com/desertthunder/lumarr/internal/tasks"
)

// pipeline is everything a sync needs, built from the runner's config.
type pipeline struct {
	ledger  *repositories.LedgerRepository
	cache   *repositories.MetadataCache
	sources []services.Source
	movies  services.MovieTarget
	series  services.SeriesTarget
}

func (r *Runner) newPipeline(db *sql.DB) *pipeline {
	p := &pipeline{
		ledger: repositories.NewLedgerRepository(db, r.clock),
		cache:  repositories.NewMetadataCache(db, r.clock),
	}
	p.sources = r.buildSources(p.cache)
	p.movies, p.series = r.buildTargets()
	return p
}

func (r *Runner) buildSources(cache services.MetadataCache) []services.Source {
	cfg := r.config
	policy := cfg.Retry.Policy()
	var sources []services.Source

	if cfg.PlexActive() {
		if cfg.Plex.UsesRSS() {
			sources = append(sources, services.NewPlexRSSSource(services.PlexRSSSourceOpts{
				BaseURL:    cfg.Plex.RSSURL,
				RSSID:      cfg.Plex.RSSID,
				HTTPClient: r.httpClient,
				Retry:      policy,
				Logger:     r.logger,
			}))
		} else {
			sources = append(sources, services.NewPlexSource(services.PlexSourceOpts{
				BaseURL:     cfg.Plex.BaseURL,
				Token:       cfg.Plex.Token,
				ClientID:    cfg.Plex.ClientID,
				PageSize:    cfg.Plex.PageSize,
				MaxPages:    cfg.Plex.MaxPages,
				CacheMaxAge: cfg.Plex.CacheMaxAge.Duration,
				Cache:       cache,
				HTTPClient:  r.httpClient,
				Retry:       policy,
				Logger:      r.logger,
			}))
		}
	}

	if cfg.LetterboxdActive() {
		sources = append(sources, services.NewLetterboxdSource(services.LetterboxdSourceOpts{
			BaseURL:    cfg.Letterboxd.BaseURL,
			Usernames:  cfg.Letterboxd.Usernames,
			Feed:       cfg.Letterboxd.Feed,
			Watchlist:  cfg.Letterboxd.Watchlist,
			MaxPages:   cfg.Letterboxd.MaxPages,
			PageDelay:  cfg.Letterboxd.PageDelay.Duration,
			HTTPClient: r.httpClient,
			Retry:      policy,
			Logger:     r.logger,
		}))
	}

	if cfg.TraktActive() {
		sources = append(sources, services.NewTraktSource(services.TraktSourceOpts{
			BaseURL:     cfg.Trakt.BaseURL,
			ClientID:    cfg.Trakt.ClientID,
			AccessToken: cfg.Trakt.AccessToken,
			HTTPClient:  r.httpClient,
			Retry:       policy,
			Logger:      r.logger,
		}))
	}
	return sources
}

// buildTargets returns untyped nils for disabled targets so the dispatcher sees a nil interface.
func (r *Runner) buildTargets() (services.MovieTarget, services.SeriesTarget) {
	cfg := r.config
	policy := cfg.Retry.Policy()

	var movies services.MovieTarget
	var series services.SeriesTarget

	if cfg.Radarr.Enabled {
		movies = services.NewRadarrClient(services.ArrOpts{
			URL:              cfg.Radarr.URL,
			APIKey:           cfg.Radarr.APIKey,
			QualityProfileID: cfg.Radarr.QualityProfileID,
			RootFolderPath:   cfg.Radarr.RootFolderPath,
			Monitored:        cfg.Radarr.Monitored,
			SearchOnAdd:      cfg.Radarr.SearchOnAdd,
			RateLimit:        cfg.Radarr.RateLimit,
			HTTPClient:       r.httpClient,
			Retry:            policy,
			Logger:           r.logger,
		})
	}

	if cfg.Sonarr.Enabled {
		series = services.NewSonarrClient(services.SonarrOpts{
			ArrOpts: services.ArrOpts{
				URL:              cfg.Sonarr.URL,
				APIKey:           cfg.Sonarr.APIKey,
				QualityProfileID: cfg.Sonarr.QualityProfileID,
				RootFolderPath:   cfg.Sonarr.RootFolderPath,
				Monitored:        cfg.Sonarr.Monitored,
				SearchOnAdd:      cfg.Sonarr.SearchOnAdd,
				RateLimit:        cfg.Sonarr.RateLimit,
				HTTPClient:       r.httpClient,
				Retry:            policy,
				Logger:           r.logger,
			},
			Monitor:      cfg.Sonarr.Monitor,
			SeriesType:   cfg.Sonarr.SeriesType,
			SeasonFolder: cfg.Sonarr.SeasonFolder,
		})
	}
	return movies, series
}

// buildEnricher chains the Letterboxd film page lookup ahead of TMDB. It returns nil when neither applies.
func (r *Runner) buildEnricher() services.Enricher {
	cfg := r.config
	policy := cfg.Retry.Policy()

	var chain services.EnricherChain
	if cfg.LetterboxdActive() {
		chain = append(chain, services.NewLetterboxdEnricher(cfg.Letterboxd.BaseURL, r.httpClient, policy, cfg.Letterboxd.PageDelay.Duration))
	}
	if cfg.TMDB.APIKey != "" {
		chain = append(chain, services.NewTMDBClient(cfg.TMDB.BaseURL, cfg.TMDB.APIKey, r.httpClient, policy))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func (r *Runner) idCacheTTL() time.Duration {
	if ttl := r.config.TMDB.IDCacheTTL.Duration; ttl > 0 {
		return ttl
	}
	return r.config.Sync.CacheTTL.Duration
}

func (r *Runner) intervals() map[string]time.Duration {
	return map[string]time.Duration{
		models.SourcePlex:       r.config.Plex.Interval.Duration,
		models.SourceLetterboxd: r.config.Letterboxd.Interval.Duration,
		models.SourceTrakt:      r.config.Trakt.Interval.Duration,
	}
}

// orchestrator wires the resolver and dispatcher for p using the current sync settings.
func (r *Runner) orchestrator(p *pipeline, progress chan<- tasks.ProgressUpdate) *tasks.Orchestrator {
	settings := r.config.Sync

	resolver := tasks.NewResolver(r.buildEnricher(), p.cache, r.idCacheTTL(), r.logger)
	dispatcher := tasks.NewDispatcher(p.ledger, p.movies, p.series, tasks.DispatchOptions{
		DryRun:         settings.DryRun,
		IgnoreExisting: settings.IgnoreExisting,
		MinRating:      settings.MinRating,
		MaxRejections:  settings.MaxRejections,
	}, r.logger)

	return tasks.NewOrchestrator(tasks.OrchestratorOpts{
		Sources:        p.sources,
		Resolver:       resolver,
		Dispatcher:     dispatcher,
		Ledger:         p.ledger,
		Cache:          p.cache,
		Clock:          r.clock,
		Logger:         r.logger,
		Progress:       progress,
		Concurrency:    settings.Concurrency,
		DryRun:         settings.DryRun,
		ForceRefresh:   settings.ForceRefresh,
		IgnoreExisting: settings.IgnoreExisting,
		MinRating:      settings.MinRating,
		Intervals:      r.intervals(),
	})
}

func (p *pipeline) sourceNames() []string {
	names := make([]string, 0, len(p.sources))
	for _, s := range p.sources {
		names = append(names, s.Name())
	}
	return names
}

func (p *pipeline) targetNames() []string {
	var names []string
	if p.movies != nil {
		names = append(names, p.movies.Name())
	}
	if p.series != nil {
		names = append(names, p.series.Name())
	}
	return names
}
