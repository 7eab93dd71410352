// Package services implements the clients for the sync engine's upstream services.
//
// # Sources
//
// Every watch-intent list implements [Source]:
//   - [PlexSource] : Plex discover API watchlist, with batched metadata for items lacking GUIDs
//   - [PlexRSSSource] : public Plex watchlist RSS feed, no token required
//   - [LetterboxdSource] : diary RSS feeds and scraped public watchlists for a set of users
//   - [TraktSource] : authenticated Trakt watchlist
//
// A source returns an error only when nothing usable was fetched. Failed pages or users mark the
// [FetchResult] as partial and keep the items that did arrive.
//
// # Targets
//
// [RadarrClient] implements [MovieTarget] and [SonarrClient] implements [SeriesTarget]. Both check for
// an existing entry first, then look the item up and add it. A validation error saying the item already
// exists is reported as [AlreadyPresent].
//
// # Enrichment
//
// [TMDBClient] and [LetterboxdEnricher] implement [Enricher]; [EnricherChain] combines them.
//
// # Error Handling
//
// All HTTP goes through [APIClient], which classifies failures:
//   - network errors, 429 and 5xx : [shared.ErrTransientFetch], retried per [shared.RetryPolicy]
//   - other 4xx : [StatusError], wrapping [shared.ErrAPIRequest]
//   - target 4xx on add or lookup : [shared.ErrTargetRejection]
package services
