// Package tasks runs sync passes from watch-intent sources into the media automation targets.
//
// # Pass Lifecycle
//
// An [Orchestrator] pass moves through the [State] values in order:
//
//  1. FetchingSources : every configured source is read one at a time
//     - Items are deduplicated by key across sources
//     - A failed or partial source is reported and does not stop the others
//     - With ignore-existing, the first complete fetch of a source becomes its baseline
//
//  2. Resolving : items are screened against the ledger, then run through the [Resolver]
//     - Items already synced, in the baseline, or rated below the threshold stop here
//     - Missing TMDB or TVDB ids are looked up and cached
//
//  3. Dispatching : the [Dispatcher] sends each item to Radarr or Sonarr
//     - Every (item, target) pair is serialised through the ledger, so a target is called at most once
//     - Permanent rejections are retried until the configured maximum, then skipped
//
//  4. Recording : expired cache entries are purged and the [models.PassSummary] is published
//
// [Orchestrator.RunOnce] performs one pass. [Orchestrator.Follow] repeats passes, scheduling each
// source on its own interval until the context is cancelled.
//
// # Progress Reporting
//
// Progress updates go through an optional channel. Sends use select with default so a slow reader
// never blocks a pass.
//
// # Failure Handling
//
// Source and item failures are recorded in the summary. Only cancellation and ledger write failures
// abort a pass, and both are returned as errors from RunOnce.
package tasks
