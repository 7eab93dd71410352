// Package models defines the entities shared by sources, the ledger, and the sync engine.
//
// The package contains three groups of types:
//
// 1. Fetched data, rebuilt on every pass
//   - [WatchItem] : one watch-intent entry with its [ProviderIDs] and optional rating
//
// 2. Persisted state
//   - [LedgerRecord] : the outcome of dispatching an item to a target, keyed by item key and target name
//   - [HistoryFilter] : criteria for reading ledger history
//
// 3. Pass reporting
//   - [Result] : the per-item decision of a pass
//   - [SourceReport] and [PassSummary] : what a pass fetched and did
//
// An item key is "source:kind:external_id". It is stable across passes and is the only thing the
// ledger and the baseline need to remember about an item.
package models
