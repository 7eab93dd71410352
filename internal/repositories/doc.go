// Package repositories implements SQLite persistence for the sync engine.
//
// Key Implementations:
//   - [LedgerRepository] : dedup ledger of (item key, target) outcomes plus per-source baselines
//   - [MetadataCache] : scoped TTL cache for upstream payloads and resolved identifiers
//
// The ledger upsert refuses to replace a success row, so "at most one success per key" holds at the
// storage layer even if a caller misbehaves. [LedgerRepository.WithKey] provides the per-key critical
// section that makes lookup, dispatch and record atomic across goroutines.
//
// Times come from an injected [clock.Clock] so TTL and history ordering can be tested with a fake clock.
// Every database failure wraps shared.ErrPersistence.
package repositories
