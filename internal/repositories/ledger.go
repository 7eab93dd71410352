package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"code.cloudfoundry.org/clock"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/shared"
)

const ledgerColumns = `id, item_key, target_service, source, title, kind, tmdb_id, tvdb_id, imdb_id,
	status, error_message, attempts, rejections, permanent, synced_at`

// LedgerRepository persists dispatch outcomes and baseline markers.
//
// Every failure is wrapped in [shared.ErrPersistence] so callers can abort a pass on it.
type LedgerRepository struct {
	db    *sql.DB
	clock clock.Clock
	locks *keyLocks
}

// NewLedgerRepository creates a new LedgerRepository. A nil clock means wall time.
func NewLedgerRepository(db *sql.DB, clk clock.Clock) *LedgerRepository {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &LedgerRepository{db: db, clock: clk, locks: newKeyLocks()}
}

// WithKey runs fn while holding the lock for (itemKey, target).
//
// Lookup, dispatch and record for one key happen inside a single WithKey call, so concurrent
// passes or workers never dispatch the same item twice.
func (r *LedgerRepository) WithKey(itemKey, target string, fn func() error) error {
	unlock := r.locks.lock(target + "|" + itemKey)
	defer unlock()
	return fn()
}

// Lookup returns the record for (itemKey, target), or nil when there is none.
func (r *LedgerRepository) Lookup(ctx context.Context, itemKey, target string) (*models.LedgerRecord, error) {
	query := `SELECT ` + ledgerColumns + ` FROM synced_items WHERE item_key = ? AND target_service = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, itemKey, target))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceErr("look up "+itemKey, err)
	}
	return rec, nil
}

// Record upserts rec. A stored success is never replaced.
func (r *LedgerRepository) Record(ctx context.Context, rec *models.LedgerRecord) error {
	if !rec.Status.Valid() {
		return persistenceErr("record "+rec.ItemKey, errors.New("invalid status "+string(rec.Status)))
	}
	if rec.ID == "" {
		rec.ID = shared.GenerateID()
	}
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = r.clock.Now().UTC()
	}

	query := `
		INSERT INTO synced_items (` + ledgerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_key, target_service) DO UPDATE SET
			title = excluded.title,
			tmdb_id = COALESCE(excluded.tmdb_id, synced_items.tmdb_id),
			tvdb_id = COALESCE(excluded.tvdb_id, synced_items.tvdb_id),
			imdb_id = COALESCE(excluded.imdb_id, synced_items.imdb_id),
			status = excluded.status,
			error_message = excluded.error_message,
			attempts = excluded.attempts,
			rejections = excluded.rejections,
			permanent = excluded.permanent,
			synced_at = excluded.synced_at
		WHERE synced_items.status <> 'success'
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.ItemKey,
		rec.Target,
		rec.Source,
		rec.Title,
		string(rec.Kind),
		nullString(rec.IDs.TMDB),
		nullString(rec.IDs.TVDB),
		nullString(rec.IDs.IMDB),
		string(rec.Status),
		nullString(rec.ErrorMessage),
		rec.Attempts,
		rec.Rejections,
		rec.Permanent,
		rec.SyncedAt,
	)
	if err != nil {
		return persistenceErr("record "+rec.ItemKey, err)
	}
	return nil
}

// HasBaseline reports whether a baseline was ever captured for source.
func (r *LedgerRepository) HasBaseline(ctx context.Context, source string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM baseline_sources WHERE source = ?)`, source).Scan(&exists)
	if err != nil {
		return false, persistenceErr("check baseline for "+source, err)
	}
	return exists, nil
}

// BaselineMark records keys as pre-existing for source in one transaction and marks the
// source's baseline as captured, even when keys is empty. It returns the number of new keys.
func (r *LedgerRepository) BaselineMark(ctx context.Context, source string, keys []string) (int, error) {
	now := r.clock.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistenceErr("begin baseline", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO baseline_items (item_key, source, marked_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, persistenceErr("prepare baseline insert", err)
	}
	defer stmt.Close()

	marked := 0
	for key := range mapset.NewSet(keys...).Iter() {
		res, err := stmt.ExecContext(ctx, key, source, now)
		if err != nil {
			return 0, persistenceErr("mark baseline "+key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			marked++
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO baseline_sources (source, captured_at) VALUES (?, ?)`, source, now); err != nil {
		return 0, persistenceErr("mark baseline source "+source, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, persistenceErr("commit baseline", err)
	}
	return marked, nil
}

// IsBaseline reports whether itemKey was present when its source's baseline was captured.
func (r *LedgerRepository) IsBaseline(ctx context.Context, itemKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM baseline_items WHERE item_key = ?)`, itemKey).Scan(&exists)
	if err != nil {
		return false, persistenceErr("check baseline item "+itemKey, err)
	}
	return exists, nil
}

// BaselineKeys returns every baseline key recorded for source.
func (r *LedgerRepository) BaselineKeys(ctx context.Context, source string) (mapset.Set[string], error) {
	rows, err := r.db.QueryContext(ctx, `SELECT item_key FROM baseline_items WHERE source = ?`, source)
	if err != nil {
		return nil, persistenceErr("list baseline for "+source, err)
	}
	defer rows.Close()

	keys := mapset.NewThreadUnsafeSet[string]()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, persistenceErr("scan baseline key", err)
		}
		keys.Add(key)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate baseline", err)
	}
	return keys, nil
}

// ResetBaseline forgets the baseline of source, or of every source when source is empty.
func (r *LedgerRepository) ResetBaseline(ctx context.Context, source string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistenceErr("begin baseline reset", err)
	}
	defer tx.Rollback()

	where, args := "", []any{}
	if source != "" {
		where, args = " WHERE source = ?", []any{source}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM baseline_items`+where, args...)
	if err != nil {
		return 0, persistenceErr("reset baseline items", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM baseline_sources`+where, args...); err != nil {
		return 0, persistenceErr("reset baseline sources", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, persistenceErr("commit baseline reset", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// History lists ledger rows, most recent first.
func (r *LedgerRepository) History(ctx context.Context, filter models.HistoryFilter) ([]models.LedgerRecord, error) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Target != "" {
		conds = append(conds, "target_service = ?")
		args = append(args, filter.Target)
	}
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}

	query := `SELECT ` + ledgerColumns + ` FROM synced_items`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY synced_at DESC, item_key"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr("query history", err)
	}
	defer rows.Close()

	var records []models.LedgerRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, persistenceErr("scan history row", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate history", err)
	}
	return records, nil
}

// Counts returns the number of rows per status.
func (r *LedgerRepository) Counts(ctx context.Context) (map[models.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM synced_items GROUP BY status`)
	if err != nil {
		return nil, persistenceErr("count ledger rows", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int, len(models.Statuses))
	for _, s := range models.Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, persistenceErr("scan ledger count", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

// Clear deletes ledger rows, all of them when status is empty. Only operators call this.
func (r *LedgerRepository) Clear(ctx context.Context, status models.Status) (int64, error) {
	query, args := `DELETE FROM synced_items`, []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistenceErr("clear ledger", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.LedgerRecord, error) {
	var (
		rec                  models.LedgerRecord
		kind, status         string
		tmdb, tvdb, imdb, em sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.ItemKey,
		&rec.Target,
		&rec.Source,
		&rec.Title,
		&kind,
		&tmdb,
		&tvdb,
		&imdb,
		&status,
		&em,
		&rec.Attempts,
		&rec.Rejections,
		&rec.Permanent,
		&rec.SyncedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = models.MediaKind(kind)
	rec.Status = models.Status(status)
	rec.IDs = models.ProviderIDs{TMDB: tmdb.String, TVDB: tvdb.String, IMDB: imdb.String}
	rec.ErrorMessage = em.String
	return &rec, nil
}
