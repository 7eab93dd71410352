package models

import "time"

// Status is the state of a ledger row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusSuccess, StatusPending, StatusSkipped, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// LedgerRecord is the durable outcome of dispatching one item to one target.
//
// A success row is terminal: later writes for the same (ItemKey, Target) are ignored.
type LedgerRecord struct {
	ID           string      `json:"id"`
	ItemKey      string      `json:"item_key"`
	Target       string      `json:"target"`
	Source       string      `json:"source"`
	Title        string      `json:"title"`
	Kind         MediaKind   `json:"kind"`
	IDs          ProviderIDs `json:"ids"`
	Status       Status      `json:"status"`
	ErrorMessage string      `json:"error,omitempty"`
	Attempts     int         `json:"attempts"`
	Rejections   int         `json:"rejections"` // permanent rejections only
	Permanent    bool        `json:"permanent"`
	SyncedAt     time.Time   `json:"synced_at"`
}

// NewLedgerRecord seeds a record for item against target with the given status.
func NewLedgerRecord(item WatchItem, target string, status Status) *LedgerRecord {
	return &LedgerRecord{
		ItemKey: item.Key(),
		Target:  target,
		Source:  item.Source,
		Title:   item.String(),
		Kind:    item.Kind,
		IDs:     item.IDs,
		Status:  status,
	}
}

// HistoryFilter narrows ledger history queries. Zero values match everything.
type HistoryFilter struct {
	Limit  int
	Status Status
	Target string
	Source string
}
