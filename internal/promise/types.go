// Package promise tracks which ISBNs of a promise item are present in the
// catalog and which missing ISBNs have been submitted for addition.
package promise

import (
	"context"
	"time"
)

// PromiseItem is a donation manifest resolved to its ISBNs.
type PromiseItem struct {
	ID          string    `json:"id"`
	ISBNs       []string  `json:"isbns"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// CheckResult partitions a promise item's ISBNs by catalog presence.
//
// Hits, Misses and Unresolved are disjoint and follow the item's ISBN order.
// Unresolved holds ISBNs that have never been looked up successfully.
// OriginalMisses is the set of ISBNs that were missing the first time they
// were resolved; it survives re-checks.
type CheckResult struct {
	Item           PromiseItem `json:"item"`
	Hits           []string    `json:"hits"`
	Misses         []string    `json:"misses"`
	Unresolved     []string    `json:"unresolved,omitempty"`
	OriginalMisses []string    `json:"original_misses"`
	Stale          bool        `json:"stale,omitempty"`
	CheckedAt      time.Time   `json:"checked_at"`
}

// ItemID returns the identifier of the checked promise item.
func (r CheckResult) ItemID() string {
	return r.Item.ID
}

// Complete reports whether every ISBN has been resolved and the result has
// not been invalidated. Complete results are served from the cache.
func (r CheckResult) Complete() bool {
	return len(r.Unresolved) == 0 && !r.Stale
}

// Outcome is the result of submitting an ISBN for addition.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailure      Outcome = "failure"
	OutcomeNotAttempted Outcome = "not_attempted"
)

// AttemptRecord is the add history of one ISBN within one promise item.
type AttemptRecord struct {
	ItemID      string    `json:"item_id"`
	ISBN        string    `json:"isbn"`
	Outcome     Outcome   `json:"outcome"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
	RunID       string    `json:"run_id,omitempty"`
}

// Attempted reports whether an add was actually submitted and answered.
func (a AttemptRecord) Attempted() bool {
	return a.Outcome == OutcomeSuccess || a.Outcome == OutcomeFailure
}

// AttemptKey identifies an AttemptRecord.
type AttemptKey struct {
	ItemID string
	ISBN   string
}

// Key returns the record's identity.
func (a AttemptRecord) Key() AttemptKey {
	return AttemptKey{ItemID: a.ItemID, ISBN: a.ISBN}
}

// AddReport summarizes one AddMissing run for a promise item.
type AddReport struct {
	ItemID   string          `json:"item_id"`
	RunID    string          `json:"run_id"`
	Attempts []AttemptRecord `json:"attempts"`
	Skipped  []string        `json:"skipped"`
}

// Succeeded counts the successful attempts of the run.
func (r *AddReport) Succeeded() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

// Failed counts the failed attempts of the run.
func (r *AddReport) Failed() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == OutcomeFailure {
			n++
		}
	}
	return n
}

// Catalog is the bibliographic catalog being checked and filled.
type Catalog interface {
	// Lookup reports which of the given ISBNs are present in the catalog.
	// ISBNs absent from the returned map are not in the catalog.
	Lookup(ctx context.Context, isbns []string) (map[string]bool, error)

	// Add asks the catalog to import the given ISBN. A nil error means the
	// catalog accepted it.
	Add(ctx context.Context, isbn string) error
}

// Cache holds check results and attempt records between runs. It is loaded
// before a Tracker is built and saved by the Tracker after each operation.
type Cache interface {
	Result(itemID string) (CheckResult, bool)
	PutResult(result CheckResult)
	Attempt(itemID, isbn string) (AttemptRecord, bool)
	PutAttempt(record AttemptRecord)
	Save() error
}
