package promise

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matsen/promise/internal/logging"
)

// DefaultBatchSize is the number of ISBNs sent per catalog lookup.
const DefaultBatchSize = 100

// Tracker runs catalog checks and add submissions against a Cache.
// It is not safe for concurrent use.
type Tracker struct {
	catalog   Catalog
	cache     Cache
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
	newRunID  func() string
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithBatchSize sets how many ISBNs are looked up per catalog query.
func WithBatchSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logging.NewComponentLogger(l, "tracker")
	}
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithRunIDFunc sets the generator for add-run identifiers (for testing).
func WithRunIDFunc(f func() string) TrackerOption {
	return func(t *Tracker) {
		t.newRunID = f
	}
}

// NewTracker creates a Tracker over the given catalog and cache.
func NewTracker(catalog Catalog, cache Cache, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		catalog:   catalog,
		cache:     cache,
		logger:    logging.NewComponentLogger(nil, "tracker"),
		batchSize: DefaultBatchSize,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type isbnState int

const (
	stateUnresolved isbnState = iota
	stateHit
	stateMiss
)

// Check partitions the item's ISBNs into hits and misses.
//
// A complete cached result is returned without querying the catalog. A
// partial result only re-queries its unresolved ISBNs, and an invalidated
// result re-queries everything. ISBNs in a failed lookup batch stay
// unresolved (or keep their previous classification when re-checking) and
// are retried by the next call. Repeated ISBNs are checked once and appear
// once in the result. The result is saved before returning.
func (t *Tracker) Check(ctx context.Context, item PromiseItem) (CheckResult, error) {
	prev, cached := t.cache.Result(item.ID)
	if cached && prev.Complete() {
		t.logger.Debug("using cached check result", logging.String(logging.FieldItem, item.ID))
		return prev, nil
	}

	result := CheckResult{Item: item}
	var pending []string
	if cached {
		result = prev
		if prev.Stale {
			pending = prev.Item.ISBNs
		} else {
			pending = prev.Unresolved
		}
	} else {
		pending = item.ISBNs
	}
	result.Item.ISBNs = uniqueISBNs(result.Item.ISBNs)
	pending = uniqueISBNs(pending)

	state := make(map[string]isbnState, len(result.Item.ISBNs))
	for _, isbn := range result.Hits {
		state[isbn] = stateHit
	}
	for _, isbn := range result.Misses {
		state[isbn] = stateMiss
	}
	original := toSet(result.OriginalMisses)

	failed := false
	var ctxErr error
	for _, batch := range makeBatches(pending, t.batchSize) {
		if ctxErr = ctx.Err(); ctxErr != nil {
			failed = true
			break
		}

		found, err := t.catalog.Lookup(ctx, batch)
		if err != nil {
			failed = true
			if ctxErr = ctx.Err(); ctxErr != nil {
				break
			}
			t.logger.Warn("catalog lookup failed",
				logging.String(logging.FieldEventType, "lookup_failed"),
				logging.String(logging.FieldItem, item.ID),
				logging.Int("batch_size", len(batch)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "ISBNs stay unresolved and are retried on the next check"))
			continue
		}

		for _, isbn := range batch {
			firstResolution := state[isbn] == stateUnresolved
			if found[isbn] {
				state[isbn] = stateHit
				continue
			}
			state[isbn] = stateMiss
			if firstResolution {
				original[isbn] = struct{}{}
			}
		}
	}

	result.Hits, result.Misses, result.Unresolved = nil, nil, nil
	result.OriginalMisses = nil
	for _, isbn := range result.Item.ISBNs {
		switch state[isbn] {
		case stateHit:
			result.Hits = append(result.Hits, isbn)
		case stateMiss:
			result.Misses = append(result.Misses, isbn)
		default:
			result.Unresolved = append(result.Unresolved, isbn)
		}
		if _, ok := original[isbn]; ok {
			result.OriginalMisses = append(result.OriginalMisses, isbn)
		}
	}
	result.Hits = nonNil(result.Hits)
	result.Misses = nonNil(result.Misses)
	result.OriginalMisses = nonNil(result.OriginalMisses)
	if result.Stale && !failed {
		result.Stale = false
	}
	result.CheckedAt = t.now()

	t.cache.PutResult(result)
	if err := t.cache.Save(); err != nil {
		return result, fmt.Errorf("saving check result for %s: %w", item.ID, err)
	}

	t.logger.Info("checked promise item",
		logging.String(logging.FieldItem, item.ID),
		logging.Int("isbns", len(result.Item.ISBNs)),
		logging.Int("hits", len(result.Hits)),
		logging.Int("misses", len(result.Misses)),
		logging.Int("unresolved", len(result.Unresolved)))

	return result, ctxErr
}

// Invalidate marks a cached result stale so the next Check re-queries every
// ISBN. Original misses are kept. Reports false if nothing was cached.
func (t *Tracker) Invalidate(itemID string) (bool, error) {
	result, ok := t.cache.Result(itemID)
	if !ok {
		return false, nil
	}
	result.Stale = true
	t.cache.PutResult(result)
	if err := t.cache.Save(); err != nil {
		return true, fmt.Errorf("saving invalidated result for %s: %w", itemID, err)
	}
	return true, nil
}

// AddMissing submits the item's misses to the catalog and records the
// outcome of each submission.
//
// Misses come from the cached check result; Check runs first when there is
// none. With skipAttempted, ISBNs whose previous submission succeeded or
// failed are skipped. A failed submission is recorded and the run moves on
// to the next ISBN. Cancellation stops the run; attempt records are saved
// before returning in every case.
func (t *Tracker) AddMissing(ctx context.Context, item PromiseItem, skipAttempted bool) (*AddReport, error) {
	result, ok := t.cache.Result(item.ID)
	if !ok {
		var err error
		result, err = t.Check(ctx, item)
		if err != nil {
			return nil, err
		}
	}

	report := &AddReport{
		ItemID:   item.ID,
		RunID:    t.newRunID(),
		Attempts: []AttemptRecord{},
		Skipped:  []string{},
	}
	logger := t.logger.With(
		logging.String(logging.FieldItem, item.ID),
		logging.String(logging.FieldRunID, report.RunID))

	var ctxErr error
	submitted := make(map[string]struct{}, len(result.Misses))
	for _, isbn := range result.Misses {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		if _, dup := submitted[isbn]; dup {
			continue
		}
		submitted[isbn] = struct{}{}

		prev, found := t.cache.Attempt(item.ID, isbn)
		if skipAttempted && found && prev.Attempted() {
			report.Skipped = append(report.Skipped, isbn)
			continue
		}

		err := t.catalog.Add(ctx, isbn)
		if err != nil && ctx.Err() != nil {
			// Interrupted, not answered: leave the previous record alone.
			ctxErr = ctx.Err()
			break
		}

		record := AttemptRecord{
			ItemID:      item.ID,
			ISBN:        isbn,
			Outcome:     OutcomeSuccess,
			Attempts:    prev.Attempts + 1,
			AttemptedAt: t.now(),
			RunID:       report.RunID,
		}
		if err != nil {
			record.Outcome = OutcomeFailure
			record.LastError = err.Error()
			logger.Warn("add attempt failed",
				logging.String(logging.FieldEventType, "add_failed"),
				logging.String(logging.FieldISBN, isbn),
				logging.Error(err))
		} else {
			logger.Debug("add attempt succeeded", logging.String(logging.FieldISBN, isbn))
		}

		t.cache.PutAttempt(record)
		report.Attempts = append(report.Attempts, record)
	}

	if err := t.cache.Save(); err != nil {
		return report, fmt.Errorf("saving attempts for %s: %w", item.ID, err)
	}

	logger.Info("added missing ISBNs",
		logging.Int("misses", len(result.Misses)),
		logging.Int("succeeded", report.Succeeded()),
		logging.Int("failed", report.Failed()),
		logging.Int("skipped", len(report.Skipped)))

	return report, ctxErr
}

// makeBatches slices items into consecutive batches of at most size.
func makeBatches(items []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches [][]string
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		batches = append(batches, items[i:end])
	}
	return batches
}

// uniqueISBNs returns isbns without repeats, keeping first-occurrence order.
func uniqueISBNs(isbns []string) []string {
	if isbns == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(isbns))
	out := make([]string, 0, len(isbns))
	for _, isbn := range isbns {
		if _, ok := seen[isbn]; ok {
			continue
		}
		seen[isbn] = struct{}{}
		out = append(out, isbn)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, v := range items {
		s[v] = struct{}{}
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
