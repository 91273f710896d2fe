// Package export writes original misses as tab-separated files for offline
// review of why ISBNs were absent from the catalog.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/matsen/promise/internal/config"
	"github.com/matsen/promise/internal/promise"
)

// TimestampLayout is the timestamp format of the first TSV column.
const TimestampLayout = "2006-01-02_15:04:05"

// ErrExists is returned when an item's misses file was already written.
var ErrExists = errors.New("misses file already exists")

// MissRow is one original miss in the aggregate export.
type MissRow struct {
	CheckedAt time.Time       `json:"checked_at"`
	ItemID    string          `json:"item"`
	ISBN      string          `json:"isbn"`
	Outcome   promise.Outcome `json:"outcome"`
	Attempts  int             `json:"attempts"`
}

// WriteItemMisses records an item's original misses in
// <dataDir>/<id>_misses.tsv as "timestamp, item, isbn" rows.
//
// The file is a record of what was missing before any add, so it is written
// once: if it already exists nothing is written and ErrExists is returned.
func WriteItemMisses(dataDir string, result promise.CheckResult, now time.Time) (string, error) {
	path := config.MissesPath(dataDir, result.ItemID())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return path, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return path, fmt.Errorf("creating %s: %w", path, err)
	}

	w := newTSVWriter(f)
	stamp := now.Format(TimestampLayout)
	for _, isbn := range result.OriginalMisses {
		if err := w.Write([]string{stamp, result.ItemID(), isbn}); err != nil {
			f.Close()
			return path, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return path, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, f.Close()
}

// WriteMisses writes rows as a TSV with a header line.
func WriteMisses(out io.Writer, rows []MissRow) error {
	w := newTSVWriter(out)
	if err := w.Write([]string{"checked_at", "item", "isbn", "outcome", "attempts"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.CheckedAt.Format(TimestampLayout),
			r.ItemID,
			r.ISBN,
			string(r.Outcome),
			fmt.Sprint(r.Attempts),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func newTSVWriter(out io.Writer) *csv.Writer {
	w := csv.NewWriter(out)
	w.Comma = '\t'
	return w
}
