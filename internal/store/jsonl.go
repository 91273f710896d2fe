package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/matsen/promise/internal/logging"
	"github.com/matsen/promise/internal/promise"
)

// MaxJSONLLineCapacity is the longest JSONL line accepted (1MB per line).
// Longer lines are skipped.
const MaxJSONLLineCapacity = 1024 * 1024

// ReadAttempts reads all attempt records from a JSONL file. A missing file
// yields no records. An unreadable file is logged and yields the records read
// before the failure. Malformed or oversized lines are logged and skipped so
// one bad line does not discard the rest of the history.
func ReadAttempts(path string, logger *slog.Logger) []promise.AttemptRecord {
	if logger == nil {
		logger = logging.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			warnUnreadableAttempts(logger, path, err)
		}
		return nil
	}
	defer f.Close()

	var records []promise.AttemptRecord
	reader := bufio.NewReader(f)

	lineNum := 0
	for {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) > 0 {
			lineNum++
			if r, ok := parseAttemptLine(logger, path, lineNum, raw); ok {
				records = append(records, r)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			warnUnreadableAttempts(logger, path, readErr)
			break
		}
	}

	return records
}

func parseAttemptLine(logger *slog.Logger, path string, lineNum int, raw []byte) (promise.AttemptRecord, bool) {
	var r promise.AttemptRecord
	if len(raw) > MaxJSONLLineCapacity {
		logger.Warn("skipping oversized attempt record",
			logging.String(logging.FieldEventType, "attempt_parse_failed"),
			logging.String("path", path),
			logging.Int("line", lineNum),
			logging.Int("bytes", len(raw)))
		return r, false
	}

	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return r, false
	}

	if err := json.Unmarshal(line, &r); err != nil || r.ItemID == "" || r.ISBN == "" {
		logger.Warn("skipping malformed attempt record",
			logging.String(logging.FieldEventType, "attempt_parse_failed"),
			logging.String("path", path),
			logging.Int("line", lineNum),
			logging.Error(err))
		return r, false
	}
	return r, true
}

func warnUnreadableAttempts(logger *slog.Logger, path string, err error) {
	logger.Warn("failed to read attempts file",
		logging.String(logging.FieldEventType, "attempts_load_failed"),
		logging.String("path", path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "starting without earlier attempt history"))
}

// WriteAttempts writes all attempt records to a JSONL file, replacing
// existing content.
func WriteAttempts(path string, records []promise.AttemptRecord) error {
	var buf bytes.Buffer
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding attempt %d: %w", i, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return writeFileAtomic(path, buf.Bytes())
}
