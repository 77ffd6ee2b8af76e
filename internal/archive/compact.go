package archive

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"smsrelay/internal/state"
	"smsrelay/internal/types"
)

// partitionPattern matches plain partition file names and captures YYYY-MM.
var partitionPattern = regexp.MustCompile(`^sms-inbox-(\d{4})-(\d{2})\.json$`)

// Compact gzips every plain partition file strictly older than the partition
// containing `now`, shifted back by the grace duration, and removes the plain
// file once the compacted copy is durably in place. The current month is never
// touched: it still receives appends. Returns the partitions compacted.
//
// Appends to an already-compacted month (clock skew, backfill) transparently
// re-inflate it via loadPartition, so compaction is safe to run any time.
func (s *FileStore) Compact(ctx context.Context, now time.Time, grace time.Duration) ([]Month, error) {
	cutoff := MonthOf(now.Add(-grace))

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeArchive, "listing archive directory failed", err)
	}

	var compacted []Month
	for _, entry := range entries {
		m := partitionPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		mon, err := strconv.Atoi(m[2])
		if err != nil || mon < 1 || mon > 12 {
			continue
		}
		month := Month{Year: year, Month: time.Month(mon)}
		if !month.Before(cutoff) {
			continue
		}

		if err := s.compactPartition(month); err != nil {
			return compacted, err
		}
		compacted = append(compacted, month)
		s.logger.InfoContext(ctx, "archive partition compacted", "partition", month.String())
	}
	return compacted, nil
}

// compactPartition writes the gzipped copy atomically, then removes the plain
// file. Crashing between the two steps leaves both copies; the plain file
// wins on read and the next compaction run re-does the gzip, so nothing is
// lost either way.
func (s *FileStore) compactPartition(month Month) error {
	raw, err := os.ReadFile(s.partitionFile(month))
	if err != nil {
		return types.NewAppError(types.ErrCodeArchive, "reading partition for compaction failed", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return types.NewAppError(types.ErrCodeArchive, "gzip init failed", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return types.NewAppError(types.ErrCodeArchive, "gzip write failed", err)
	}
	if err := zw.Close(); err != nil {
		return types.NewAppError(types.ErrCodeArchive, "gzip finalize failed", err)
	}

	name := filepath.Base(s.partitionFile(month)) + ".gz"
	if err := state.WriteFileAtomic(s.dir, name, buf.Bytes()); err != nil {
		return err
	}

	if err := os.Remove(s.partitionFile(month)); err != nil {
		return types.NewAppError(types.ErrCodeArchive, "removing compacted plain partition failed", err)
	}
	return nil
}
