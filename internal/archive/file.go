package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"smsrelay/internal/codec"
	"smsrelay/internal/state"
	"smsrelay/internal/types"
)

// Compile-time assertion that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// FileStore keeps one JSON file per calendar month:
// sms-inbox-YYYY-MM.json, replaced atomically on every append. A corrupt
// partition file is logged and started fresh rather than blocking archival.
type FileStore struct {
	dir    string
	codec  codec.Codec
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir. Content passes through the
// codec on write; Read decodes transparently and tolerates mixed
// plain/sealed records.
func NewFileStore(dir string, contentCodec codec.Codec, logger *slog.Logger) *FileStore {
	if contentCodec == nil {
		contentCodec = codec.PlainCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, codec: contentCodec, logger: logger}
}

// storedRecord is the on-disk record form with codec-wrapped content.
type storedRecord struct {
	ID         int64               `json:"id"`
	Sender     string              `json:"sender"`
	ReceivedAt string              `json:"received_at"`
	Content    codec.StoredContent `json:"content"`
	Read       bool                `json:"read"`
	Hash       string              `json:"hash"`
}

// partitionFile returns the plain JSON path for a month.
func (s *FileStore) partitionFile(month Month) string {
	return filepath.Join(s.dir, fmt.Sprintf("sms-inbox-%s.json", month))
}

// Append merges records into the month's file, deduplicating by hash across
// existing and incoming records, then atomically replaces the file.
func (s *FileStore) Append(ctx context.Context, month Month, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	existing := s.loadPartition(ctx, month)

	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.Hash] = struct{}{}
	}

	added := 0
	for _, r := range records {
		if _, dup := seen[r.Hash]; dup {
			continue
		}
		seen[r.Hash] = struct{}{}

		stored, err := s.codec.Encode(r.Content)
		if err != nil {
			return added, types.NewAppError(types.ErrCodeArchive, "encoding archived content failed", err)
		}
		existing = append(existing, storedRecord{
			ID:         r.ID,
			Sender:     r.Sender,
			ReceivedAt: r.ReceivedAt,
			Content:    stored,
			Read:       r.Read,
			Hash:       r.Hash,
		})
		added++
	}

	if added == 0 {
		return 0, nil
	}

	raw, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeArchive, "encoding archive partition failed", err)
	}
	if err := state.WriteFileAtomic(s.dir, filepath.Base(s.partitionFile(month)), raw); err != nil {
		return 0, types.NewAppError(types.ErrCodeArchive, "writing archive partition failed", err)
	}

	s.logger.InfoContext(ctx, "messages archived",
		"partition", month.String(),
		"added", added,
		"offered", len(records),
	)
	return added, nil
}

// Read returns the month's records in first-seen order, decoding content.
// A compacted (gzipped) partition is read transparently.
func (s *FileStore) Read(ctx context.Context, month Month) ([]Record, error) {
	stored := s.loadPartition(ctx, month)

	records := make([]Record, 0, len(stored))
	for _, r := range stored {
		content, err := s.codec.Decode(r.Content)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeArchive,
				fmt.Sprintf("undecodable archived content (hash %s)", r.Hash), err)
		}
		records = append(records, Record{
			Message: types.Message{
				ID:         r.ID,
				Sender:     r.Sender,
				ReceivedAt: r.ReceivedAt,
				Content:    content,
				Read:       r.Read,
			},
			Hash: r.Hash,
		})
	}
	return records, nil
}

// loadPartition reads a month's stored records from the plain file, falling
// back to the compacted file. Missing or corrupt partitions start fresh.
func (s *FileStore) loadPartition(ctx context.Context, month Month) []storedRecord {
	raw, err := os.ReadFile(s.partitionFile(month))
	if errors.Is(err, fs.ErrNotExist) {
		raw, err = s.readCompacted(month)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "archive partition unreadable, starting fresh",
			"partition", month.String(),
			"error", err,
		)
		return nil
	}

	var records []storedRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		s.logger.WarnContext(ctx, "archive partition corrupt, starting fresh",
			"partition", month.String(),
			"error", err,
		)
		return nil
	}
	return records
}

// readCompacted reads and inflates a gzipped partition.
func (s *FileStore) readCompacted(month Month) ([]byte, error) {
	f, err := os.Open(s.partitionFile(month) + ".gz")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}
