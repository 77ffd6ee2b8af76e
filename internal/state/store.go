// Package state persists the poller's progress record between invocations.
//
// Durability discipline: every save writes to a temporary file in the state
// directory and atomically renames it over the canonical file, so a reader
// never observes a half-written state. Load never fails: a missing or
// unreadable file falls back to a default-initialized state (logged), because
// refusing to start over a corrupt watermark would take the relay down harder
// than re-deriving it from hashes ever could.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"smsrelay/internal/codec"
	"smsrelay/internal/types"
)

// stateFileName is the canonical state file inside the state directory.
const stateFileName = "poller-state.json"

// Store reads and writes the PollerState.
type Store struct {
	dir    string
	codec  codec.Codec
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir. The codec is applied to the latest
// message's content at this boundary; pass codec.PlainCodec{} for plaintext
// storage.
func NewStore(dir string, contentCodec codec.Codec, logger *slog.Logger) *Store {
	if contentCodec == nil {
		contentCodec = codec.PlainCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, codec: contentCodec, logger: logger}
}

// persistedMessage mirrors types.Message with the content in stored form.
type persistedMessage struct {
	ID         int64               `json:"id"`
	Sender     string              `json:"sender"`
	ReceivedAt string              `json:"received_at"`
	Content    codec.StoredContent `json:"content"`
	Read       bool                `json:"read"`
}

// persistedState is the on-disk schema. It matches types.PollerState except
// for the codec-wrapped latest message. Older schema versions load cleanly:
// absent fields are defaulted by migrate.
type persistedState struct {
	types.PollerState
	LatestMessage *persistedMessage `json:"latest_message,omitempty"`
}

// Path returns the canonical state file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, stateFileName)
}

// Load returns the persisted state, or a default-initialized state if none
// exists or the file is unreadable. It never fails.
func (s *Store) Load(ctx context.Context) *types.PollerState {
	state, err := s.LoadChecked(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.InfoContext(ctx, "no state file found, initializing new state", "path", s.Path())
		} else {
			s.logger.WarnContext(ctx, "state file unreadable, starting from defaults",
				"path", s.Path(),
				"error", err,
			)
		}
		return types.NewPollerState()
	}
	return state
}

// LoadChecked returns the persisted state, surfacing read failures instead of
// defaulting: fs.ErrNotExist when no file exists, a state_corrupt AppError
// when the file does not parse. The health evaluator uses it to distinguish a
// broken state file from a fresh one.
func (s *Store) LoadChecked(ctx context.Context) (*types.PollerState, error) {
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		return nil, err
	}

	var persisted persistedState
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, types.NewAppError(types.ErrCodeStateCorrupt, "state file is not valid JSON", err)
	}

	state := persisted.PollerState
	s.migrate(ctx, &state, raw)

	if persisted.LatestMessage != nil {
		content, err := s.codec.Decode(persisted.LatestMessage.Content)
		if err != nil {
			// Keep the rest of the state; only the preview is lost.
			s.logger.WarnContext(ctx, "latest message content undecodable, dropping it", "error", err)
		} else {
			state.LatestMessage = &types.Message{
				ID:         persisted.LatestMessage.ID,
				Sender:     persisted.LatestMessage.Sender,
				ReceivedAt: persisted.LatestMessage.ReceivedAt,
				Content:    content,
				Read:       persisted.LatestMessage.Read,
			}
		}
	}

	return &state, nil
}

// migrate defaults fields absent from older schema versions:
// missing processed_hashes -> empty set, missing max_id_seen ->
// last_processed_id, missing consecutive_failures -> 0 (zero value already).
func (s *Store) migrate(ctx context.Context, state *types.PollerState, raw []byte) {
	if state.SchemaVersion >= types.StateSchemaVersion {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}

	if _, ok := fields["processed_hashes"]; !ok {
		state.ProcessedHashes = []string{}
		s.logger.InfoContext(ctx, "migrated state: added processed_hashes field")
	}
	if _, ok := fields["max_id_seen"]; !ok {
		state.MaxIDSeen = state.LastProcessedID
		s.logger.InfoContext(ctx, "migrated state: added max_id_seen field")
	}

	state.SchemaVersion = types.StateSchemaVersion
}

// Save persists the state atomically. Returns a persistence AppError if the
// write cannot be made durable; the caller decides whether that is fatal for
// the cycle.
func (s *Store) Save(ctx context.Context, state *types.PollerState) error {
	persisted := persistedState{PollerState: *state}
	persisted.PollerState.LatestMessage = nil
	persisted.SchemaVersion = types.StateSchemaVersion

	if state.LatestMessage != nil {
		stored, err := s.codec.Encode(state.LatestMessage.Content)
		if err != nil {
			return types.NewAppError(types.ErrCodePersistence, "encoding latest message failed", err)
		}
		persisted.LatestMessage = &persistedMessage{
			ID:         state.LatestMessage.ID,
			Sender:     state.LatestMessage.Sender,
			ReceivedAt: state.LatestMessage.ReceivedAt,
			Content:    stored,
			Read:       state.LatestMessage.Read,
		}
	}

	raw, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrCodePersistence, "encoding state failed", err)
	}

	if err := WriteFileAtomic(s.dir, stateFileName, raw); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "state saved",
		"last_processed_id", state.LastProcessedID,
		"hashes_tracked", len(state.ProcessedHashes),
	)
	return nil
}

// Reset overwrites the state with defaults. Emergency use via the CLI.
func (s *Store) Reset(ctx context.Context) error {
	return s.Save(ctx, types.NewPollerState())
}

// WriteFileAtomic writes data to dir/name via a temp file and rename, fsyncing
// before the swap. Shared by the state store, the file archive backend, and
// the notifier's rate-limit record.
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewAppError(types.ErrCodePersistence, "creating state directory failed", err)
	}

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return types.NewAppError(types.ErrCodePersistence, "creating temp file failed", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return types.NewAppError(types.ErrCodePersistence, "writing temp file failed", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return types.NewAppError(types.ErrCodePersistence, "syncing temp file failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodePersistence, "closing temp file failed", err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return types.NewAppError(types.ErrCodePersistence, "replacing file failed", err)
	}
	return nil
}
