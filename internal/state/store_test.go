package state

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/codec"
	"smsrelay/internal/types"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir, codec.PlainCodec{}, nil), dir
}

func TestLoad_NoFileReturnsDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	state := store.Load(context.Background())

	assert.Equal(t, int64(0), state.LastProcessedID)
	assert.Equal(t, int64(0), state.MaxIDSeen)
	assert.Empty(t, state.ProcessedHashes)
	assert.Zero(t, state.ConsecutiveFailures)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LastProcessedID = 42
	state.MaxIDSeen = 42
	state.ProcessedHashes = []string{"aaaa", "bbbb"}
	state.TotalReceived = 7
	state.LastCheck = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	state.LastMessageAt = time.Date(2026, 1, 15, 9, 55, 0, 0, time.UTC)
	state.ConsecutiveFailures = 2
	state.LatestMessage = &types.Message{ID: 42, Sender: "+49", ReceivedAt: "t", Content: "OTP 123456"}

	require.NoError(t, store.Save(ctx, state))

	loaded := store.Load(ctx)
	assert.Equal(t, state, loaded)
}

func TestLoad_CorruptFileFallsBackToDefaults(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poller-state.json"), []byte("{not json"), 0o644))

	state := store.Load(context.Background())
	assert.Equal(t, types.NewPollerState(), state)
}

func TestLoadChecked_MissingFileReturnsNotExist(t *testing.T) {
	store, _ := newTestStore(t)

	state, err := store.LoadChecked(context.Background())
	assert.Nil(t, state)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadChecked_CorruptFileReturnsStateCorrupt(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poller-state.json"), []byte("{not json"), 0o644))

	state, err := store.LoadChecked(context.Background())
	assert.Nil(t, state)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeStateCorrupt, types.CodeOf(err))
}

func TestLoadChecked_ValidFileMatchesLoad(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LastProcessedID = 11
	state.MaxIDSeen = 11
	require.NoError(t, store.Save(ctx, state))

	checked, err := store.LoadChecked(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Load(ctx), checked)
}

func TestLoad_MigratesV1Schema(t *testing.T) {
	store, dir := newTestStore(t)

	// A v1-era file: no schema_version, no processed_hashes, no max_id_seen,
	// no consecutive_failures.
	v1 := []byte(`{"last_processed_id": 17, "total_received": 4}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "poller-state.json"), v1, 0o644))

	state := store.Load(context.Background())

	assert.Equal(t, int64(17), state.LastProcessedID)
	assert.Equal(t, int64(17), state.MaxIDSeen, "absent max_id_seen defaults to last_processed_id")
	assert.NotNil(t, state.ProcessedHashes)
	assert.Empty(t, state.ProcessedHashes)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.Equal(t, types.StateSchemaVersion, state.SchemaVersion)
}

func TestLoad_CurrentSchemaNotRemigrated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LastProcessedID = 9
	state.MaxIDSeen = 30 // legitimately ahead of the watermark
	require.NoError(t, store.Save(ctx, state))

	loaded := store.Load(ctx)
	assert.Equal(t, int64(30), loaded.MaxIDSeen, "migration must not clobber a real max_id_seen")
}

func TestSave_AtomicReplaceLeavesNoTempFiles(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LastProcessedID = 1
	require.NoError(t, store.Save(ctx, state))
	state.LastProcessedID = 2
	require.NoError(t, store.Save(ctx, state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the canonical file remains")
	assert.Equal(t, "poller-state.json", entries[0].Name())

	loaded := store.Load(ctx)
	assert.Equal(t, int64(2), loaded.LastProcessedID)
}

func TestSave_UnwritableDirSurfacesPersistenceError(t *testing.T) {
	store := NewStore("/proc/definitely-not-writable", codec.PlainCodec{}, nil)

	err := store.Save(context.Background(), types.NewPollerState())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodePersistence, types.CodeOf(err))
}

func TestSave_SealedContentNotPlaintextOnDisk(t *testing.T) {
	dir := t.TempDir()
	sealed, err := codec.NewAEADCodec(bytes.Repeat([]byte{3}, codec.KeySize))
	require.NoError(t, err)
	store := NewStore(dir, sealed, nil)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LatestMessage = &types.Message{ID: 1, Sender: "+49", ReceivedAt: "t", Content: "OTP 987654"}
	require.NoError(t, store.Save(ctx, state))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "987654")
	assert.Contains(t, string(raw), "sealed:v1:")

	loaded := store.Load(ctx)
	require.NotNil(t, loaded.LatestMessage)
	assert.Equal(t, "OTP 987654", loaded.LatestMessage.Content)
}

func TestLoad_SealedContentWithoutKeyDropsPreviewOnly(t *testing.T) {
	dir := t.TempDir()
	sealed, err := codec.NewAEADCodec(bytes.Repeat([]byte{3}, codec.KeySize))
	require.NoError(t, err)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LastProcessedID = 8
	state.LatestMessage = &types.Message{ID: 8, Sender: "+49", ReceivedAt: "t", Content: "secret"}
	require.NoError(t, NewStore(dir, sealed, nil).Save(ctx, state))

	// Re-read with a plain store (key lost / not configured).
	loaded := NewStore(dir, codec.PlainCodec{}, nil).Load(ctx)
	assert.Equal(t, int64(8), loaded.LastProcessedID, "watermark survives")
	assert.Nil(t, loaded.LatestMessage, "undecodable preview is dropped, not returned as ciphertext")
}

func TestReset(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LastProcessedID = 99
	require.NoError(t, store.Save(ctx, state))

	require.NoError(t, store.Reset(ctx))
	assert.Equal(t, types.NewPollerState(), store.Load(ctx))
}

func TestPersistedStateJSONFieldNames(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := types.NewPollerState()
	state.LastProcessedID = 5
	require.NoError(t, store.Save(ctx, state))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"schema_version", "last_processed_id", "max_id_seen", "processed_hashes", "total_received", "consecutive_failures"} {
		assert.Contains(t, fields, key)
	}
}

func TestAcquireLock_Exclusive(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, time.Minute)
	require.NoError(t, err)

	_, err = AcquireLock(dir, time.Minute)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeLockHeld, types.CodeOf(err))

	require.NoError(t, lock.Release())

	lock2, err := AcquireLock(dir, time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestAcquireLock_BreaksStaleLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, 50*time.Millisecond)
	require.NoError(t, err)
	_ = lock // crashed holder: never released

	// Age the lock file past the TTL.
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "poller.lock"), old, old))

	lock2, err := AcquireLock(dir, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteFileAtomic(dir, "f.json", []byte("one")))
	require.NoError(t, WriteFileAtomic(dir, "f.json", []byte("two")))

	raw, err := os.ReadFile(filepath.Join(dir, "f.json"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(raw))
}
