package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"smsrelay/internal/types"
)

// lockFileName is the process lock inside the state directory.
const lockFileName = "poller.lock"

// Lock is a process-level exclusive lock held for the duration of one poll
// cycle. The external timer is expected to serialize invocations, but the
// lock keeps two overlapping instances from corrupting the state file if that
// expectation breaks.
type Lock struct {
	path string
}

// lockRecord is what the lock file contains, for operator diagnostics.
type lockRecord struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AcquireLock takes the exclusive lock in dir. A live lock yields an
// ErrCodeLockHeld error. A lock older than ttl is treated as left behind by a
// crashed holder and broken.
func AcquireLock(dir string, ttl time.Duration) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewAppError(types.ErrCodePersistence, "creating state directory failed", err)
	}

	path := filepath.Join(dir, lockFileName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			record, _ := json.Marshal(lockRecord{PID: os.Getpid(), AcquiredAt: time.Now().UTC()})
			if _, werr := f.Write(record); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, types.NewAppError(types.ErrCodePersistence, "writing lock file failed", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, types.NewAppError(types.ErrCodePersistence, "closing lock file failed", cerr)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, types.NewAppError(types.ErrCodePersistence, "creating lock file failed", err)
		}

		// Lock exists. Break it only if it outlived its TTL.
		info, statErr := os.Stat(path)
		if statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) {
				continue // holder released between our attempts; retry
			}
			return nil, types.NewAppError(types.ErrCodePersistence, "inspecting lock file failed", statErr)
		}
		if ttl > 0 && time.Since(info.ModTime()) > ttl {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				return nil, types.NewAppError(types.ErrCodePersistence, "breaking stale lock failed", rmErr)
			}
			continue
		}

		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeLockHeld,
			fmt.Sprintf("another poller instance holds the lock (age %s)", time.Since(info.ModTime()).Round(time.Second)),
			nil,
			map[string]any{"path": path},
		)
	}

	return nil, types.NewAppError(types.ErrCodeLockHeld, "could not acquire lock after breaking a stale one", nil)
}

// Release removes the lock file. Safe to call once; a missing file is not an
// error (a stale-lock takeover may have already removed it).
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.NewAppError(types.ErrCodePersistence, "releasing lock failed", err)
	}
	return nil
}
