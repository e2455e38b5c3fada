package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"recflow/internal/services"
)

const lockRetryDelay = 25 * time.Millisecond

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry := k.entries[key]
	if entry == nil {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// lockPath keeps a readable prefix of the id and appends a digest so ids
// that sanitize to the same prefix still get distinct files.
func (s *Store) lockPath(id string) string {
	prefix := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	if len(prefix) > 40 {
		prefix = prefix[:40]
	}
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(s.lockDir, prefix+"-"+hex.EncodeToString(sum[:8])+".lock")
}

// withRecordingLock runs fn while holding both the in-process and the
// cross-process lock for one recording.
func (s *Store) withRecordingLock(ctx context.Context, id string, fn func() error) error {
	if strings.TrimSpace(id) == "" {
		return services.Wrap(services.ErrValidation, "store", "lock", "recording id is required", nil)
	}
	release := s.keys.lock(id)
	defer release()

	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	fileLock := flock.New(s.lockPath(id))
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := fileLock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "store", "lock",
				fmt.Sprintf("recording %s is locked by another process", id), err)
		}
		return fmt.Errorf("acquire recording lock: %w", err)
	}
	defer func() { _ = fileLock.Unlock() }()
	return fn()
}

func (s *Store) removeLockFile(id string) {
	_ = os.Remove(s.lockPath(id))
}
