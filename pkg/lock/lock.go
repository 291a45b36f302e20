// Package lock implements the single-writer instance lock (spec §5):
// a sentinel written to the backend's reserved lock key, refreshed
// periodically for the life of an open repository, and cleared on
// close. The pattern mirrors the SharedCode-sop Redis locker's
// write-a-token/read-it-back approach, adapted to acid-store's plain
// key/value Backend instead of Redis's native TTL.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/backend"
)

// DefaultGracePeriod is how long a sentinel is honored after its last
// refresh before a subsequent Acquire treats it as stale (spec §5:
// "a lock older than a grace period may be force-cleared").
const DefaultGracePeriod = 30 * time.Second

// DefaultRefreshInterval is how often a held lock's timestamp is
// rewritten, comfortably inside DefaultGracePeriod.
const DefaultRefreshInterval = 10 * time.Second

// sentinel is the JSON body written to the backend's reserved lock
// key (spec §6 leaves the lock payload's own layout implementation-
// free, unlike the superblock/block formats it fixes exactly).
type sentinel struct {
	InstanceID string    `json:"instance_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Lock represents a held instance lock. It is not safe for concurrent
// use from multiple goroutines beyond the refresh loop it starts
// itself.
type Lock struct {
	be           backend.Backend
	instanceID   string
	acquiredAt   time.Time
	gracePeriod  time.Duration
	refreshEvery time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Acquire attempts to take the instance lock (spec §5). If a live
// sentinel already exists, it fails with Locked. If a sentinel exists
// but is older than gracePeriod, it fails with StaleLock unless
// force is true, in which case the stale sentinel is overwritten.
func Acquire(ctx context.Context, be backend.Backend, gracePeriod, refreshEvery time.Duration, force bool) (*Lock, error) {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if refreshEvery <= 0 {
		refreshEvery = DefaultRefreshInterval
	}

	existing, err := readSentinel(ctx, be)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if existing != nil {
		age := time.Since(existing.RefreshedAt)
		if age <= gracePeriod {
			return nil, apierr.New(apierr.CodeLocked,
				fmt.Sprintf("held by instance %s, refreshed %s ago", existing.InstanceID, age), nil)
		}
		if !force {
			return nil, apierr.New(apierr.CodeStaleLock,
				fmt.Sprintf("held by instance %s, refreshed %s ago (older than grace period)", existing.InstanceID, age), nil)
		}
	}

	instanceID := uuid.NewString()
	now := time.Now()
	s := sentinel{InstanceID: instanceID, AcquiredAt: now, RefreshedAt: now}
	if err := writeSentinel(ctx, be, s); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	l := &Lock{be: be, instanceID: instanceID, acquiredAt: now, gracePeriod: gracePeriod, refreshEvery: refreshEvery, cancel: cancel, done: make(chan struct{})}
	go l.refreshLoop(lockCtx)
	return l, nil
}

// refreshLoop periodically rewrites the sentinel's RefreshedAt so a
// concurrent Acquire elsewhere sees the lock as live.
func (l *Lock) refreshLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := sentinel{InstanceID: l.instanceID, AcquiredAt: l.acquiredAt, RefreshedAt: time.Now()}
			// Best-effort: a transient backend error here does not
			// invalidate the lock immediately, since gracePeriod
			// tolerates a missed refresh or two.
			_ = writeSentinel(context.Background(), l.be, s)
		}
	}
}

// Release stops the refresh loop and removes the sentinel (spec §5:
// "removed on close").
func (l *Lock) Release(ctx context.Context) error {
	l.cancel()
	<-l.done
	if err := l.be.Remove(ctx, backend.KeyLock); err != nil {
		return apierr.New(apierr.CodeIO, "removing instance lock", err)
	}
	return nil
}

func readSentinel(ctx context.Context, be backend.Backend) (*sentinel, error) {
	data, err := be.Read(ctx, backend.KeyLock)
	if err != nil {
		return nil, err
	}
	var s sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, apierr.New(apierr.CodeCorrupt, "decoding lock sentinel", err)
	}
	return &s, nil
}

func writeSentinel(ctx context.Context, be backend.Backend, s sentinel) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding lock sentinel: %w", err)
	}
	if err := be.Write(ctx, backend.KeyLock, data); err != nil {
		return apierr.New(apierr.CodeIO, "writing instance lock", err)
	}
	return nil
}

func isNotFound(err error) bool {
	re, ok := apierr.AsRepoError(err)
	return ok && re.Code == apierr.CodeNotFound
}
