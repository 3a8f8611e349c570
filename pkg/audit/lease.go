package audit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Lease is an exclusive, cross-process guard around ledger appends. Concurrent
// writers serialize through it; a holder that crashes must not wedge the log
// forever, so implementations detect stale holders by age and force-release.
type Lease interface {
	Acquire(ctx context.Context) error
	Release() error
}

// MutexLease guards appends within a single process. It is the natural choice
// when exactly one process owns the ledger file.
type MutexLease struct {
	mu sync.Mutex
}

func NewMutexLease() *MutexLease { return &MutexLease{} }

func (l *MutexLease) Acquire(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The goroutine will eventually take the lock; hand it straight back.
		go func() {
			<-done
			l.mu.Unlock()
		}()
		return fmt.Errorf("%w: %v", ErrLeaseTimeout, ctx.Err())
	}
}

func (l *MutexLease) Release() error {
	l.mu.Unlock()
	return nil
}

// FileLease implements the lease with an exclusively-created lockfile.
// A lockfile older than Staleness is treated as abandoned by a crashed holder
// and force-released, trading a small tamper window for liveness.
type FileLease struct {
	Path      string
	Staleness time.Duration
	MaxTries  uint

	// mu serializes holders within this process; the lockfile arbitrates
	// across processes.
	mu     sync.Mutex
	holder string
}

// NewFileLease creates a lockfile lease at path.
func NewFileLease(path string, staleness time.Duration) *FileLease {
	if staleness <= 0 {
		staleness = 30 * time.Second
	}
	return &FileLease{Path: path, Staleness: staleness, MaxTries: 20}
}

func (l *FileLease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	token := uuid.New().String()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := l.tryAcquire(token); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(l.MaxTries))
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrLeaseTimeout, err)
	}
	l.holder = token
	return nil
}

func (l *FileLease) tryAcquire(token string) error {
	f, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		_, werr := fmt.Fprintf(f, "%s %d\n", token, time.Now().UnixNano())
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(l.Path)
			return backoff.Permanent(fmt.Errorf("write lockfile: %v / %v", werr, cerr))
		}
		return nil
	}
	if !os.IsExist(err) {
		return backoff.Permanent(err)
	}

	// Lock held by someone else. Force-release only if stale.
	info, serr := os.Stat(l.Path)
	if serr == nil && time.Since(info.ModTime()) > l.Staleness {
		_ = os.Remove(l.Path)
	}
	return fmt.Errorf("lock held: %s", l.Path)
}

func (l *FileLease) Release() error {
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // force-released by another contender
		}
		return err
	}
	// Only remove a lock we still own.
	if fields := strings.Fields(string(data)); len(fields) > 0 && fields[0] != l.holder {
		return nil
	}
	return os.Remove(l.Path)
}
