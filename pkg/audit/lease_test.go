package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileLeaseExcludes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	a := NewFileLease(path, time.Minute)

	if err := a.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	b := NewFileLease(path, time.Minute)
	b.MaxTries = 2
	if err := b.Acquire(context.Background()); err == nil {
		t.Fatal("second lease should not acquire while held")
	}

	if err := a.Release(); err != nil {
		t.Fatal(err)
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("lease should acquire after release: %v", err)
	}
	_ = b.Release()
}

func TestFileLeaseForceReleasesStaleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.lock")
	if err := os.WriteFile(path, []byte("dead-holder 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	l := NewFileLease(path, 30*time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("stale lock should be force-released: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestFileLeaseReleaseIgnoresForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.lock")
	l := NewFileLease(path, time.Minute)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Simulate a contender force-releasing and re-acquiring under us.
	if err := os.WriteFile(path, []byte("someone-else 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("foreign lockfile must not be removed on release")
	}
}

func TestMutexLeaseHonorsContext(t *testing.T) {
	l := NewMutexLease()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected timeout while lease is held")
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
}
