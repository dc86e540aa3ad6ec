package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	lockPath := filepath.Join(dir, "LOCK")
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file not removed after release")
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want HeldError", err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("held PID = %d, want %d", held.PID, os.Getpid())
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("Release() on nil = %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Release(); err != nil {
		t.Fatal(err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	_ = l2.Release()
}
