package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(tempDir, LockFileName)
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Errorf("Lock file was not created: %s", lockPath)
	}

	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	expectedContent := fmt.Sprintf("pid=%d\n", os.Getpid())
	if string(content) != expectedContent {
		t.Errorf("Lock file content mismatch. Expected: %q, Got: %q", expectedContent, string(content))
	}
}

func TestLockRelease(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	lockPath := filepath.Join(tempDir, LockFileName)
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after release: %s", lockPath)
	}

	// Release is idempotent
	if err := lock.Release(); err != nil {
		t.Errorf("Second release returned error: %v", err)
	}

	// Lock can be reacquired after release
	lock2, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	lock2.Release()
}

func TestLockErrorMessage(t *testing.T) {
	cause := errors.New("resource temporarily unavailable")
	lockErr := &LockError{
		LockPath:     "/tmp/state/ventabot.lock",
		ExistingInfo: "PID 1234 (running)",
		Cause:        cause,
	}

	msg := lockErr.Error()
	if !strings.Contains(msg, "/tmp/state/ventabot.lock") {
		t.Errorf("error message missing lock path: %s", msg)
	}
	if !strings.Contains(msg, "PID 1234") {
		t.Errorf("error message missing process info: %s", msg)
	}
	if !errors.Is(lockErr, cause) {
		t.Error("expected errors.Is to unwrap the cause")
	}
}

func TestExtractPIDFromLockInfo(t *testing.T) {
	if pid := extractPIDFromLockInfo("pid=4321\n"); pid != 4321 {
		t.Errorf("expected 4321, got %d", pid)
	}
	if pid := extractPIDFromLockInfo("garbage"); pid != 0 {
		t.Errorf("expected 0 for missing pid, got %d", pid)
	}
	if pid := extractPIDFromLockInfo("pid=\n"); pid != 0 {
		t.Errorf("expected 0 for empty pid, got %d", pid)
	}
}
