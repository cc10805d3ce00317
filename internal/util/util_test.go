package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryConfig(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false}
	calls := 0
	result, err := Retry(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, Jitter: false}
	calls := 0
	_, err := Retry(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, MarkPermanent(errors.New("database is locked"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (permanent errors must not retry)", calls)
	}
}

func TestRetryNonRetryableStops(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, Jitter: false}
	calls := 0
	_, err := Retry(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errors.New("no such table: sessions")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, DefaultRetryConfig(), func() (int, error) {
		return 0, errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	tests := []struct {
		err    error
		expect bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("subprocess timeout after 5s"), true},
		{errors.New("broken pipe"), true},
		{errors.New("can't find window: chief"), false},
		{fmt.Errorf("capture failed: %w", errors.New("Resource temporarily unavailable")), true},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := DefaultIsRetryable(tt.err); got != tt.expect {
				t.Errorf("DefaultIsRetryable(%v) = %v, want %v", tt.err, got, tt.expect)
			}
		})
	}
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if len(id) != 8 {
			t.Fatalf("NewSessionID() = %q, want 8 chars", id)
		}
		for _, r := range id {
			if !strings.ContainsRune("0123456789abcdef", r) {
				t.Fatalf("NewSessionID() = %q, contains non-hex rune %q", id, r)
			}
		}
		if seen[id] {
			t.Fatalf("NewSessionID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestNewBufferName(t *testing.T) {
	name := NewBufferName()
	if !strings.HasPrefix(name, "inject-") {
		t.Errorf("NewBufferName() = %q, want inject- prefix", name)
	}
	if name == NewBufferName() {
		t.Error("NewBufferName() not unique")
	}
}

func TestAtomicWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "sub", "test.txt")

	if err := AtomicWriteFile(testFile, []byte("hello world"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile error: %v", err)
	}

	content, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(content) != "hello world" {
		t.Errorf("content = %q, want %q", content, "hello world")
	}

	// Temp file must not linger
	if _, err := os.Stat(testFile + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file was not cleaned up")
	}

	// Overwrite in place
	if err := AtomicWriteFile(testFile, []byte("second"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile overwrite error: %v", err)
	}
	content, _ = os.ReadFile(testFile)
	if string(content) != "second" {
		t.Errorf("content after overwrite = %q, want %q", content, "second")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in     string
		expect string
	}{
		{"Morning Reset", "morning-reset"},
		{"  Evening Review!  ", "evening-review"},
		{"nightly_digest", "nightly-digest"},
		{"", "untitled"},
		{"***", "untitled"},
		{"A", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.expect {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.expect)
			}
		})
	}
}
