package upload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSinkAppendsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.webm")
	sink, err := OpenSink(path)
	if err != nil {
		t.Fatalf("OpenSink err: %v", err)
	}

	for _, chunk := range []string{"AAA", "BBB", "CCC"} {
		if err := sink.Append([]byte(chunk)); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}
	if sink.Written() != 9 {
		t.Fatalf("expected 9 bytes written, got %d", sink.Written())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile err: %v", err)
	}
	if string(got) != "AAABBBCCC" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestSinkTruncatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.webm")
	if err := os.WriteFile(path, []byte("previous session data"), 0o644); err != nil {
		t.Fatalf("WriteFile err: %v", err)
	}

	sink, err := OpenSink(path)
	if err != nil {
		t.Fatalf("OpenSink err: %v", err)
	}
	if err := sink.Append([]byte("new")); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "new" {
		t.Fatalf("expected file to be overwritten, got %q", got)
	}
}

func TestOpenSinkMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.webm")
	if _, err := OpenSink(path); err == nil {
		t.Fatal("expected error for missing directory")
	} else if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	sink, err := OpenSink(filepath.Join(t.TempDir(), "out.webm"))
	if err != nil {
		t.Fatalf("OpenSink err: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("first Close err: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close err: %v", err)
	}
	if err := sink.Append([]byte("late")); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestSinkCloseReportsFlushFailure(t *testing.T) {
	sink, err := OpenSink(filepath.Join(t.TempDir(), "rec.webm"))
	if err != nil {
		t.Fatalf("OpenSink err: %v", err)
	}
	if err := sink.Append([]byte("AAA")); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	// Buffered bytes can no longer reach the file.
	_ = sink.file.Close()

	err = sink.Close()
	if err == nil || !strings.Contains(err.Error(), "flush") {
		t.Fatalf("expected flush error, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}
