package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func writeChunks(t *testing.T, w *rotatingWriter, n, size int) {
	t.Helper()
	chunk := make([]byte, size)
	for i := 0; i < n; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}
}

func TestRotatingWriterKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	w, err := newRotatingWriter(path, 1, true)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer w.Close()

	writeChunks(t, w, 3, 512*1024)

	cur, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if cur.Size() != 512*1024 {
		t.Fatalf("current log = %d bytes, want 512KiB", cur.Size())
	}
	backup, err := os.Stat(path + ".1")
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if backup.Size() != 1024*1024 {
		t.Fatalf("backup = %d bytes, want 1MiB", backup.Size())
	}
}

func TestRotatingWriterTruncatesWithoutBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	w, err := newRotatingWriter(path, 1, false)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer w.Close()

	writeChunks(t, w, 3, 512*1024)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Fatalf("expected log <= 1MiB, got %d", info.Size())
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Fatalf("unexpected backup file: %v", err)
	}
}
