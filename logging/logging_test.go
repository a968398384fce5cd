package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRollsOverPastCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	w := &RotatingWriter{file: f, path: path, cap: 64}
	defer w.Close()

	line := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 2; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected a rolled backup: %v", err)
	}
	if len(backup) != 80 {
		t.Fatalf("backup holds %d bytes, want 80", len(backup))
	}
	fresh, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Size() != 0 {
		t.Fatalf("fresh file holds %d bytes, want 0", fresh.Size())
	}
}

func TestWriteBelowCapKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	w := &RotatingWriter{file: f, path: path, cap: 1024}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Fatalf("no backup expected below the cap, stat err = %v", err)
	}
}
