// Package logging points the standard logger at stdout plus a
// size-capped file, so a long-lived crawl daemon never fills the disk
// with its own chatter.
package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// capBytes is the rollover threshold. One previous generation is kept
// under <path>.1, anything older is gone.
const capBytes = 2 * 1024 * 1024

// RotatingWriter appends to a single log file and rolls it over once it
// grows past capBytes. Safe for concurrent use through the standard
// logger.
type RotatingWriter struct {
	mu   sync.Mutex
	file *os.File
	path string
	size int64
	cap  int64
}

// Setup opens (or continues) the log file at path and routes the
// standard logger to stdout and the file. An oversized leftover from a
// previous run is truncated rather than rotated, its contents already
// had their chance.
func Setup(path string) (*RotatingWriter, error) {
	if info, err := os.Stat(path); err == nil && info.Size() > capBytes {
		os.Truncate(path, 0)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	w := &RotatingWriter{file: f, path: path, size: size, cap: capBytes}
	log.SetOutput(io.MultiWriter(os.Stdout, w))
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	w.size += int64(n)
	if w.size > w.cap {
		w.roll()
	}
	return n, err
}

// roll shifts the current file to <path>.1 and starts fresh. A failed
// reopen leaves the old handle closed; subsequent writes will error and
// the stdout copy keeps flowing.
func (w *RotatingWriter) roll() {
	w.file.Close()
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}
	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
