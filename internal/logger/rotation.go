package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const rotatedLayout = "20060102-150405"

// Rotation configures a RotatingWriter
type Rotation struct {
	MaxSizeMB  int
	MaxAgeDays int // 0 keeps rotated files forever
	Compress   bool
	// Perm is the mode of the live and rotated files, 0644 when unset
	Perm os.FileMode

	// maxBytes overrides MaxSizeMB so tests can rotate on small writes
	maxBytes int64
}

func (r Rotation) limit() int64 {
	if r.maxBytes > 0 {
		return r.maxBytes
	}
	return int64(r.MaxSizeMB) * 1024 * 1024
}

func (r Rotation) perm() os.FileMode {
	if r.Perm == 0 {
		return 0644
	}
	return r.Perm
}

// RotatingWriter is an io.WriteCloser over a file that is renamed to
// <name>.<timestamp> once it would grow past the size limit. It is safe
// for concurrent use; zerolog writes from every goroutine of serve.
type RotatingWriter struct {
	filename string
	rotation Rotation

	mu   sync.Mutex
	file *os.File
	size int64

	// background compression, waited for on Close
	pending sync.WaitGroup
	now     func() time.Time
}

// NewRotatingWriter opens filename for appending, creating its directory
func NewRotatingWriter(filename string, rotation Rotation) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		filename: filename,
		rotation: rotation,
		now:      time.Now,
	}
	if err := w.open(); err != nil {
		return nil, err
	}

	w.removeExpired()
	return w, nil
}

func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, w.rotation.perm())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would exceed the size limit.
// A single write larger than the limit still lands in one file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.rotation.limit() {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the live file and waits for pending compression
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.pending.Wait()
	return err
}

// rotate must be called with mu held
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	rotated := w.rotatedName()
	if err := os.Rename(w.filename, rotated); err != nil {
		return err
	}

	if w.rotation.Compress {
		w.pending.Add(1)
		go func() {
			defer w.pending.Done()
			_ = compressFile(rotated, w.rotation.perm())
		}()
	}

	if err := w.open(); err != nil {
		return err
	}
	w.removeExpired()
	return nil
}

// rotatedName picks <name>.<timestamp>, adding a counter when a rotation
// in the same second already took that name.
func (w *RotatingWriter) rotatedName() string {
	base := fmt.Sprintf("%s.%s", w.filename, w.now().Format(rotatedLayout))
	name := base
	for i := 1; exists(name) || exists(name+".gz"); i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// compressFile replaces path with path.gz
func compressFile(path string, perm os.FileMode) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// removeExpired deletes rotated files older than MaxAgeDays. Only names
// this writer produces are considered, so neighbours such as audit.log
// next to joe.log are never touched.
func (w *RotatingWriter) removeExpired() {
	if w.rotation.MaxAgeDays <= 0 {
		return
	}

	matches, err := filepath.Glob(w.filename + ".*")
	if err != nil {
		return
	}

	cutoff := w.now().AddDate(0, 0, -w.rotation.MaxAgeDays)
	for _, path := range matches {
		if !w.isRotated(path) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(path)
		}
	}
}

func (w *RotatingWriter) isRotated(path string) bool {
	suffix := strings.TrimPrefix(path, w.filename+".")
	suffix = strings.TrimSuffix(suffix, ".gz")
	if len(suffix) < len(rotatedLayout) {
		return false
	}
	_, err := time.Parse(rotatedLayout, suffix[:len(rotatedLayout)])
	return err == nil
}
