package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dailyLayout  = "20060102"
	stampLayout  = "20060102150405"
	rotatedInfix = ".log."
)

// intervalRotatingWriter opens <base>.log.<stamp> and switches files once
// RotateInterval has elapsed. Intervals of a day or more use a date stamp.
type intervalRotatingWriter struct {
	mu       sync.Mutex
	dir      string
	base     string
	cfg      *RotateConfig
	file     *os.File
	openedAt time.Time
	now      func() time.Time
}

func newIntervalRotatingWriter(dir, base string, rc *RotateConfig) (*intervalRotatingWriter, error) {
	if rc == nil || rc.RotateInterval <= 0 {
		return nil, fmt.Errorf("invalid rotate interval")
	}
	w := &intervalRotatingWriter{dir: dir, base: base, cfg: rc, now: time.Now}
	if err := w.rotateLocked(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *intervalRotatingWriter) layout() string {
	if w.cfg.RotateInterval >= 24*time.Hour {
		return dailyLayout
	}
	return stampLayout
}

func (w *intervalRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if w.file == nil || now.Sub(w.openedAt) >= w.cfg.RotateInterval {
		if err := w.rotateLocked(now); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *intervalRotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *intervalRotatingWriter) rotateLocked(now time.Time) error {
	if w.file != nil {
		_ = w.file.Sync()
		_ = w.file.Close()
	}
	name := w.base + rotatedInfix + now.Format(w.layout())
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open rotated log file: %w", err)
	}
	w.file, w.openedAt = f, now
	if w.cfg.CleanupEnabled && w.cfg.MaxAge > 0 {
		w.cleanup(now.Add(-w.cfg.MaxAge))
	}
	return nil
}

func (w *intervalRotatingWriter) cleanup(cutoff time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	prefix := w.base + rotatedInfix
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		layout := dailyLayout
		if len(stamp) == len(stampLayout) {
			layout = stampLayout
		}
		t, err := time.ParseInLocation(layout, stamp, time.Local)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, e.Name()))
		}
	}
}
