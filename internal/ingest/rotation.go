package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DateMarker is the file recording which trading day the price directory holds.
const DateMarker = "_date.txt"

// Rotator purges the price directory once per calendar day.
// Files named in the retention allowlist survive the purge.
type Rotator struct {
	dir    string
	retain map[string]bool
}

// NewRotator creates a rotator for dir. The date marker is always retained.
func NewRotator(dir string, retain []string) *Rotator {
	keep := map[string]bool{DateMarker: true}
	for _, name := range retain {
		keep[name] = true
	}
	return &Rotator{dir: dir, retain: keep}
}

// Rotate removes every non-retained file when the marker differs from day,
// then rewrites the marker. It returns the number of removed files.
func (r *Rotator) Rotate(day time.Time) (int, error) {
	today := day.Format(time.DateOnly)
	markerPath := filepath.Join(r.dir, DateMarker)

	current, err := os.ReadFile(markerPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read date marker: %w", err)
	}
	if strings.TrimSpace(string(current)) == today {
		return 0, nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("list price dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || r.retain[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, e.Name())); err != nil {
			slog.Warn("Failed to remove stale price file", slog.String("file", e.Name()), slog.Any("error", err))
			continue
		}
		removed++
	}

	if err := os.WriteFile(markerPath, []byte(today), 0644); err != nil {
		return removed, fmt.Errorf("write date marker: %w", err)
	}

	slog.Info("🗓️ New trading day, purged price files", slog.String("day", today), slog.Int("removed", removed))
	return removed, nil
}
