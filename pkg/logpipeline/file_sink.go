package logpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// RotationConfig bounds a FileSink's on-disk footprint, mirroring the
// logging.file.{when,interval,backupCount} configuration surface: a
// calendar period (when+interval) and/or a size threshold trigger
// rotation, and MaxBackups bounds how many rotated files survive.
type RotationConfig struct {
	// MaxSizeBytes rotates the active file once it grows past this size.
	// Zero disables size-based rotation.
	MaxSizeBytes int64
	// When is the calendar unit interval counts in: "S", "M", "H", "D",
	// or "MIDNIGHT" (interval is ignored for MIDNIGHT, which always
	// rotates once every 24h, counted from when the file was opened or
	// last rotated; it is not aligned to 00:00 UTC). Empty disables
	// time-based rotation.
	When string
	// Interval is the number of When units between rotations. Zero (with
	// When set to anything but MIDNIGHT) disables time-based rotation.
	Interval int
	// MaxBackups caps how many rotated files are kept; the oldest are
	// removed once the count is exceeded. Zero disables cleanup.
	MaxBackups int
}

// period resolves When/Interval into a fixed rotation duration, or zero
// if time-based rotation is disabled. MIDNIGHT resolves to a fixed 24h,
// so the next rotation is always 24h after the previous one (or after
// the file was opened), not at the next calendar midnight.
func (r RotationConfig) period() time.Duration {
	if strings.EqualFold(r.When, "midnight") {
		return 24 * time.Hour
	}
	if r.Interval <= 0 {
		return 0
	}
	switch strings.ToUpper(r.When) {
	case "S":
		return time.Duration(r.Interval) * time.Second
	case "M":
		return time.Duration(r.Interval) * time.Minute
	case "H":
		return time.Duration(r.Interval) * time.Hour
	case "D":
		return time.Duration(r.Interval) * 24 * time.Hour
	default:
		return 0
	}
}

// FileSink appends each Log record as one JSON line to a file, rotating
// it by size and/or on a calendar period the way the worker's other
// file-backed logs do.
type FileSink struct {
	path     string
	rotation RotationConfig

	mu           sync.Mutex
	file         *os.File
	encoder      *json.Encoder
	nextRotation time.Time // zero means time-based rotation is disabled
}

// NewFileSink opens (creating if needed) the log file at path.
func NewFileSink(path string, rotation RotationConfig) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	s := &FileSink{
		path:     path,
		rotation: rotation,
		file:     file,
		encoder:  json.NewEncoder(file),
	}
	if p := rotation.period(); p > 0 {
		s.nextRotation = time.Now().UTC().Add(p)
	}
	return s, nil
}

func (s *FileSink) Write(ctx context.Context, l model.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := false
	if s.rotation.MaxSizeBytes > 0 {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.rotation.MaxSizeBytes {
			due = true
		}
	}
	if !s.nextRotation.IsZero() && !time.Now().UTC().Before(s.nextRotation) {
		due = true
	}
	if due {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("rotating log file: %w", err)
		}
	}
	return s.encoder.Encode(l)
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}

	rotatedPath := s.path + "." + time.Now().UTC().Format("20060102-150405")
	if err := os.Rename(s.path, rotatedPath); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	if p := s.rotation.period(); p > 0 {
		s.nextRotation = time.Now().UTC().Add(p)
	}

	if s.rotation.MaxBackups > 0 {
		s.cleanupOldFiles()
	}
	return nil
}

func (s *FileSink) cleanupOldFiles() {
	dir := filepath.Dir(s.path)
	matches, err := filepath.Glob(filepath.Join(dir, filepath.Base(s.path)+".*"))
	if err != nil {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	backups := make([]backup, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		backups = append(backups, backup{path, info.ModTime()})
	}
	if len(backups) <= s.rotation.MaxBackups {
		return
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.Before(backups[j].modTime) })
	for _, b := range backups[:len(backups)-s.rotation.MaxBackups] {
		os.Remove(b.path)
	}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
