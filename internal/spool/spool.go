// Package spool implements the on-disk overflow store a per-app processor
// (§4.H) falls back to once its store writes have failed 10 times in a
// row: an append-only, size-capped JSONL file that the processor drains
// back into the store once writes recover.
package spool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Spool is a size-bounded, append-only JSONL file. Once Append would push
// the file past maxBytes, the oldest lines are dropped to make room —
// "oldest-drop if the spool is full" per §4.H.
type Spool struct {
	path     string
	maxBytes int64
	mu       sync.Mutex
}

// Open returns a Spool backed by path, creating parent directories as
// needed. It does not truncate an existing file: a prior degraded period's
// unspooled records remain until Drain consumes them.
func Open(path string, maxBytes int64) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("spool: creating directory for %s: %w", path, err)
	}
	return &Spool{path: path, maxBytes: maxBytes}, nil
}

// Append serializes v as one JSON line and appends it to the spool file,
// trimming the oldest lines first if the result would exceed maxBytes.
func (s *Spool) Append(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("spool: marshaling record: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("spool: opening %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("spool: stat %s: %w", s.path, err)
	}

	if info.Size()+int64(len(line)) > s.maxBytes {
		if err := s.trimLocked(f, int64(len(line))); err != nil {
			return err
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("spool: seeking %s: %w", s.path, err)
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("spool: appending to %s: %w", s.path, err)
	}
	return nil
}

// trimLocked drops whole lines from the front of the file until there is
// room for an additional incoming line of size want, or the file is empty.
// Caller holds s.mu and an open *os.File for s.path.
func (s *Spool) trimLocked(f *os.File, want int64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var kept [][]byte
	var keptBytes int64
	var lines [][]byte
	for scanner.Scan() {
		b := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, b)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("spool: scanning %s during trim: %w", s.path, err)
	}

	budget := s.maxBytes - want
	if budget < 0 {
		budget = 0
	}
	// Keep the newest lines (from the end) that fit in budget, dropping the
	// oldest (from the start) first.
	for i := len(lines) - 1; i >= 0; i-- {
		sz := int64(len(lines[i]) + 1)
		if keptBytes+sz > budget {
			break
		}
		kept = append([][]byte{lines[i]}, kept...)
		keptBytes += sz
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("spool: truncating %s: %w", s.path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for _, line := range kept {
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("spool: rewriting %s during trim: %w", s.path, err)
		}
	}
	return nil
}

// Drain reads every spooled record (oldest first), invoking fn for each.
// If fn returns an error, Drain stops and leaves the remaining undrained
// records (including the one that failed) in the spool file, so a
// transient store failure mid-drain can be retried from where it left off.
func (s *Spool) Drain(fn func(line []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("spool: opening %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var remaining [][]byte
	draining := true
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if draining {
			if err := fn(line); err != nil {
				draining = false
				remaining = append(remaining, line)
				continue
			}
			continue
		}
		remaining = append(remaining, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("spool: scanning %s during drain: %w", s.path, err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("spool: truncating %s after drain: %w", s.path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for _, line := range remaining {
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("spool: rewriting %s after drain: %w", s.path, err)
		}
	}
	if !draining {
		return errDrainIncomplete
	}
	return nil
}

var errDrainIncomplete = fmt.Errorf("spool: drain stopped early on a write failure")

// IsDrainIncomplete reports whether err is the sentinel Drain returns when
// it stopped partway through because fn failed.
func IsDrainIncomplete(err error) bool {
	return err == errDrainIncomplete
}

// Empty reports whether the spool file has no content.
func (s *Spool) Empty() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return info.Size() == 0, nil
}
