// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Progress is one block of ffmpeg's -progress output.
type Progress struct {
	Frame     int64
	OutTimeUs int64
	TotalSize int64
	Speed     string
	End       bool
}

func (p Progress) hasAdvanced(prev Progress) bool {
	return p.OutTimeUs > prev.OutTimeUs || p.TotalSize > prev.TotalSize || p.Frame > prev.Frame
}

// Fraction returns the completed share of a source of the given duration.
// An unknown duration yields 0 until the end block arrives.
func (p Progress) Fraction(total time.Duration) float64 {
	if p.End {
		return 1
	}
	if total <= 0 || p.OutTimeUs <= 0 {
		return 0
	}
	f := float64(p.OutTimeUs) / float64(total.Microseconds())
	return min(max(f, 0), 1)
}

// parseProgress reads key=value lines from r and emits one Progress per
// "progress=" line. Sends never block; a slow reader only sees the newer
// blocks. r is always read to EOF so the writer cannot stall on a full pipe.
func parseProgress(r io.Reader, ch chan<- Progress) {
	scanner := bufio.NewScanner(r)
	var current Progress
	sawMicros := false

	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		switch key {
		case "frame":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.Frame = v
			}
		case "out_time_us":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.OutTimeUs = v
				sawMicros = true
			}
		case "out_time_ms":
			// Despite the name older ffmpeg builds report microseconds here.
			if v, err := strconv.ParseInt(val, 10, 64); err == nil && !sawMicros {
				current.OutTimeUs = v
			}
		case "total_size":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.TotalSize = v
			}
		case "speed":
			current.Speed = val
		case "progress":
			current.End = val == "end"
			select {
			case ch <- current:
			default:
			}
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// LastLine returns the last non-empty line written.
func (t *tailBuffer) LastLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := strings.Split(strings.TrimSpace(string(t.buf)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
