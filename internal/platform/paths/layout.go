// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package paths resolves the on-disk layout of jobs under the temp root.
//
// Layout (shared by every process using the same root):
//
//	<root>/input_<id>_<safeName>     uploaded source file
//	<root>/output_<id>/              job output directory
//	<root>/output_<id>/segment_NNN.mp4
//
// Job ids start with the creation time in unix milliseconds, which the
// janitor uses as the age marker.
package paths

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	InputPrefix  = "input_"
	OutputPrefix = "output_"

	// SegmentTemplate is the ffmpeg segment muxer pattern. Three digits keep
	// lexical order equal to temporal order up to 1000 segments.
	SegmentTemplate = "segment_%03d.mp4"

	defaultInputName = "video.mp4"
	maxJobIDLen      = 128
)

var (
	jobIDRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	unsafeRe   = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	segmentRe  = regexp.MustCompile(`^segment_\d{3,}\.mp4$`)
	createdRe  = regexp.MustCompile(`^(\d{1,16})_`)
	dirStampRe = regexp.MustCompile(`^(?:output|input)_(\d{1,16})`)
)

// NewJobID returns "<unixMillis>_<6 hex>".
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%d_%s", now.UnixMilli(), suffix)
}

// ValidJobID reports whether id is safe to embed in file names and URLs.
func ValidJobID(id string) bool {
	return len(id) <= maxJobIDLen && jobIDRe.MatchString(id)
}

// CreatedAtFromID extracts the creation marker from a job id.
func CreatedAtFromID(id string) (time.Time, bool) {
	m := createdRe.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, false
	}
	return parseMillis(m[1])
}

// CreatedAtFromName extracts the creation marker from an input file or
// output directory name.
func CreatedAtFromName(name string) (time.Time, bool) {
	m := dirStampRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	return parseMillis(m[1])
}

func parseMillis(s string) (time.Time, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SafeName replaces anything outside [A-Za-z0-9._-] with "_".
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return defaultInputName
	}
	safe := unsafeRe.ReplaceAllString(name, "_")
	if strings.Trim(safe, "._") == "" {
		return defaultInputName
	}
	return safe
}

// Layout maps job ids to paths below Root.
type Layout struct {
	Root string
}

// InputPath returns the location of the uploaded file for id.
func (l Layout) InputPath(id, originalName string) string {
	return filepath.Join(l.Root, InputPrefix+id+"_"+SafeName(originalName))
}

// OutputDir returns the directory holding the segments of id.
func (l Layout) OutputDir(id string) string {
	return filepath.Join(l.Root, OutputPrefix+id)
}

// SegmentPattern returns the ffmpeg output pattern inside dir.
func SegmentPattern(dir string) string {
	return filepath.Join(dir, SegmentTemplate)
}

// JobIDFromOutputDir returns the job id for an output directory name.
func JobIDFromOutputDir(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, OutputPrefix)
	if !ok || !ValidJobID(id) {
		return "", false
	}
	return id, true
}

// JobIDFromInputName returns the job id encoded in an input file name. Ids
// produced by NewJobID contain exactly one underscore.
func JobIDFromInputName(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, InputPrefix)
	if !ok {
		return "", false
	}
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) < 3 {
		return "", false
	}
	id := parts[0] + "_" + parts[1]
	if !ValidJobID(id) {
		return "", false
	}
	return id, true
}

// IsSegmentName reports whether name matches the artifact pattern.
func IsSegmentName(name string) bool {
	return segmentRe.MatchString(name)
}

// ListSegments returns the artifact names in dir in temporal order.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsSegmentName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	// Indices past 999 widen the number, so compare by length first.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names, nil
}

// ArtifactURL is the retrieval reference for one segment of a job.
func ArtifactURL(id, name string) string {
	return "/api/jobs/" + url.PathEscape(id) + "/segments/" + url.PathEscape(name)
}
