// Package integration runs hlsmerge end to end against a real ffmpeg.
package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agleyzer/hlsmerge/internal/parser"
	"github.com/agleyzer/hlsmerge/internal/playlist"
	"github.com/agleyzer/hlsmerge/internal/segment"
)

// TestHarness owns a temp directory of generated HLS segments.
type TestHarness struct {
	t      *testing.T
	ffmpeg string
	dir    string
}

// NewTestHarness skips the test when ffmpeg is not on PATH.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not found on PATH")
	}

	return &TestHarness{
		t:      t,
		ffmpeg: ffmpeg,
		dir:    t.TempDir(),
	}
}

// Dir is the harness working directory.
func (h *TestHarness) Dir() string { return h.dir }

// FFmpeg is the resolved ffmpeg binary.
func (h *TestHarness) FFmpeg() string { return h.ffmpeg }

// Logger discards output unless the test runs verbose.
func (h *TestHarness) Logger() *slog.Logger {
	var w io.Writer = io.Discard
	if testing.Verbose() {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

// GenerateSegments encodes seconds of test video into 1s MPEG-TS segments
// named <prefix>N.ts, each series starting at timestamp zero, and returns
// them in order.
func (h *TestHarness) GenerateSegments(prefix string, seconds int) []segment.Segment {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	list := filepath.Join(h.dir, prefix+".m3u8")
	cmd := exec.CommandContext(ctx, h.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=duration=%d:size=160x120:rate=25", seconds),
		"-c:v", "mpeg2video", "-g", "25",
		"-f", "hls",
		"-hls_time", "1",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(h.dir, prefix+"%d.ts"),
		"-y", list,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		h.t.Fatalf("failed to generate segments: %v\n%s", err, out)
	}

	info, err := parser.ParseFile(list)
	if err != nil {
		h.t.Fatalf("failed to parse generated playlist: %v", err)
	}
	for i, seg := range info.Segments {
		if !strings.HasPrefix(seg.URI, prefix) {
			h.t.Fatalf("unexpected segment %d uri %q", i, seg.URI)
		}
	}
	return info.Segments
}

// WritePlaylist writes segments as name in the harness directory.
func (h *TestHarness) WritePlaylist(name string, segments ...[]segment.Segment) string {
	h.t.Helper()

	info := &parser.PlaylistInfo{TargetDuration: 2}
	for _, series := range segments {
		for _, seg := range series {
			seg.Sequence = len(info.Segments)
			info.Segments = append(info.Segments, seg)
		}
	}

	path := filepath.Join(h.dir, name)
	if err := playlist.WriteFile(path, info); err != nil {
		h.t.Fatalf("failed to write playlist: %v", err)
	}
	return path
}
