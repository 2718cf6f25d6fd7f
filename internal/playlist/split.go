package playlist

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/agleyzer/hlsmerge/internal/parser"
	"github.com/agleyzer/hlsmerge/internal/segment"
)

// ErrSplitPointNotFound is returned when the requested split point is not a
// segment of the source playlist.
var ErrSplitPointNotFound = errors.New("split point not in playlist")

// Split partitions source at the first segment matching point. Segments
// before it are written to prefixDst; the matching segment and everything
// after it are written to suffixDst. Either destination may be source
// itself. It returns the number of segments written to each side.
func Split(source, prefixDst, suffixDst, point string, logger *slog.Logger) (int, int, error) {
	logger.Info("splitting playlist", "playlist", source, "at", point)

	info, err := parser.ParseFile(source)
	if err != nil {
		return 0, 0, err
	}

	prefix, suffix, err := Partition(info, point)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", source, err)
	}

	if err := WriteFile(prefixDst, prefix); err != nil {
		return 0, 0, err
	}
	logger.Info("wrote playlist", "playlist", prefixDst, "segments", len(prefix.Segments))

	if err := WriteFile(suffixDst, suffix); err != nil {
		return 0, 0, err
	}
	logger.Info("wrote playlist", "playlist", suffixDst, "segments", len(suffix.Segments))

	return len(prefix.Segments), len(suffix.Segments), nil
}

// Index returns the position of the first segment matching point, or -1.
func Index(info *parser.PlaylistInfo, point string) int {
	for i, seg := range info.Segments {
		if seg.Matches(point) {
			return i
		}
	}
	return -1
}

// Partition is the in-memory half of Split.
func Partition(info *parser.PlaylistInfo, point string) (*parser.PlaylistInfo, *parser.PlaylistInfo, error) {
	at := Index(info, point)
	if at < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrSplitPointNotFound, point)
	}

	prefix := &parser.PlaylistInfo{
		TargetDuration: info.TargetDuration,
		Segments:       resequence(info.Segments[:at]),
	}
	suffix := &parser.PlaylistInfo{
		TargetDuration: info.TargetDuration,
		Segments:       resequence(info.Segments[at:]),
	}
	return prefix, suffix, nil
}

func resequence(segments []segment.Segment) []segment.Segment {
	out := make([]segment.Segment, len(segments))
	for i, seg := range segments {
		seg.Sequence = i
		out[i] = seg
	}
	return out
}
