// Package playlist writes and partitions HLS media playlists.
package playlist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/agleyzer/hlsmerge/internal/parser"
	"github.com/agleyzer/hlsmerge/internal/segment"
	"github.com/grafov/m3u8"
)

// Encode renders info as a standalone VOD media playlist.
func Encode(info *parser.PlaylistInfo) ([]byte, error) {
	capacity := uint(len(info.Segments))
	if capacity == 0 {
		capacity = 1
	}

	p, err := m3u8.NewMediaPlaylist(0, capacity)
	if err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}

	for _, seg := range info.Segments {
		if err := p.Append(seg.URI, seg.Duration, ""); err != nil {
			return nil, fmt.Errorf("append segment %s: %w", seg.URI, err)
		}
	}

	// Append raises the target to fit each segment; restore the source value.
	p.TargetDuration = info.TargetDuration
	p.Close()

	return exactDurations(p.Encode().Bytes(), info.Segments), nil
}

const extinf = "#EXTINF:"

// exactDurations rewrites the #EXTINF values the encoder rounded to
// milliseconds with each segment's exact duration. Values that round-trip
// are left as encoded.
func exactDurations(data []byte, segments []segment.Segment) []byte {
	var out bytes.Buffer
	out.Grow(len(data))

	i := 0
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if i < len(segments) && bytes.HasPrefix(line, []byte(extinf)) {
			d := segments[i].Duration
			i++

			rest := line[len(extinf):]
			if comma := bytes.IndexByte(rest, ','); comma >= 0 {
				v, err := strconv.ParseFloat(string(rest[:comma]), 64)
				if err == nil && v != d {
					out.WriteString(extinf)
					out.WriteString(strconv.FormatFloat(d, 'f', -1, 64))
					out.Write(rest[comma:])
					continue
				}
			}
		}
		out.Write(line)
	}
	return out.Bytes()
}

// WriteFile encodes info and atomically replaces path with the result.
func WriteFile(path string, info *parser.PlaylistInfo) error {
	data, err := Encode(info)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp playlist: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close playlist: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace playlist: %w", err)
	}
	return nil
}
