// Package parser provides HLS media playlist parsing functionality.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agleyzer/hlsmerge/internal/segment"
	"github.com/grafov/m3u8"
)

// ErrUnsupported is returned for playlists that use features the merger
// does not model: master playlists, encryption and byte ranges.
var ErrUnsupported = errors.New("unsupported playlist")

// PlaylistInfo contains the parsed media playlist information.
type PlaylistInfo struct {
	// TargetDuration is the advisory maximum segment duration in seconds.
	// It is carried through unchanged when the playlist is rewritten.
	TargetDuration float64

	// Segments in playback order
	Segments []segment.Segment
}

// ParsePlaylist loads a media playlist from a local path or an http(s) URL.
// Segment URIs of remote playlists are resolved to absolute URLs; local
// URIs are kept as written.
func ParsePlaylist(source string) (*PlaylistInfo, error) {
	if !isRemote(source) {
		return ParseFile(source)
	}

	body, err := FetchContent(source)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer body.Close()

	info, err := Decode(body)
	if err != nil {
		return nil, err
	}

	for i, seg := range info.Segments {
		resolved, err := resolveURL(source, seg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve segment URL: %w", err)
		}
		info.Segments[i].URI = resolved
	}

	return info, nil
}

// ParseFile loads a media playlist from a local file.
func ParseFile(path string) (*PlaylistInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	defer f.Close()

	info, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}

// Decode parses media playlist text. A playlist without segments is valid;
// the splitter legitimately produces one.
func Decode(r io.Reader) (*PlaylistInfo, error) {
	playlist, listType, err := m3u8.DecodeWith(r, true, []m3u8.CustomDecoder{targetDurationTag{}})
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}

	if listType == m3u8.MASTER {
		return nil, fmt.Errorf("%w: master playlist", ErrUnsupported)
	}

	mediaPlaylist, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist type")
	}

	if mediaPlaylist.Key != nil {
		return nil, fmt.Errorf("%w: encrypted playlist", ErrUnsupported)
	}

	var segments []segment.Segment
	for i, seg := range mediaPlaylist.Segments {
		if seg == nil {
			break
		}

		if seg.Key != nil {
			return nil, fmt.Errorf("%w: encrypted segment %s", ErrUnsupported, seg.URI)
		}
		if seg.Limit > 0 {
			return nil, fmt.Errorf("%w: byte-range segment %s", ErrUnsupported, seg.URI)
		}

		segments = append(segments, segment.Segment{
			URI:      seg.URI,
			Duration: seg.Duration,
			Sequence: i,
		})
	}

	// The decoder raises TargetDuration to fit longer segments; keep the
	// value the playlist declares.
	target := mediaPlaylist.TargetDuration
	if tag, ok := mediaPlaylist.Custom[targetDurationTagName].(*targetDurationTag); ok {
		target = tag.value
	}

	return &PlaylistInfo{
		TargetDuration: target,
		Segments:       segments,
	}, nil
}

const targetDurationTagName = "#EXT-X-TARGETDURATION:"

// targetDurationTag captures #EXT-X-TARGETDURATION as written. It
// implements both m3u8.CustomDecoder and m3u8.CustomTag.
type targetDurationTag struct {
	value float64
}

func (targetDurationTag) TagName() string { return targetDurationTagName }

func (targetDurationTag) SegmentTag() bool { return false }

func (targetDurationTag) Decode(line string) (m3u8.CustomTag, error) {
	v, err := strconv.ParseFloat(strings.TrimPrefix(line, targetDurationTagName), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid target duration: %w", err)
	}
	return &targetDurationTag{value: v}, nil
}

// Encode returns nil; the playlist writer emits the target itself.
func (targetDurationTag) Encode() *bytes.Buffer { return nil }

func (t targetDurationTag) String() string {
	return targetDurationTagName + strconv.FormatFloat(t.value, 'f', -1, 64)
}

// URIs returns the segment URIs in order.
func (p *PlaylistInfo) URIs() []string {
	uris := make([]string, len(p.Segments))
	for i, seg := range p.Segments {
		uris[i] = seg.URI
	}
	return uris
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	return base.ResolveReference(rel).String(), nil
}

// FetchContent fetches content from a URL.
func FetchContent(url string) (io.ReadCloser, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return resp.Body, nil
}
