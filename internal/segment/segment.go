// Package segment defines data structures for HLS media segments.
package segment

import "path"

// Segment represents a single media segment of an HLS playlist.
type Segment struct {
	// URI is the segment reference as written in the playlist
	URI string

	// Duration is the segment duration in seconds
	Duration float64

	// Sequence is the position in the playlist the segment was decoded from
	Sequence int
}

// BaseName returns the last element of the segment URI, which is how the
// remux engine names the segment in its diagnostics.
func (s Segment) BaseName() string {
	return path.Base(s.URI)
}

// Matches reports whether ref identifies this segment, either by its full
// URI or by its base name.
func (s Segment) Matches(ref string) bool {
	return s.URI == ref || s.BaseName() == ref
}
