package merge

import (
	"fmt"
	"path/filepath"
	"regexp"
)

const (
	intermediateDir = "intermediate"
	concatListName  = "concat.txt"
)

var reWorkingPlaylist = regexp.MustCompile(`^[0-9]+\.m3u8$`)

// Layout names the numbered files a merge keeps in its working directory.
type Layout struct {
	Dir string
}

// Playlist returns the path of working playlist i.
func (l Layout) Playlist(i int) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%d.m3u8", i))
}

// ChunkDir is the directory holding remuxed chunks and the concat list.
func (l Layout) ChunkDir() string {
	return filepath.Join(l.Dir, intermediateDir)
}

// Chunk returns the path of chunk i.
func (l Layout) Chunk(i int) string {
	return filepath.Join(l.ChunkDir(), fmt.Sprintf("%d.ts", i))
}

// ConcatList returns the path of the concat demuxer list.
func (l Layout) ConcatList() string {
	return filepath.Join(l.ChunkDir(), concatListName)
}

// Collides reports whether path would be overwritten as a working playlist.
func (l Layout) Collides(path string) bool {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return false
	}
	own, err := filepath.Abs(l.Dir)
	if err != nil {
		return false
	}
	return dir == own && reWorkingPlaylist.MatchString(filepath.Base(path))
}
