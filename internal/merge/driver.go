// Package merge implements the incremental merge driver: it remuxes a
// playlist, splits it wherever ffmpeg reports a DTS regression, remuxes the
// pieces separately and finally concatenates the resulting chunks.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/agleyzer/hlsmerge/internal/parser"
	"github.com/agleyzer/hlsmerge/internal/playlist"
	"github.com/agleyzer/hlsmerge/internal/remux"
)

var (
	// ErrUnsplittable means a fault was attributed to the first segment of
	// the frontier, so splitting there cannot make progress.
	ErrUnsplittable = errors.New("fault at first segment of playlist")

	// ErrNameCollision means the source playlist is named like one of the
	// numbered working playlists and would be overwritten.
	ErrNameCollision = errors.New("source playlist collides with working playlist names")

	// ErrEmptyPlaylist means the source playlist has no segments.
	ErrEmptyPlaylist = errors.New("playlist contains no segments")
)

// Engine is the remux engine the driver runs attempts on.
type Engine interface {
	Attempt(ctx context.Context, playlist, output string) (remux.Outcome, error)
	Concat(ctx context.Context, listPath string, chunks []string, output string) error
}

// Options configures a Driver.
type Options struct {
	// WorkDir holds the numbered playlists and the intermediate directory.
	// Defaults to the source playlist's directory.
	WorkDir string

	// RevalidatePrefix re-attempts the prefix left by a split through the
	// normal loop, splitting it again if it still faults. When false the
	// prefix is remuxed once and kept whatever the outcome.
	RevalidatePrefix bool

	// Cleanup removes working playlists and chunks after a successful merge.
	Cleanup bool

	// Progress, if set, is called each time a chunk is committed with the
	// number of source segments covered so far.
	Progress func(done, total int)
}

// Chunk is one successfully remuxed sub-playlist.
type Chunk struct {
	Index    int
	Path     string
	Playlist string
	Segments int
}

// Result describes a finished merge.
type Result struct {
	Output string
	Chunks []Chunk
	// Splits is the number of times a playlist was split.
	Splits int
	// Unvalidated counts prefixes kept although their re-attempt faulted.
	Unvalidated int
}

// Driver runs merges. It is not safe for concurrent use on one work dir.
type Driver struct {
	engine Engine
	opts   Options
	logger *slog.Logger
}

// New creates a Driver.
func New(engine Engine, opts Options, logger *slog.Logger) *Driver {
	return &Driver{
		engine: engine,
		opts:   opts,
		logger: logger,
	}
}

// state is the driver's repair loop state.
type state struct {
	layout Layout

	// frontier is the playlist not yet resolved into a chunk
	frontier string
	// pending holds split-off suffixes waiting for the frontier, top last
	pending []string
	// nextPlaylist numbers the next suffix playlist
	nextPlaylist int
	// counts is the segment count of each working playlist
	counts map[string]int

	chunks      []Chunk
	done, total int
	splits      int
	unvalidated int
}

// Merge remuxes the playlist at source into output.
func (d *Driver) Merge(ctx context.Context, source, output string) (*Result, error) {
	st, err := d.prepare(source)
	if err != nil {
		return nil, err
	}

	if err := d.resolve(ctx, st); err != nil {
		return nil, err
	}

	paths := make([]string, len(st.chunks))
	for i, c := range st.chunks {
		paths[i] = c.Path
	}
	if err := d.engine.Concat(ctx, st.layout.ConcatList(), paths, output); err != nil {
		return nil, fmt.Errorf("concatenate chunks: %w", err)
	}

	if d.opts.Cleanup {
		d.cleanup(st)
	}

	return &Result{
		Output:      output,
		Chunks:      st.chunks,
		Splits:      st.splits,
		Unvalidated: st.unvalidated,
	}, nil
}

// prepare writes the working copy of source as playlist 1.
func (d *Driver) prepare(source string) (*state, error) {
	remote := strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")

	dir := d.opts.WorkDir
	if dir == "" {
		dir = "."
		if !remote {
			dir = filepath.Dir(source)
		}
	}
	layout := Layout{Dir: dir}

	if !remote && layout.Collides(source) {
		return nil, fmt.Errorf("%w: %s", ErrNameCollision, source)
	}

	info, err := parser.ParsePlaylist(source)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	if len(info.Segments) == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrEmptyPlaylist)
	}

	if !remote {
		if err := rebase(info, filepath.Dir(source), dir); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(layout.ChunkDir(), 0755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	first := layout.Playlist(1)
	if err := playlist.WriteFile(first, info); err != nil {
		return nil, err
	}
	d.logger.Info("prepared working playlist",
		"source", source,
		"playlist", first,
		"segments", len(info.Segments),
	)

	return &state{
		layout:       layout,
		frontier:     first,
		nextPlaylist: 2,
		counts:       map[string]int{first: len(info.Segments)},
		total:        len(info.Segments),
	}, nil
}

// resolve runs attempts until every playlist in the chain has a chunk.
func (d *Driver) resolve(ctx context.Context, st *state) error {
	for {
		slot := len(st.chunks) + 1
		chunk := st.layout.Chunk(slot)

		out, err := d.engine.Attempt(ctx, st.frontier, chunk)
		if err != nil {
			return fmt.Errorf("merge %s: %w", st.frontier, err)
		}

		if out.Status == remux.Success {
			d.commit(st, slot)
			if len(st.pending) == 0 {
				return nil
			}
			st.frontier = st.pending[len(st.pending)-1]
			st.pending = st.pending[:len(st.pending)-1]
			continue
		}

		suffix, err := d.split(st, out.Segment)
		if err != nil {
			return err
		}

		if d.opts.RevalidatePrefix {
			st.pending = append(st.pending, suffix)
			continue
		}

		again, err := d.engine.Attempt(ctx, st.frontier, chunk)
		if err != nil {
			return fmt.Errorf("merge %s: %w", st.frontier, err)
		}
		if again.Status == remux.Fault {
			// Kept for compatibility: the chunk may still carry a regression.
			st.unvalidated++
			d.logger.Warn("prefix faulted again after split, keeping chunk unvalidated",
				"playlist", st.frontier,
				"segment", again.Segment,
				"chunk", chunk,
			)
		}
		d.commit(st, slot)
		st.frontier = suffix
	}
}

// split cuts the frontier at seg, in place, and returns the new suffix.
func (d *Driver) split(st *state, seg string) (string, error) {
	info, err := parser.ParseFile(st.frontier)
	if err != nil {
		return "", fmt.Errorf("split %s: %w", st.frontier, err)
	}
	// Checked before anything is written so the frontier stays intact.
	if playlist.Index(info, seg) == 0 {
		return "", fmt.Errorf("split %s at %s: %w", st.frontier, seg, ErrUnsplittable)
	}

	suffix := st.layout.Playlist(st.nextPlaylist)
	nPrefix, nSuffix, err := playlist.Split(st.frontier, st.frontier, suffix, seg, d.logger)
	if err != nil {
		return "", fmt.Errorf("split %s: %w", st.frontier, err)
	}

	st.nextPlaylist++
	st.splits++
	st.counts[st.frontier] = nPrefix
	st.counts[suffix] = nSuffix
	return suffix, nil
}

// commit records the frontier as chunk slot.
func (d *Driver) commit(st *state, slot int) {
	c := Chunk{
		Index:    slot,
		Path:     st.layout.Chunk(slot),
		Playlist: st.frontier,
		Segments: st.counts[st.frontier],
	}
	st.chunks = append(st.chunks, c)
	st.done += c.Segments

	d.logger.Info("chunk ready",
		"chunk", c.Index,
		"playlist", c.Playlist,
		"segments", c.Segments,
		"progress", fmt.Sprintf("%d/%d", st.done, st.total),
	)
	if d.opts.Progress != nil {
		d.opts.Progress(st.done, st.total)
	}
}

func (d *Driver) cleanup(st *state) {
	for i := 1; i < st.nextPlaylist; i++ {
		if err := os.Remove(st.layout.Playlist(i)); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("failed to remove working playlist", "playlist", st.layout.Playlist(i), "error", err)
		}
	}
	if err := os.RemoveAll(st.layout.ChunkDir()); err != nil {
		d.logger.Warn("failed to remove intermediate directory", "dir", st.layout.ChunkDir(), "error", err)
	}
}

// rebase rewrites relative segment URIs so they resolve from workDir the
// same way they resolved from sourceDir.
func rebase(info *parser.PlaylistInfo, sourceDir, workDir string) error {
	from, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("resolve source dir: %w", err)
	}
	to, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}
	if from == to {
		return nil
	}

	for i, seg := range info.Segments {
		uri := seg.URI
		if strings.Contains(uri, "://") || filepath.IsAbs(filepath.FromSlash(uri)) {
			continue
		}
		info.Segments[i].URI = filepath.ToSlash(filepath.Join(from, filepath.FromSlash(uri)))
	}
	return nil
}
