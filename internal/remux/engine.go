package remux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultFFmpeg   = "ffmpeg"
	defaultLogLevel = "info"

	// maxDiagnosticLine bounds how much stderr is buffered before a token
	// is flushed without a line terminator.
	maxDiagnosticLine = 64 * 1024

	// waitDelay bounds how long Wait blocks on stderr after the process
	// has been killed.
	waitDelay = 5 * time.Second
)

// Status is the kind of outcome of a merge attempt.
type Status int

const (
	// Success means the whole playlist was remuxed into the output.
	Success Status = iota
	// Fault means a DTS regression was attributed to Outcome.Segment.
	Fault
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Fault:
		return "fault"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the result of a merge attempt that did not fail outright.
type Outcome struct {
	Status Status
	// Segment is the base name of the segment whose inclusion caused the
	// fault. Empty on success.
	Segment string
}

// Options configures an Engine.
type Options struct {
	// FFmpegPath is the ffmpeg binary (default "ffmpeg")
	FFmpegPath string
	// LogLevel is passed to -loglevel (default "info"). It must keep the hls
	// demuxer's "Opening ..." lines visible.
	LogLevel string
	// Diagnostics receives ffmpeg's stderr unmodified. Nil discards it.
	Diagnostics io.Writer
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Engine runs ffmpeg subprocesses one at a time.
type Engine struct {
	path     string
	logLevel string
	diag     io.Writer
	logger   *slog.Logger
	command  commandFunc
}

// New creates an Engine.
func New(opts Options, logger *slog.Logger) *Engine {
	e := &Engine{
		path:     opts.FFmpegPath,
		logLevel: opts.LogLevel,
		diag:     opts.Diagnostics,
		logger:   logger,
		command:  exec.CommandContext,
	}
	if e.path == "" {
		e.path = defaultFFmpeg
	}
	if e.logLevel == "" {
		e.logLevel = defaultLogLevel
	}
	if e.diag == nil {
		e.diag = io.Discard
	} else {
		e.diag = &mirror{w: e.diag, logger: logger}
	}
	return e
}

// mirror forwards diagnostics to w. The first write error is logged once
// and everything after it is discarded.
type mirror struct {
	w      io.Writer
	logger *slog.Logger
	failed bool
}

func (m *mirror) Write(p []byte) (int, error) {
	if m.failed {
		return len(p), nil
	}
	if _, err := m.w.Write(p); err != nil {
		m.failed = true
		m.logger.Warn("failed to mirror ffmpeg diagnostics, dropping further output", "error", err)
	}
	return len(p), nil
}

// Attempt remuxes playlist into output and reports whether a timestamp
// fault interrupted it. Engine failures not attributable to a segment are
// returned as errors matching ErrEngineFailed; a fault reported before any
// segment was opened returns ErrProtocolViolation.
func (e *Engine) Attempt(ctx context.Context, playlist, output string) (Outcome, error) {
	e.logger.Info("attempting to merge", "playlist", playlist, "output", output)

	var tracker faultTracker
	err := e.run(ctx, "merge", playlist, MergeArgs(e.logLevel, playlist, output), "", func(line string) error {
		ev, err := tracker.observe(line)
		if err != nil {
			return err
		}
		switch {
		case ev.Kind == EventSegmentOpen:
			e.logger.Debug("segment opened", "segment", ev.Segment)
		case ev.Kind == EventFault && ev.Segment != "":
			e.logger.Warn("DTS jump detected", "segment", ev.Segment)
		}
		return nil
	})

	if tracker.faulted && (err == nil || errors.Is(err, ErrEngineFailed)) {
		// The exit status after a detected fault carries no extra signal.
		return Outcome{Status: Fault, Segment: tracker.fault}, nil
	}
	if err != nil {
		if errors.Is(err, ErrEngineFailed) {
			e.logger.Error("ffmpeg failed", "playlist", playlist, "error", err)
		}
		return Outcome{}, err
	}
	return Outcome{Status: Success}, nil
}

// run starts ffmpeg with args in dir, mirrors its stderr and hands every
// line to onLine. An onLine error stops the process and is returned once
// it has been reaped.
func (e *Engine) run(ctx context.Context, op, input string, args []string, dir string, onLine func(string) error) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	cmd := e.command(runCtx, e.path, args...)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.WaitDelay = waitDelay

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ExitError{Op: op, Input: input, Code: -1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &ExitError{Op: op, Input: input, Code: -1, Err: err}
	}

	var lineErr error
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 4096), maxDiagnosticLine)
	sc.Split(scanDiagnostics)
	for sc.Scan() {
		tok := sc.Bytes()
		_, _ = e.diag.Write(tok)
		if lineErr != nil {
			continue
		}
		if err := onLine(strings.TrimRight(string(tok), "\r\n")); err != nil {
			lineErr = err
			stop()
		}
	}
	scanErr := sc.Err()
	if scanErr != nil {
		_, _ = io.Copy(e.diag, stderr)
	}

	waitErr := cmd.Wait()

	switch {
	case lineErr != nil:
		return lineErr
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	case waitErr != nil:
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ExitError{Op: op, Input: input, Code: code, Err: waitErr}
	case scanErr != nil:
		return &ExitError{Op: op, Input: input, Code: -1, Err: fmt.Errorf("read diagnostics: %w", scanErr)}
	}
	return nil
}

// scanDiagnostics is a bufio.SplitFunc yielding tokens that end at '\n' or
// '\r', terminator included, so mirrored output is byte-for-byte identical.
// Oversized tokens are flushed without a terminator.
func scanDiagnostics(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF || len(data) >= maxDiagnosticLine {
		return len(data), data, nil
	}
	return 0, nil, nil
}
