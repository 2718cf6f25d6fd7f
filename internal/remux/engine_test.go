package remux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg describes what the helper process does in place of ffmpeg.
type fakeFFmpeg struct {
	stderr   string
	exitCode int
	sleep    time.Duration
	record   string // file receiving the working directory and argv
}

// command re-executes the test binary as TestHelperProcess.
func (f fakeFFmpeg) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(),
		"GO_WANT_HELPER_PROCESS=1",
		"HELPER_STDERR="+f.stderr,
		"HELPER_EXIT="+strconv.Itoa(f.exitCode),
		"HELPER_SLEEP="+f.sleep.String(),
		"HELPER_RECORD="+f.record,
	)
	return cmd
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	if path := os.Getenv("HELPER_RECORD"); path != "" {
		wd, _ := os.Getwd()
		args := os.Args
		for i, a := range args {
			if a == "--" {
				args = args[i+1:]
				break
			}
		}
		os.WriteFile(path, []byte(wd+"\n"+strings.Join(args, "\n")), 0644)
	}

	fmt.Fprint(os.Stderr, os.Getenv("HELPER_STDERR"))

	if d, err := time.ParseDuration(os.Getenv("HELPER_SLEEP")); err == nil && d > 0 {
		time.Sleep(d)
	}

	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT"))
	os.Exit(code)
}

func newTestEngine(fake fakeFFmpeg, diag io.Writer) *Engine {
	e := New(Options{Diagnostics: diag}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.command = fake.command
	return e
}

const faultLog = "Input #0, hls, from '1.m3u8':\n" +
	"[hls @ 0x1] Opening 'A.ts' for reading\n" +
	"[hls @ 0x1] Opening 'B.ts' for reading\n" +
	"frame=  100 fps=0.0 size=512kB\r" +
	"[hls @ 0x1] Opening 'C.ts' for reading\n" +
	"[mp4 @ 0x2] Non-monotonous DTS in output stream 0:0; previous: 900, current: 3; changing to 901.\n" +
	"[hls @ 0x1] Opening 'D.ts' for reading\n"

func TestAttempt_Success(t *testing.T) {
	stderr := "[hls @ 0x1] Opening 'A.ts' for reading\n[hls @ 0x1] Opening 'B.ts' for reading\n"
	var diag bytes.Buffer
	e := newTestEngine(fakeFFmpeg{stderr: stderr}, &diag)

	out, err := e.Attempt(context.Background(), "1.m3u8", "1.ts")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: Success}, out)

	// Diagnostics are mirrored byte for byte
	assert.Equal(t, stderr, diag.String())
}

func TestAttempt_Fault(t *testing.T) {
	var diag bytes.Buffer
	e := newTestEngine(fakeFFmpeg{stderr: faultLog}, &diag)

	out, err := e.Attempt(context.Background(), "1.m3u8", "1.ts")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: Fault, Segment: "C.ts"}, out)

	// The stream is drained past the fault
	assert.Equal(t, faultLog, diag.String())
}

func TestAttempt_FaultIgnoresExitStatus(t *testing.T) {
	e := newTestEngine(fakeFFmpeg{stderr: faultLog, exitCode: 1}, nil)

	out, err := e.Attempt(context.Background(), "1.m3u8", "1.ts")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: Fault, Segment: "C.ts"}, out)
}

func TestAttempt_FatalError(t *testing.T) {
	stderr := "[hls @ 0x1] Opening 'A.ts' for reading\n1.ts: No space left on device\n"
	e := newTestEngine(fakeFFmpeg{stderr: stderr, exitCode: 1}, nil)

	_, err := e.Attempt(context.Background(), "1.m3u8", "1.ts")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineFailed)
	assert.NotErrorIs(t, err, ErrProtocolViolation)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, "merge", exitErr.Op)
}

func TestAttempt_ProtocolViolation(t *testing.T) {
	stderr := "[mp4 @ 0x2] Non-monotonous DTS in output stream 0:0; previous: 900, current: 3\n" +
		"[hls @ 0x1] Opening 'A.ts' for reading\n"
	e := newTestEngine(fakeFFmpeg{stderr: stderr}, nil)

	_, err := e.Attempt(context.Background(), "1.m3u8", "1.ts")
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.NotErrorIs(t, err, ErrEngineFailed)
}

// failingWriter fails every write after the first n bytes.
type failingWriter struct {
	n      int
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.n <= 0 {
		return 0, errors.New("no space left on device")
	}
	w.n -= len(p)
	return len(p), nil
}

func TestAttempt_DiagnosticsWriteFailure(t *testing.T) {
	var logs bytes.Buffer
	diag := &failingWriter{n: 1}
	e := New(Options{Diagnostics: diag}, slog.New(slog.NewTextHandler(&logs, nil)))
	e.command = fakeFFmpeg{stderr: faultLog}.command

	out, err := e.Attempt(context.Background(), "1.m3u8", "1.ts")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: Fault, Segment: "C.ts"}, out)

	// One failed write is reported, later lines are dropped
	assert.Equal(t, 2, diag.writes)
	assert.Equal(t, 1, strings.Count(logs.String(), "failed to mirror ffmpeg diagnostics"))

	_, err = e.Attempt(context.Background(), "1.m3u8", "2.ts")
	require.NoError(t, err)
	assert.Equal(t, 2, diag.writes)
	assert.Equal(t, 1, strings.Count(logs.String(), "failed to mirror ffmpeg diagnostics"))
}

func TestAttempt_StartFailure(t *testing.T) {
	e := New(Options{FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg")},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.Attempt(context.Background(), "1.m3u8", "1.ts")
	assert.ErrorIs(t, err, ErrEngineFailed)
}

func TestAttempt_Canceled(t *testing.T) {
	e := newTestEngine(fakeFFmpeg{stderr: "[hls @ 0x1] Opening 'A.ts' for reading\n", sleep: 30 * time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Attempt(ctx, "1.m3u8", "1.ts")
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrEngineFailed)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestAttempt_PassesMergeArgs(t *testing.T) {
	record := filepath.Join(t.TempDir(), "args")
	e := newTestEngine(fakeFFmpeg{record: record}, nil)

	_, err := e.Attempt(context.Background(), "/work/1.m3u8", "/work/intermediate/1.ts")
	require.NoError(t, err)

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Equal(t, "ffmpeg", lines[1])
	assert.Equal(t, MergeArgs("info", "/work/1.m3u8", "/work/intermediate/1.ts"), lines[2:])
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "concat.txt")
	chunks := []string{
		filepath.Join(dir, "1.ts"),
		filepath.Join(dir, "2.ts"),
		"3.ts",
		filepath.Join(dir, "it's.ts"),
	}

	require.NoError(t, WriteConcatList(list, chunks))

	data, err := os.ReadFile(list)
	require.NoError(t, err)
	assert.Equal(t, "file 1.ts\nfile 2.ts\nfile 3.ts\nfile 'it'\\''s.ts'\n", string(data))
}

func TestConcat_RunsInListDirectory(t *testing.T) {
	dir := t.TempDir()
	record := filepath.Join(t.TempDir(), "args")
	var diag bytes.Buffer
	e := newTestEngine(fakeFFmpeg{stderr: "[concat @ 0x1] Opening '1.ts' for reading\n", record: record}, &diag)

	list := filepath.Join(dir, "concat.txt")
	output := filepath.Join(t.TempDir(), "out.mp4")
	err := e.Concat(context.Background(), list,
		[]string{filepath.Join(dir, "1.ts"), filepath.Join(dir, "2.ts")}, output)
	require.NoError(t, err)

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")

	wantDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
	assert.Equal(t, ConcatArgs("info", "concat.txt", output), lines[2:])
	assert.Contains(t, diag.String(), "Opening '1.ts'")

	listData, err := os.ReadFile(list)
	require.NoError(t, err)
	assert.Equal(t, "file 1.ts\nfile 2.ts\n", string(listData))
}

func TestConcat_FatalError(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(fakeFFmpeg{stderr: "concat.txt: Invalid data found when processing input\n", exitCode: 1}, nil)

	err := e.Concat(context.Background(), filepath.Join(dir, "concat.txt"),
		[]string{filepath.Join(dir, "1.ts")}, filepath.Join(dir, "out.mp4"))
	assert.ErrorIs(t, err, ErrEngineFailed)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "concat", exitErr.Op)
}

func TestConcat_NoChunks(t *testing.T) {
	e := newTestEngine(fakeFFmpeg{}, nil)
	err := e.Concat(context.Background(), filepath.Join(t.TempDir(), "concat.txt"), nil, "out.mp4")
	assert.Error(t, err)
}
