package remux

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineFailed matches every engine failure that cannot be pinned on
	// a segment: non-zero exit without a fault, or a failure to start.
	ErrEngineFailed = errors.New("remux engine failed")

	// ErrProtocolViolation means a DTS fault was reported before any segment
	// was opened, so the diagnostic format is not what the parser expects.
	ErrProtocolViolation = errors.New("timestamp fault reported before any segment was opened")

	// ErrCanceled means the caller's context ended while the engine ran.
	ErrCanceled = errors.New("remux canceled")
)

// ExitError describes an engine run that failed without an attributable
// fault.
type ExitError struct {
	Op    string // "merge" or "concat"
	Input string
	Code  int // -1 if the process did not exit normally
	Err   error
}

func (e *ExitError) Error() string {
	if e.Code >= 0 {
		return fmt.Sprintf("ffmpeg %s %s: exit status %d", e.Op, e.Input, e.Code)
	}
	return fmt.Sprintf("ffmpeg %s %s: %v", e.Op, e.Input, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Is reports ErrEngineFailed so callers can match on the sentinel.
func (e *ExitError) Is(target error) bool { return target == ErrEngineFailed }
