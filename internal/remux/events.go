package remux

import (
	"path"
	"regexp"
	"strings"
)

var (
	reSegmentOpen = regexp.MustCompile(`Opening '(?P<path>.*\.ts)' for reading`)

	// ffmpeg 6.1 renamed the warning and moved the stream id into the log
	// context, e.g. "[vost#0:0/copy @ 0x...] Non-monotonic DTS; ...".
	reTimestampFault = regexp.MustCompile(
		`Non-monotonous DTS in output stream|` +
			`\[[a-z]?ost#[0-9]+:[0-9]+[^\]]*\] Non-monotonic DTS`)
)

// EventKind classifies one diagnostic line.
type EventKind int

const (
	EventNone        EventKind = iota
	EventSegmentOpen           // The hls demuxer opened a segment.
	EventFault                 // The muxer saw a DTS regression.
)

// Event is a recognised diagnostic line.
type Event struct {
	Kind EventKind
	// Segment is the base name of the opened segment for EventSegmentOpen.
	Segment string
}

// ParseLine classifies a single line of ffmpeg stderr. Lines that match
// neither pattern yield EventNone.
func ParseLine(line string) Event {
	if m := reSegmentOpen.FindStringSubmatch(line); m != nil {
		p := m[reSegmentOpen.SubexpIndex("path")]
		return Event{
			Kind:    EventSegmentOpen,
			Segment: path.Base(strings.ReplaceAll(p, `\`, "/")),
		}
	}
	if reTimestampFault.MatchString(line) {
		return Event{Kind: EventFault}
	}
	return Event{Kind: EventNone}
}

// faultTracker folds diagnostic events into an attempt outcome.
type faultTracker struct {
	lastOpened string
	fault      string
	faulted    bool
}

// observe consumes one line. It returns ErrProtocolViolation when a fault
// appears before any segment has been opened.
func (t *faultTracker) observe(line string) (Event, error) {
	ev := ParseLine(line)
	switch ev.Kind {
	case EventSegmentOpen:
		t.lastOpened = ev.Segment
	case EventFault:
		if t.faulted {
			break
		}
		if t.lastOpened == "" {
			return ev, ErrProtocolViolation
		}
		t.faulted = true
		t.fault = t.lastOpened
		ev.Segment = t.fault
	}
	return ev, nil
}
