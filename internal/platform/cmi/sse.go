package cmi

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxEventLine = 1 << 20

// Event is one server-sent event.
type Event struct {
	Type string
	ID   string
	Data string
}

// EventReader decodes a text/event-stream body one event at a time.
type EventReader struct {
	sc      *bufio.Scanner
	afterCR bool
}

// NewEventReader wraps r. Lines may end in LF, CRLF or a lone CR. A line
// longer than 1 MiB fails Next with bufio.ErrTooLong and the reader is
// unusable afterwards; the stream treats that as a hard error and reconnects.
func NewEventReader(r io.Reader) *EventReader {
	er := &EventReader{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	sc.Split(er.splitLines)
	er.sc = sc
	return er
}

// splitLines is bufio.ScanLines with lone CR accepted as a terminator. A CR
// is returned as soon as it is seen; an LF right after it is swallowed on
// the next call.
func (r *EventReader) splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if r.afterCR && len(data) > 0 {
		r.afterCR = false
		if data[0] == '\n' {
			return 1, nil, nil
		}
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		r.afterCR = data[i] == '\r'
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Next blocks until a complete event has been read. Events with no data
// lines are skipped. It returns io.EOF when the stream ends cleanly; a
// partially received event at end of stream is discarded.
func (r *EventReader) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
	)

	for r.sc.Scan() {
		line := r.sc.Text()

		if line == "" {
			if !hasData {
				ev = Event{}
				continue
			}
			ev.Data = data.String()
			if ev.Type == "" {
				ev.Type = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Type = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			ev.ID = value
		}
	}

	if err := r.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
