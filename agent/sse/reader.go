// Package sse reads the Server-Sent-Event stream format. Keep-alive pings
// (comment lines or events without data) are returned as events too, because
// the subscriber uses them as a liveness signal.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLine = 1024 * 1024

// Event is one dispatched event of the stream.
type Event struct {
	ID      string
	Event   string
	Data    string
	Comment string
}

// IsPing tells if the event is an empty keep-alive.
func (e Event) IsPing() bool {
	return strings.TrimSpace(e.Data) == ""
}

// Reader reads events from the stream.
type Reader struct {
	s *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLine)
	return &Reader{s: s}
}

// Next returns the next event. It returns io.EOF when the stream ends
// between the events, and io.ErrUnexpectedEOF when it ends in the middle of
// one.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		pending bool
	)
	for r.s.Scan() {
		line := strings.TrimSuffix(r.s.Text(), "\r")
		if line == "" {
			if !pending {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		pending = true
		if strings.HasPrefix(line, ":") {
			ev.Comment = strings.TrimSpace(line[1:])
			continue
		}
		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
		}
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			ev.Event = value
		case "id":
			ev.ID = value
		}
	}
	if err := r.s.Err(); err != nil {
		return Event{}, err
	}
	if pending {
		return Event{}, io.ErrUnexpectedEOF
	}
	return Event{}, io.EOF
}
