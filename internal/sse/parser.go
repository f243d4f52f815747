// Package sse frames server-sent events off a byte stream and connects to
// endpoints that answer with text/event-stream.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"
)

// DefaultEventType is the type of records that carry no event field.
const DefaultEventType = "message"

// maxLineSize bounds a single line. Completion payloads repeat the whole
// answer so far, so lines grow with the answer.
const maxLineSize = 4 << 20

// Event is one dispatched SSE record.
type Event struct {
	Type  string
	Data  string
	ID    string
	Retry time.Duration
}

// Parse returns the events framed from r, in order. The sequence ends when r
// is exhausted; a read error is yielded once as the final element. A record
// left unterminated at EOF is dropped.
func Parse(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		split := &lineSplitter{}
		sc.Split(split.split)

		var (
			eventType string
			data      strings.Builder
			hasData   bool
			lastID    string
			retry     time.Duration
			first     = true
		)

		for sc.Scan() {
			line := sc.Text()
			if first {
				line = strings.TrimPrefix(line, "\ufeff")
				first = false
			}

			if line == "" {
				if hasData {
					ev := Event{Type: eventType, Data: data.String(), ID: lastID, Retry: retry}
					if ev.Type == "" {
						ev.Type = DefaultEventType
					}
					eventType, hasData, retry = "", false, 0
					data.Reset()
					if !yield(ev, nil) {
						return
					}
				} else {
					eventType, retry = "", 0
				}
				continue
			}

			if strings.HasPrefix(line, ":") {
				continue
			}

			field, value, found := strings.Cut(line, ":")
			if found {
				value = strings.TrimPrefix(value, " ")
			}

			switch field {
			case "event":
				eventType = value
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.WriteString(value)
				hasData = true
			case "id":
				if !strings.ContainsRune(value, 0) {
					lastID = value
				}
			case "retry":
				if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
					retry = time.Duration(ms) * time.Millisecond
				}
			}
		}

		if err := sc.Err(); err != nil {
			yield(Event{}, err)
		}
	}
}

// lineSplitter splits on LF, CRLF or a lone CR. A CR at the end of the
// buffered data ends the line immediately; a following LF is then skipped.
type lineSplitter struct {
	skipLF bool
}

func (s *lineSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if s.skipLF {
		s.skipLF = false
		if data[0] == '\n' {
			return 1, nil, nil
		}
	}

	i := bytes.IndexAny(data, "\r\n")
	if i < 0 {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}

	if data[i] == '\n' {
		return i + 1, data[:i], nil
	}
	if i+1 < len(data) {
		if data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		return i + 1, data[:i], nil
	}
	s.skipLF = true
	return i + 1, data[:i], nil
}
