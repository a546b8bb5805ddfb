// Package eventstream reads and writes text/event-stream framing.
package eventstream

import (
	"bufio"
	"io"
	"strings"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID   string
	Name string
	Data string
}

// Reader decodes events from a stream.
type Reader struct {
	reader *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event carrying data. Comments and data-less events are skipped;
// an event left unterminated at the end of the stream is discarded.
func (r *Reader) Next() (*Event, error) {
	var event Event
	var data []string
	for {
		line, err := r.reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if len(data) > 0 {
					event.Data = strings.Join(data, "\n")
					return &event, nil
				}
				event = Event{}
			case strings.HasPrefix(line, ":"):
			default:
				field, value, _ := strings.Cut(line, ":")
				value = strings.TrimPrefix(value, " ")
				switch field {
				case "event":
					event.Name = value
				case "data":
					data = append(data, value)
				case "id":
					event.ID = value
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}
}
