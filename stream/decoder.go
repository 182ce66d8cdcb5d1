package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Decoder reads SSE frames from a stream body. Comment lines — the
// producer's heartbeats — are skipped, so Next only ever returns semantic
// frames. At end of stream Next returns io.EOF; a mid-frame cut surfaces as
// whatever error the underlying reader produced.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps a stream body in a frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks until a complete frame arrives and returns it.
func (d *Decoder) Next() (Event, error) {
	var name, data string

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			// A frame cut off mid-write is dropped; the transport error
			// is what matters to the caller.
			return Event{}, err
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			// Blank line ends a frame
			if name != "" {
				return Event{Name: name, Data: json.RawMessage(data)}, nil
			}
			// Blank after a comment-only frame: keep reading
			continue
		}

		if strings.HasPrefix(line, ":") {
			// Heartbeat comment
			continue
		}

		if value, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(value)
		} else if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(value)
		}
		// Unknown fields (id:, retry:) are ignored
	}
}
