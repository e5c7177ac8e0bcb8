package testutil

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

// SSEFrame is one decoded server-sent event: the raw data payload plus its
// JSON decoding when the payload is a JSON object.
type SSEFrame struct {
	Data string
	JSON map[string]any
}

// ReadSSE consumes an event stream and returns its frames in order. The
// stream uses data-only frames; event names are not expected.
func ReadSSE(t *testing.T, r io.Reader) []SSEFrame {
	t.Helper()

	var frames []SSEFrame
	var data []string

	flush := func() {
		if len(data) == 0 {
			return
		}
		frame := SSEFrame{Data: strings.Join(data, "\n")}
		var obj map[string]any
		if err := json.Unmarshal([]byte(frame.Data), &obj); err == nil {
			frame.JSON = obj
		}
		frames = append(frames, frame)
		data = data[:0]
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line, "data:"))
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("reading event stream: %v", err)
	}
	flush()
	return frames
}
