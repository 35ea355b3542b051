package realtime

import (
	"bytes"
	"io"
)

// Event names exposed on the client stream.
const (
	EventPresence      = "presence"
	EventFriendRequest = "friend_request"
)

// WriteFrame writes f in text/event-stream framing:
//
//	event: <type>
//	data: <json>
//
// Multi-line data is split across several data lines.
func WriteFrame(w io.Writer, f Frame) error {
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(f.Event)
	buf.WriteByte('\n')
	for _, line := range bytes.Split(f.Data, []byte{'\n'}) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteComment writes an SSE comment line, used as a keep-alive.
func WriteComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}

// Writer is a flushable stream, satisfied by gin.ResponseWriter and
// httptest.ResponseRecorder.
type Writer interface {
	io.Writer
	Flush()
}
