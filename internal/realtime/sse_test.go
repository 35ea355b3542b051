package realtime

import (
	"bytes"
	"testing"
)

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Event: "presence", Data: []byte(`{"type":"user_online"}`)}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	want := "event: presence\ndata: {\"type\":\"user_online\"}\n\n"
	if buf.String() != want {
		t.Fatalf("got %q; want %q", buf.String(), want)
	}

	buf.Reset()
	_ = WriteFrame(&buf, Frame{Event: "x", Data: []byte("a\nb")})
	if buf.String() != "event: x\ndata: a\ndata: b\n\n" {
		t.Fatalf("multi-line data framed as %q", buf.String())
	}
}

func TestWriteComment(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteComment(&buf, "ping")
	if buf.String() != ": ping\n\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestConn_OfferAfterCloseFails(t *testing.T) {
	c := NewConn("u", 0)
	if !c.offer(Frame{Event: "a"}) {
		t.Fatalf("first offer must fit the minimum buffer")
	}
	if c.offer(Frame{Event: "b"}) {
		t.Fatalf("offer into a full buffer must fail")
	}
	c.close()
	c.close()
	if c.offer(Frame{Event: "c"}) {
		t.Fatalf("offer after close must fail")
	}
}
