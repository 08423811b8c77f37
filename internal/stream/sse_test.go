package stream

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// slowReader returns at most n bytes per Read, forcing records to arrive
// split across reads.
type slowReader struct {
	data []byte
	n    int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.n
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestWriteAndDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := TextFrame(FrameStatus, "searching")
	f.Seq = 7
	if err := WriteSSE(&buf, f); err != nil {
		t.Fatalf("write: %v", err)
	}

	dec := NewDecoder(&buf, zap.NewNop())
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != FrameStatus || got.Seq != 7 {
		t.Fatalf("unexpected frame: %+v", got)
	}
	text, err := got.Text()
	if err != nil || text != "searching" {
		t.Fatalf("unexpected text %q, err %v", text, err)
	}
}

func TestDecoderToleratesSplitReads(t *testing.T) {
	var buf bytes.Buffer
	for i := 1; i <= 3; i++ {
		f := TextFrame(FrameAnswer, strings.Repeat("x", i))
		f.Seq = uint64(i)
		if err := WriteSSE(&buf, f); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	dec := NewDecoder(&slowReader{data: buf.Bytes(), n: 3}, zap.NewNop())
	for i := 1; i <= 3; i++ {
		f, err := dec.Next()
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if f.Seq != uint64(i) {
			t.Fatalf("expected seq %d, got %d", i, f.Seq)
		}
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDecoderDropsMalformedRecords(t *testing.T) {
	raw := "data: {not json}\n\n" +
		"data: {\"type\":\"no_such_type\",\"content\":\"x\"}\n\n" +
		"id: 4\nevent: status\ndata: {\"type\":\"status\",\"content\":\"ok\",\"seq\":4}\n\n"
	dec := NewDecoder(strings.NewReader(raw), zap.NewNop())

	f, err := dec.Next()
	if err != nil {
		t.Fatalf("expected the valid record to survive, got %v", err)
	}
	if f.Type != FrameStatus || f.Seq != 4 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecoderSkipsComments(t *testing.T) {
	raw := ": ping\n\n" +
		"data: {\"type\":\"start\",\"content\":\"hi\",\"seq\":1}\n\n"
	dec := NewDecoder(strings.NewReader(raw), zap.NewNop())
	f, err := dec.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != FrameStart {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestAnswerEncoderModes(t *testing.T) {
	inc := NewAnswerEncoder(AnswerIncremental, "m1")
	f1 := inc.Delta("Hello")
	f2 := inc.Delta(", world")
	t1, _ := f1.Text()
	t2, _ := f2.Text()
	if t1 != "Hello" || t2 != ", world" {
		t.Fatalf("incremental mode emitted %q then %q", t1, t2)
	}
	if inc.Total() != "Hello, world" {
		t.Fatalf("total = %q", inc.Total())
	}

	cum := NewAnswerEncoder(AnswerCumulative, "m1")
	cum.Delta("Hello")
	f := cum.Delta(", world")
	text, _ := f.Text()
	if text != "Hello, world" {
		t.Fatalf("cumulative mode emitted %q", text)
	}
}
