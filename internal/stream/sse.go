package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// WriteSSE writes one frame in SSE wire form:
//
//	id: <seq>
//	event: <type>
//	data: <json>
//
// followed by a blank line.
func WriteSSE(w io.Writer, f Frame) error {
	if f.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", f.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", f.Type); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", f.Marshal())
	return err
}

// WriteSSEComment writes an SSE comment line, used for heartbeats and the
// initial connection acknowledgement.
func WriteSSEComment(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", comment)
	return err
}

// FlushSSE flushes the response writer if it supports it.
func FlushSSE(w http.ResponseWriter) {
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

// Decoder turns a raw SSE byte stream back into frames. It accumulates
// bytes until a complete blank-line-delimited record is available, so a
// record split across multiple network reads decodes correctly. A record
// that does not parse as a known frame is dropped, not fatal.
type Decoder struct {
	r      *bufio.Reader
	logger *zap.Logger
}

// NewDecoder wraps r for frame decoding.
func NewDecoder(r io.Reader, logger *zap.Logger) *Decoder {
	return &Decoder{r: bufio.NewReader(r), logger: logger}
}

// Next returns the next decoded frame. It returns io.EOF on a clean end of
// stream and the underlying transport error otherwise. Comments and
// malformed records are skipped.
func (d *Decoder) Next() (Frame, error) {
	for {
		record, err := d.readRecord()
		if err != nil {
			return Frame{}, err
		}
		f, ok := d.parseRecord(record)
		if !ok {
			continue
		}
		return f, nil
	}
}

// readRecord reads raw lines until the blank line that terminates an SSE
// record. A partial record cut off by EOF is discarded.
func (d *Decoder) readRecord() ([]string, error) {
	var lines []string
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(strings.TrimSpace(line)) == 0 && len(lines) == 0 {
				return nil, io.EOF
			}
			if err == io.EOF {
				// Truncated record at end of stream; nothing usable.
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func (d *Decoder) parseRecord(lines []string) (Frame, bool) {
	var (
		seq  uint64
		typ  string
		data bytes.Buffer
	)
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "id:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				seq = n
			}
		case strings.HasPrefix(line, "event:"):
			typ = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if data.Len() == 0 {
		return Frame{}, false
	}
	var f Frame
	if err := json.Unmarshal(data.Bytes(), &f); err != nil {
		d.logger.Warn("dropping malformed stream record", zap.Error(err))
		return Frame{}, false
	}
	// The event line is redundant with the payload's type field; use it
	// only when the payload omitted one.
	if f.Type == "" {
		f.Type = FrameType(typ)
	}
	if !f.Type.Valid() {
		d.logger.Warn("dropping record with unknown frame type", zap.String("type", string(f.Type)))
		return Frame{}, false
	}
	if f.Seq == 0 {
		f.Seq = seq
	}
	return f, true
}

// AnswerMode selects how successive answer frames encode growing generated
// text on the wire.
type AnswerMode string

const (
	// AnswerIncremental sends only the new suffix in each frame.
	AnswerIncremental AnswerMode = "incremental"
	// AnswerCumulative sends the full text so far in each frame.
	AnswerCumulative AnswerMode = "cumulative"
)

// AnswerEncoder emits answer frames for one assistant message in a single
// mode, chosen once per stream. Consumers must not rely on the mode; they
// detect it per frame.
type AnswerEncoder struct {
	mode      AnswerMode
	messageID string
	total     strings.Builder
}

// NewAnswerEncoder creates an encoder for the given assistant message.
func NewAnswerEncoder(mode AnswerMode, messageID string) *AnswerEncoder {
	if mode != AnswerCumulative {
		mode = AnswerIncremental
	}
	return &AnswerEncoder{mode: mode, messageID: messageID}
}

// Delta records newly generated text and returns the answer frame encoding
// it in the encoder's mode.
func (e *AnswerEncoder) Delta(text string) Frame {
	e.total.WriteString(text)
	if e.mode == AnswerCumulative {
		return AnswerFrame(e.messageID, e.total.String())
	}
	return AnswerFrame(e.messageID, text)
}

// Total returns the full text accumulated so far.
func (e *AnswerEncoder) Total() string { return e.total.String() }
