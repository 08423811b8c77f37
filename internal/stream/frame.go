package stream

import (
	"encoding/json"
	"fmt"

	"github.com/praxislabs/scout/internal/model"
)

// FrameType is the closed set of event-stream frame types. Adding a type
// here must be matched by the exhaustive switches in the SSE writer and the
// consumer reducer.
type FrameType string

const (
	FrameStart              FrameType = "start"
	FrameStatus             FrameType = "status"
	FramePlanningSummary    FrameType = "planning_summary"
	FramePlannedQuery       FrameType = "planned_query"
	FrameSummarizationStart FrameType = "summarization_start"
	FrameAnswer             FrameType = "answer"
	FrameSearchResults      FrameType = "search_results"
	FrameToolMessage        FrameType = "tool_message"
	FrameInterrupt          FrameType = "interrupt"
	FrameError              FrameType = "error"
)

// Valid reports whether t is a member of the closed frame-type set.
func (t FrameType) Valid() bool {
	switch t {
	case FrameStart, FrameStatus, FramePlanningSummary, FramePlannedQuery,
		FrameSummarizationStart, FrameAnswer, FrameSearchResults,
		FrameToolMessage, FrameInterrupt, FrameError:
		return true
	}
	return false
}

// Frame is one discrete unit of the event-stream protocol. Content shape
// depends on Type. Frames are transient: never persisted, always
// replay-derivable from workflow state.
type Frame struct {
	Type    FrameType       `json:"type"`
	Content json.RawMessage `json:"content"`
	// ID is set on answer frames so consumers can detect a new assistant
	// message and reset their accumulated text.
	ID  string `json:"id,omitempty"`
	Seq uint64 `json:"seq"`
}

// ReviewPrompt is the structured payload of an interrupt frame.
type ReviewPrompt struct {
	ThreadID       string   `json:"thread_id"`
	Prompt         string   `json:"prompt"`
	PlannedQueries []string `json:"planned_queries"`
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// All payload types are plain data; marshal cannot fail.
		panic(fmt.Sprintf("stream: marshal frame payload: %v", err))
	}
	return b
}

// TextFrame builds a frame whose content is a plain string. Used for start,
// status, planning_summary, planned_query, summarization_start and error.
func TextFrame(t FrameType, text string) Frame {
	return Frame{Type: t, Content: mustJSON(text)}
}

// AnswerFrame builds an answer frame carrying generated text for the
// assistant message identified by messageID. Depending on the encoder mode
// the text is either the new suffix or the full text so far.
func AnswerFrame(messageID, text string) Frame {
	return Frame{Type: FrameAnswer, ID: messageID, Content: mustJSON(text)}
}

// SearchResultsFrame builds a search_results frame.
func SearchResultsFrame(results []model.SearchResult) Frame {
	return Frame{Type: FrameSearchResults, Content: mustJSON(results)}
}

// ToolMessageFrame builds a tool_message frame carrying a tool message with
// its attached search results.
func ToolMessageFrame(msg model.Message) Frame {
	return Frame{Type: FrameToolMessage, ID: msg.ID, Content: mustJSON(msg)}
}

// InterruptFrame builds an interrupt frame. It is always the last frame
// emitted before a connection idles pending resume.
func InterruptFrame(p ReviewPrompt) Frame {
	return Frame{Type: FrameInterrupt, Content: mustJSON(p)}
}

// Text decodes the string payload of a text-bearing frame.
func (f Frame) Text() (string, error) {
	var s string
	if err := json.Unmarshal(f.Content, &s); err != nil {
		return "", fmt.Errorf("stream: decode %s frame: %w", f.Type, err)
	}
	return s, nil
}

// SearchResults decodes the payload of a search_results frame.
func (f Frame) SearchResults() ([]model.SearchResult, error) {
	var rs []model.SearchResult
	if err := json.Unmarshal(f.Content, &rs); err != nil {
		return nil, fmt.Errorf("stream: decode search_results frame: %w", err)
	}
	return rs, nil
}

// ToolMessage decodes the payload of a tool_message frame.
func (f Frame) ToolMessage() (model.Message, error) {
	var m model.Message
	if err := json.Unmarshal(f.Content, &m); err != nil {
		return model.Message{}, fmt.Errorf("stream: decode tool_message frame: %w", err)
	}
	return m, nil
}

// Interrupt decodes the payload of an interrupt frame.
func (f Frame) Interrupt() (ReviewPrompt, error) {
	var p ReviewPrompt
	if err := json.Unmarshal(f.Content, &p); err != nil {
		return ReviewPrompt{}, fmt.Errorf("stream: decode interrupt frame: %w", err)
	}
	return p, nil
}

// Marshal returns the JSON wire form of the frame.
func (f Frame) Marshal() []byte {
	b, _ := json.Marshal(f)
	return b
}
