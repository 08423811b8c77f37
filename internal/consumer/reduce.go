package consumer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/model"
	"github.com/praxislabs/scout/internal/stream"
	"github.com/praxislabs/scout/internal/workflow"
)

// Conversation is the client-visible reduction of a thread's frame stream.
type Conversation struct {
	Messages         []model.Message
	SearchResults    []model.SearchResult
	Stage            workflow.Stage
	AwaitingFeedback bool
	ReviewPrompt     stream.ReviewPrompt
	LastError        string

	// answerID and answerOpen track which assistant message answer frames
	// currently target. Frames may omit the id entirely, so an open answer
	// is tracked separately and only a differing non-empty id resets
	// accumulation.
	answerID   string
	answerOpen bool
}

func (c *Conversation) clone() Conversation {
	cp := *c
	cp.Messages = append([]model.Message(nil), c.Messages...)
	cp.SearchResults = append([]model.SearchResult(nil), c.SearchResults...)
	cp.ReviewPrompt.PlannedQueries = append([]string(nil), c.ReviewPrompt.PlannedQueries...)
	return cp
}

// Settled reports whether nothing more is expected on the stream.
func (c *Conversation) Settled() bool {
	return c.AwaitingFeedback || c.LastError != "" ||
		c.Stage == workflow.StageDone || c.Stage == workflow.StageError
}

func (c *Conversation) appendUserTurn(content string) {
	c.Messages = append(c.Messages, model.NewMessage(model.RoleUser, content, model.StatusComplete))
	c.LastError = ""
	c.Stage = ""
	c.answerID = ""
	c.answerOpen = false
}

// finalizePending marks still-pending assistant messages complete. Called
// on a clean end of stream, which only the server's final flush produces.
func (c *Conversation) finalizePending() {
	for i := range c.Messages {
		if c.Messages[i].Role == model.RoleAssistant && c.Messages[i].Status == model.StatusPending {
			c.Messages[i].Status = model.StatusComplete
		}
	}
	if c.Stage == "" {
		c.Stage = workflow.StageDone
	}
	c.answerID = ""
	c.answerOpen = false
}

type stateResponse struct {
	ThreadID       string               `json:"thread_id"`
	Stage          workflow.Stage       `json:"stage"`
	Messages       []model.Message      `json:"messages"`
	SearchResults  []model.SearchResult `json:"search_results"`
	PlannedQueries []string             `json:"planned_queries"`
}

// applyState replaces the reduced state with the server's authoritative
// snapshot.
func (c *Conversation) applyState(st stateResponse) {
	c.Messages = append([]model.Message(nil), st.Messages...)
	c.SearchResults = append([]model.SearchResult(nil), st.SearchResults...)
	c.Stage = st.Stage
	c.answerID = ""
	c.answerOpen = false
	if st.Stage == workflow.StageHumanReview {
		c.AwaitingFeedback = true
		c.ReviewPrompt = stream.ReviewPrompt{
			ThreadID:       st.ThreadID,
			Prompt:         "Please provide feedback on the planned queries.",
			PlannedQueries: append([]string(nil), st.PlannedQueries...),
		}
	} else {
		c.AwaitingFeedback = false
	}
	if st.Stage == workflow.StageError && c.LastError == "" {
		c.LastError = "request failed"
	}
}

// reduce folds one frame into the conversation. It fails only on a
// sequence regression, which forces a reconnect.
func (c *Consumer) reduce(f stream.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.Seq > 0 {
		if f.Seq <= c.lastSeq {
			return fmt.Errorf("%w: got %d after %d", ErrSequenceRegression, f.Seq, c.lastSeq)
		}
		c.lastSeq = f.Seq
	}

	if c.cfg.OnFrame != nil {
		c.cfg.OnFrame(f)
	}

	switch f.Type {
	case stream.FrameStart, stream.FrameStatus, stream.FramePlanningSummary,
		stream.FramePlannedQuery, stream.FrameSummarizationStart:
		// Progress display only; nothing structural to fold in.

	case stream.FrameAnswer:
		text, err := f.Text()
		if err != nil {
			c.logger.Warn("dropping undecodable answer frame", zap.Error(err))
			return nil
		}
		c.conv.reduceAnswer(f.ID, text)

	case stream.FrameSearchResults:
		results, err := f.SearchResults()
		if err != nil {
			c.logger.Warn("dropping undecodable search_results frame", zap.Error(err))
			return nil
		}
		c.conv.SearchResults = append(c.conv.SearchResults, results...)

	case stream.FrameToolMessage:
		msg, err := f.ToolMessage()
		if err != nil {
			c.logger.Warn("dropping undecodable tool_message frame", zap.Error(err))
			return nil
		}
		c.conv.Messages = append(c.conv.Messages, msg)

	case stream.FrameInterrupt:
		prompt, err := f.Interrupt()
		if err != nil {
			c.logger.Warn("dropping undecodable interrupt frame", zap.Error(err))
			return nil
		}
		c.conv.AwaitingFeedback = true
		c.conv.ReviewPrompt = prompt
		c.conv.Stage = workflow.StageHumanReview

	case stream.FrameError:
		text, _ := f.Text()
		c.conv.LastError = text
		c.conv.Stage = workflow.StageError
		c.conv.answerID = ""
		c.conv.answerOpen = false
		for i := range c.conv.Messages {
			if c.conv.Messages[i].Status == model.StatusPending {
				c.conv.Messages[i].Status = model.StatusError
			}
		}
	}
	return nil
}

// reduceAnswer folds one answer frame into the targeted assistant message,
// deciding cumulative vs incremental per frame: content at least as long
// as the accumulated text that prefix-matches it is a cumulative snapshot,
// anything else is a delta to append. Providers may switch modes
// mid-stream, so the decision is never cached. The message id is optional
// on the wire; an empty id continues the currently open answer, and only a
// differing non-empty id starts a new one.
func (c *Conversation) reduceAnswer(messageID, text string) {
	if !c.answerOpen || (messageID != "" && messageID != c.answerID) {
		msg := model.NewMessage(model.RoleAssistant, "", model.StatusPending)
		if messageID != "" {
			msg.ID = messageID
		}
		c.Messages = append(c.Messages, msg)
		c.answerOpen = true
	}
	if messageID != "" {
		c.answerID = messageID
	}
	last := &c.Messages[len(c.Messages)-1]
	acc := last.Content
	if len(text) >= len(acc) && strings.HasPrefix(text, acc) {
		last.Content = text
	} else {
		last.Content = acc + text
	}
}
