package workflow

import (
	"fmt"

	"github.com/praxislabs/scout/internal/interrupt"
	"github.com/praxislabs/scout/internal/model"
	"github.com/praxislabs/scout/internal/preference"
	"github.com/praxislabs/scout/internal/stream"
	"github.com/praxislabs/scout/internal/tools"
)

// Transitions are pure: given the current state and an externally supplied
// value they return the successor state and the frames to emit, touching no
// other state. The engine owns calling the tools and publishing the frames,
// so resuming after a pause replays the same continuation deterministically.

// User-visible stage texts.
const (
	reviewPromptText   = "Please provide feedback on the planned queries."
	statusNeedsSearch  = "🔍 Query requires web search..."
	statusDirectAnswer = "💬 Answering from history..."
	summarizeStartText = "🧠 Generating comprehensive answer..."
	directStartText    = "🧠 Generating direct answer..."
)

// StartQuery appends the user's message and rewinds the machine to
// classification. Prior messages and accumulated search results survive as
// conversation history.
func StartQuery(s State, message string) (State, []stream.Frame) {
	s.Messages = append(s.Messages, model.NewMessage(model.RoleUser, message, model.StatusComplete))
	s.Stage = StageClassify
	s.PlannedQueries = nil
	s.UserFeedback = ""
	return s, []stream.Frame{stream.TextFrame(stream.FrameStart, "Processing your query...")}
}

// ApplyClassification routes the query to the search path or a direct
// answer.
func ApplyClassification(s State, c tools.Classification) (State, []stream.Frame) {
	if c.NeedsSearch() {
		s.Stage = StagePlan
		return s, []stream.Frame{stream.TextFrame(stream.FrameStatus, statusNeedsSearch)}
	}
	s.Stage = StageDirectAnswer
	return s, []stream.Frame{stream.TextFrame(stream.FrameStatus, statusDirectAnswer)}
}

// ApplyPlan installs a fresh plan, consuming any pending reviewer feedback.
func ApplyPlan(s State, queries []string) (State, []stream.Frame) {
	s.PlannedQueries = append([]string(nil), queries...)
	s.UserFeedback = ""
	s.Stage = StageMemoryCheck
	frames := []stream.Frame{
		stream.TextFrame(stream.FramePlanningSummary, fmt.Sprintf("🧠 Planned %d search queries:", len(queries))),
	}
	for i, q := range queries {
		frames = append(frames, stream.TextFrame(stream.FramePlannedQuery, fmt.Sprintf("%d. %s", i+1, q)))
	}
	return s, frames
}

// ApplyAutoDecision consumes the preference gate's verdict. Without an
// auto-decision the plan goes to human review.
func ApplyAutoDecision(s State, dec preference.AutoDecision, ok bool) (State, []stream.Frame) {
	if !ok {
		s.Stage = StageHumanReview
		return s, nil
	}
	switch dec.Action {
	case interrupt.ActionApprove:
		s.Stage = StageSearch
		return s, []stream.Frame{stream.TextFrame(stream.FrameStatus,
			fmt.Sprintf("✅ Plan auto-approved from %d similar past reviews", dec.Matched))}
	case interrupt.ActionSkip:
		s.Stage = StageDone
		return s, []stream.Frame{stream.TextFrame(stream.FrameStatus,
			fmt.Sprintf("⏭️ Search auto-skipped from %d similar past reviews", dec.Matched))}
	default:
		s.Stage = StageHumanReview
		return s, nil
	}
}

// ApplyReview consumes the human's decision. Approve proceeds to search,
// skip finishes without searching, and free-text feedback becomes a
// user-visible turn that reroutes planning.
func ApplyReview(s State, in interrupt.ResumeInput) (State, []stream.Frame) {
	switch in.Action {
	case interrupt.ActionApprove:
		s.Stage = StageSearch
	case interrupt.ActionSkip:
		s.Stage = StageDone
	case interrupt.ActionFeedback:
		s.Messages = append(s.Messages, model.NewMessage(model.RoleUser, in.Feedback, model.StatusComplete))
		s.UserFeedback = in.Feedback
		s.Stage = StagePlan
	}
	return s, nil
}

// ApplySearchRound records the outcome of one executed planned query. A
// failed query is provenance, not an error: the count still advances and
// summarization later works with whatever succeeded.
func ApplySearchRound(s State, query string, results []model.SearchResult, err error) (State, []stream.Frame) {
	s.SearchCount++
	if err != nil {
		s.SearchFailures++
		msg := model.NewMessage(model.RoleTool, fmt.Sprintf("search failed for %q: %v", query, err), model.StatusError)
		s.Messages = append(s.Messages, msg)
		return s, []stream.Frame{stream.ToolMessageFrame(msg)}
	}
	msg := model.NewMessage(model.RoleTool, fmt.Sprintf("Found %d results for %q", len(results), query), model.StatusComplete)
	msg.SearchResults = append([]model.SearchResult(nil), results...)
	s.Messages = append(s.Messages, msg)
	s.SearchResults = append(s.SearchResults, results...)
	return s, []stream.Frame{stream.ToolMessageFrame(msg), stream.SearchResultsFrame(results)}
}

// FinishSearch moves on to summarization after the last planned query.
func FinishSearch(s State) (State, []stream.Frame) {
	s.Stage = StageSummarize
	return s, nil
}

// BeginAnswer opens a pending assistant message for the generated answer
// and announces the generation phase.
func BeginAnswer(s State, direct bool) (State, model.Message, []stream.Frame) {
	text := summarizeStartText
	if direct {
		text = directStartText
	}
	msg := model.NewMessage(model.RoleAssistant, "", model.StatusPending)
	s.Messages = append(s.Messages, msg)
	return s, msg, []stream.Frame{stream.TextFrame(stream.FrameSummarizationStart, text)}
}

// CompleteAnswer finalizes the assistant message with the full generated
// text and ends the run.
func CompleteAnswer(s State, messageID, text string) (State, []stream.Frame) {
	for i := range s.Messages {
		if s.Messages[i].ID == messageID {
			s.Messages[i].Content = text
			s.Messages[i].Status = model.StatusComplete
		}
	}
	s.Stage = StageDone
	return s, nil
}

// Fail routes the run to the error sink. The thread is not auto-retried;
// recovery is a fresh query.
func Fail(s State, err error) (State, []stream.Frame) {
	// A pending assistant message from an aborted generation is marked
	// errored rather than left dangling.
	for i := range s.Messages {
		if s.Messages[i].Status == model.StatusPending {
			s.Messages[i].Status = model.StatusError
		}
	}
	s.Stage = StageError
	return s, []stream.Frame{stream.TextFrame(stream.FrameError, fmt.Sprintf("request failed: %v", err))}
}

// ReviewPromptFor builds the interrupt payload shown to the human.
func ReviewPromptFor(s State) stream.ReviewPrompt {
	return stream.ReviewPrompt{
		ThreadID:       s.ThreadID,
		Prompt:         reviewPromptText,
		PlannedQueries: append([]string(nil), s.PlannedQueries...),
	}
}
