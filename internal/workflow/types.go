package workflow

import (
	"context"

	"github.com/praxislabs/scout/internal/model"
)

// Stage is a named state of the workflow state machine.
type Stage string

const (
	StageClassify     Stage = "CLASSIFY"
	StagePlan         Stage = "PLAN"
	StageMemoryCheck  Stage = "MEMORY_CHECK"
	StageHumanReview  Stage = "HUMAN_REVIEW"
	StageSearch       Stage = "SEARCH"
	StageSummarize    Stage = "SUMMARIZE"
	StageDirectAnswer Stage = "DIRECT_ANSWER"
	StageDone         Stage = "DONE"
	StageError        Stage = "ERROR"
)

// Terminal reports whether the stage ends the run.
func (s Stage) Terminal() bool { return s == StageDone || s == StageError }

// State is the complete workflow state for one thread. It is owned
// exclusively by the engine and mutated only through the transitions in
// this package.
type State struct {
	ThreadID string `json:"thread_id"`
	Stage    Stage  `json:"stage"`
	// Messages is the append-only conversation record, including tool
	// messages that carry search provenance.
	Messages []model.Message `json:"messages"`
	// PlannedQueries is replaced wholesale on each planning pass.
	PlannedQueries []string `json:"planned_queries,omitempty"`
	// SearchResults accumulates across search rounds for the thread.
	SearchResults []model.SearchResult `json:"search_results,omitempty"`
	// UserFeedback holds reviewer feedback for exactly one planning pass,
	// then is cleared.
	UserFeedback string `json:"user_feedback,omitempty"`
	// SearchCount counts every executed planned query, failures included.
	SearchCount int `json:"search_count"`
	// SearchFailures counts planned queries that returned no results due
	// to a tool failure.
	SearchFailures int `json:"search_failures"`
}

// NewState creates the initial state for a thread.
func NewState(threadID string) *State {
	return &State{ThreadID: threadID, Stage: StageClassify}
}

// Clone returns a deep copy, so snapshots handed to callers can never
// alias the engine-owned instance.
func (s *State) Clone() *State {
	cp := *s
	cp.Messages = make([]model.Message, len(s.Messages))
	for i, m := range s.Messages {
		cp.Messages[i] = m
		cp.Messages[i].SearchResults = append([]model.SearchResult(nil), m.SearchResults...)
	}
	cp.PlannedQueries = append([]string(nil), s.PlannedQueries...)
	cp.SearchResults = append([]model.SearchResult(nil), s.SearchResults...)
	return &cp
}

// LastUserQuery returns the content of the most recent user message.
func (s *State) LastUserQuery() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// StateStore persists thread states between engine runs. The engine calls
// Save after every transition so a resync via fetch-state observes results
// even when no stream is attached.
type StateStore interface {
	Save(ctx context.Context, st *State) error
	Load(ctx context.Context, threadID string) (*State, bool, error)
	Delete(ctx context.Context, threadID string) error
}
