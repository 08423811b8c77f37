package interrupt

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
)

var (
	// ErrReviewPending is returned by Suspend when the thread already has an
	// unresolved token. Two concurrent reviews for one thread are a protocol
	// violation by the caller.
	ErrReviewPending = errors.New("interrupt: review already pending for thread")

	// ErrNoPendingReview is returned by Resolve when the thread has no
	// outstanding token. Duplicate resumes surface it too, since resolving
	// releases the token; callers treat it as idempotent success.
	ErrNoPendingReview = errors.New("interrupt: no pending review for thread")
)

// Action is a structured review decision.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionSkip     Action = "skip"
	ActionFeedback Action = "feedback"
)

// ResumeInput carries the human's (or preference gate's) review decision
// back into the workflow.
type ResumeInput struct {
	Action   Action `json:"action"`
	Feedback string `json:"feedback,omitempty"`
}

// ParseResumeInput maps raw resume text onto a structured input: the exact
// words "approve" and "skip" are structured actions, anything else is
// free-text feedback.
func ParseResumeInput(raw string) ResumeInput {
	switch raw {
	case string(ActionApprove):
		return ResumeInput{Action: ActionApprove}
	case string(ActionSkip):
		return ResumeInput{Action: ActionSkip}
	default:
		return ResumeInput{Action: ActionFeedback, Feedback: raw}
	}
}

// StageHumanReview names the only checkpoint that suspends a workflow.
const StageHumanReview = "HUMAN_REVIEW"

// Token records one suspension of a thread at the human-review checkpoint.
type Token struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Stage     string    `json:"stage"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
	Resolved  bool      `json:"resolved"`
}

// Coordinator manages the single outstanding pause point per thread and the
// resume handshake. The token map holds only unresolved tokens; Resolve
// removes its entry, so the map is bounded by the number of parked threads.
type Coordinator struct {
	mu     sync.Mutex
	tokens map[string]*Token
	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{
		tokens: make(map[string]*Token),
		logger: logger,
		now:    time.Now,
	}
}

// Suspend registers a pause point for the thread and returns its token. It
// fails with ErrReviewPending if an unresolved token already exists.
func (c *Coordinator) Suspend(threadID, prompt string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[threadID]; ok {
		return Token{}, ErrReviewPending
	}
	t := &Token{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Stage:     StageHumanReview,
		Prompt:    prompt,
		CreatedAt: c.now().UTC(),
	}
	c.tokens[threadID] = t
	metrics.InterruptsPending.Inc()
	c.logger.Info("workflow suspended for human review",
		zap.String("thread_id", threadID),
		zap.String("token_id", t.ID),
	)
	return *t, nil
}

// Resolve marks the thread's token resolved, releases it, and returns a
// copy. The token is released before the caller runs any engine transition,
// so a concurrent duplicate resume observes ErrNoPendingReview instead of
// racing the transition. Duplicate and stale resumes are the caller's
// signal to no-op, never to fail the connection.
func (c *Coordinator) Resolve(threadID string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[threadID]
	if !ok {
		metrics.DuplicateResumes.Inc()
		return Token{}, ErrNoPendingReview
	}
	t.Resolved = true
	delete(c.tokens, threadID)
	metrics.InterruptsPending.Dec()
	c.logger.Info("review resolved",
		zap.String("thread_id", threadID),
		zap.String("token_id", t.ID),
	)
	return *t, nil
}

// Pending returns the thread's unresolved token, if any.
func (c *Coordinator) Pending(threadID string) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tokens[threadID]; ok {
		return *t, true
	}
	return Token{}, false
}
