package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/interrupt"
	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/preference"
	"github.com/praxislabs/scout/internal/stream"
	"github.com/praxislabs/scout/internal/tools"
	"github.com/praxislabs/scout/internal/tracing"
)

// ErrUnknownThread is returned when an operation references a thread with
// no stored state.
var ErrUnknownThread = errors.New("workflow: unknown thread")

// Config tunes engine behavior.
type Config struct {
	// AnswerMode selects incremental or cumulative answer frames. Consumers
	// handle either, so this only changes what goes on the wire.
	AnswerMode string `mapstructure:"answer_mode"`
}

// Engine drives the per-thread workflow state machine. A thread's stages
// run strictly sequentially under its run lock; threads are independent
// and run fully in parallel.
type Engine struct {
	gateway    tools.Gateway
	gate       preference.Gate
	interrupts *interrupt.Coordinator
	streams    *stream.Manager
	store      StateStore
	answerMode stream.AnswerMode
	logger     *zap.Logger

	mu   sync.Mutex
	runs map[string]*threadLock
}

// threadLock serializes runs on one thread. Entries are reference counted
// so the map only holds threads with an active or waiting run instead of
// growing with every thread ever seen.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine wires the engine's collaborators. All of them are injected;
// the engine holds no global state.
func NewEngine(cfg Config, gateway tools.Gateway, gate preference.Gate, interrupts *interrupt.Coordinator, streams *stream.Manager, store StateStore, logger *zap.Logger) *Engine {
	mode := stream.AnswerMode(cfg.AnswerMode)
	if mode != stream.AnswerCumulative {
		mode = stream.AnswerIncremental
	}
	return &Engine{
		gateway:    gateway,
		gate:       gate,
		interrupts: interrupts,
		streams:    streams,
		store:      store,
		answerMode: mode,
		logger:     logger,
		runs:       make(map[string]*threadLock),
	}
}

// lockThread acquires the thread's run lock and returns its release func.
func (e *Engine) lockThread(threadID string) func() {
	e.mu.Lock()
	l, ok := e.runs[threadID]
	if !ok {
		l = &threadLock{}
		e.runs[threadID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.runs, threadID)
		}
		e.mu.Unlock()
	}
}

// Submit routes a client message: a response to an outstanding review
// resumes the parked run, anything else starts a fresh classification pass.
// A message arriving while a review is pending is treated as the review
// response even without the explicit flag, matching how clients behave
// after a reconnect.
func (e *Engine) Submit(ctx context.Context, threadID, message string, isResponseToInterrupt bool) error {
	if isResponseToInterrupt {
		return e.Resume(ctx, threadID, message)
	}
	if _, pending := e.interrupts.Pending(threadID); pending {
		return e.Resume(ctx, threadID, message)
	}

	unlock := e.lockThread(threadID)
	defer unlock()

	st, ok, err := e.store.Load(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread state: %w", err)
	}
	if !ok {
		st = NewState(threadID)
	}

	metrics.WorkflowsStarted.Inc()
	next, frames := StartQuery(*st, message)
	e.publish(threadID, frames)
	return e.run(ctx, &next)
}

// Resume feeds a review decision into a thread parked at human review.
// Duplicate or stale resumes are no-ops: the client may retry after a
// dropped acknowledgment and must not double-advance the workflow.
func (e *Engine) Resume(ctx context.Context, threadID, raw string) error {
	_, err := e.interrupts.Resolve(threadID)
	switch {
	case errors.Is(err, interrupt.ErrNoPendingReview):
		e.logger.Info("ignoring duplicate or stale resume", zap.String("thread_id", threadID))
		return nil
	case err != nil:
		return err
	}

	unlock := e.lockThread(threadID)
	defer unlock()

	st, ok, err := e.store.Load(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread state: %w", err)
	}
	if !ok {
		return ErrUnknownThread
	}

	in := interrupt.ParseResumeInput(raw)
	metrics.ResumesTotal.WithLabelValues(string(in.Action)).Inc()
	e.recordEpisode(ctx, st, in)

	next, frames := ApplyReview(*st, in)
	e.publish(threadID, frames)
	return e.run(ctx, &next)
}

// recordEpisode stores the human decision for the preference gate. Only
// human decisions are recorded; storing auto-decisions would let the gate
// compound its own bias. Failures are logged, never fatal to the run.
func (e *Engine) recordEpisode(ctx context.Context, st *State, in interrupt.ResumeInput) {
	query := st.LastUserQuery()
	ep := preference.Episode{
		Query:          query,
		PlannedQueries: st.PlannedQueries,
		Complexity:     preference.ComplexityScore(query, st.PlannedQueries),
		SearchQuality:  preference.SearchQualityScore(query, st.PlannedQueries),
		Decision:       in.Action,
		Feedback:       in.Feedback,
	}
	if err := e.gate.Record(ctx, ep); err != nil {
		e.logger.Warn("failed to record review episode",
			zap.String("thread_id", st.ThreadID), zap.Error(err))
	}
}

// State returns a snapshot of the thread's state for resynchronization.
func (e *Engine) State(ctx context.Context, threadID string) (*State, error) {
	st, ok, err := e.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownThread
	}
	return st.Clone(), nil
}

func (e *Engine) publish(threadID string, frames []stream.Frame) {
	for _, f := range frames {
		e.streams.Publish(threadID, f)
	}
}

func (e *Engine) save(ctx context.Context, st *State) {
	if err := e.store.Save(ctx, st); err != nil {
		e.logger.Error("failed to persist thread state",
			zap.String("thread_id", st.ThreadID), zap.Error(err))
	}
}

// run executes stages sequentially until the machine parks at human review
// or reaches a terminal stage. The caller holds the thread's run lock.
func (e *Engine) run(ctx context.Context, st *State) error {
	for !st.Stage.Terminal() {
		stageStart := time.Now()
		stage := st.Stage
		stageCtx, span := tracing.StartStageSpan(ctx, st.ThreadID, string(stage))

		next, parked, err := e.step(stageCtx, *st)
		span.End()
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(stageStart).Seconds())

		if err != nil {
			e.logger.Error("stage failed",
				zap.String("thread_id", st.ThreadID),
				zap.String("stage", string(stage)),
				zap.Error(err),
			)
			failed, frames := Fail(*st, err)
			e.publish(st.ThreadID, frames)
			e.save(ctx, &failed)
			metrics.WorkflowsCompleted.WithLabelValues("error").Inc()
			return nil
		}

		*st = next
		e.save(ctx, st)
		if parked {
			return nil
		}
	}
	metrics.WorkflowsCompleted.WithLabelValues("ok").Inc()
	return nil
}

// step executes one stage. It returns the successor state, whether the run
// parked at human review, and any tool error.
func (e *Engine) step(ctx context.Context, st State) (State, bool, error) {
	threadID := st.ThreadID
	query := st.LastUserQuery()

	switch st.Stage {
	case StageClassify:
		c, err := e.gateway.Classify(ctx, query, st.Messages)
		if err != nil {
			return st, false, err
		}
		e.logger.Info("query classified",
			zap.String("thread_id", threadID),
			zap.String("label", c.Label),
			zap.Float64("confidence", c.Confidence),
		)
		next, frames := ApplyClassification(st, c)
		e.publish(threadID, frames)
		return next, false, nil

	case StagePlan:
		queries, err := e.gateway.Plan(ctx, query, st.Messages, st.UserFeedback)
		if err != nil {
			return st, false, err
		}
		next, frames := ApplyPlan(st, queries)
		e.publish(threadID, frames)
		return next, false, nil

	case StageMemoryCheck:
		dec, ok, err := e.gate.Check(ctx, query, st.PlannedQueries)
		if err != nil {
			// A broken gate falls back to human review rather than
			// failing the run.
			e.logger.Warn("preference gate check failed",
				zap.String("thread_id", threadID), zap.Error(err))
			ok = false
		}
		next, frames := ApplyAutoDecision(st, dec, ok)
		e.publish(threadID, frames)
		return next, false, nil

	case StageHumanReview:
		prompt := ReviewPromptFor(st)
		if _, err := e.interrupts.Suspend(threadID, prompt.Prompt); err != nil {
			return st, false, err
		}
		// The interrupt frame is the last frame before the connection
		// idles pending resume.
		e.streams.Publish(threadID, stream.InterruptFrame(prompt))
		return st, true, nil

	case StageSearch:
		total := len(st.PlannedQueries)
		for i, q := range st.PlannedQueries {
			e.streams.Publish(threadID, stream.TextFrame(stream.FrameStatus,
				fmt.Sprintf("🔍 Searching (%d/%d)...", i+1, total)))
			results, err := e.gateway.Search(ctx, q)
			if err != nil {
				metrics.SearchesExecuted.WithLabelValues("error").Inc()
				e.logger.Warn("planned query failed",
					zap.String("thread_id", threadID),
					zap.String("query", q),
					zap.Error(err),
				)
			} else {
				metrics.SearchesExecuted.WithLabelValues("ok").Inc()
			}
			next, frames := ApplySearchRound(st, q, results, err)
			st = next
			e.publish(threadID, frames)
		}
		next, frames := FinishSearch(st)
		e.publish(threadID, frames)
		return next, false, nil

	case StageSummarize:
		next, msg, frames := BeginAnswer(st, false)
		e.publish(threadID, frames)
		enc := stream.NewAnswerEncoder(e.answerMode, msg.ID)
		text, err := e.gateway.Summarize(ctx, query, next.SearchResults, func(delta string) {
			e.streams.Publish(threadID, enc.Delta(delta))
		})
		if err != nil {
			return next, false, err
		}
		done, frames := CompleteAnswer(next, msg.ID, text)
		e.publish(threadID, frames)
		return done, false, nil

	case StageDirectAnswer:
		next, msg, frames := BeginAnswer(st, true)
		e.publish(threadID, frames)
		enc := stream.NewAnswerEncoder(e.answerMode, msg.ID)
		text, err := e.gateway.DirectAnswer(ctx, query, next.Messages, func(delta string) {
			e.streams.Publish(threadID, enc.Delta(delta))
		})
		if err != nil {
			return next, false, err
		}
		done, frames := CompleteAnswer(next, msg.ID, text)
		e.publish(threadID, frames)
		return done, false, nil

	default:
		return st, false, fmt.Errorf("workflow: no step for stage %s", st.Stage)
	}
}
