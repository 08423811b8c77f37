package preference

import (
	"context"
	"time"

	"github.com/praxislabs/scout/internal/interrupt"
)

// Episode is one recorded human-review outcome. The gate never exposes
// embeddings back to callers; they live inside the vector store.
type Episode struct {
	ID             string
	Query          string
	PlannedQueries []string
	// Complexity scores the research task itself, 0..1.
	Complexity float64
	// SearchQuality scores how well the planned queries cover the task, 0..1.
	SearchQuality float64
	Decision      interrupt.Action
	Feedback      string
	CreatedAt     time.Time
}

// AutoDecision is the gate's verdict for a candidate plan.
type AutoDecision struct {
	Action interrupt.Action
	// Confidence aggregates the matched episodes' decision confidence.
	Confidence float64
	// Matched is how many similar episodes backed the decision.
	Matched int
}

// Gate decides whether a candidate plan can bypass human review based on
// past review outcomes.
type Gate interface {
	// Check looks for enough similar past episodes to decide automatically.
	// ok is false when the plan must go to human review.
	Check(ctx context.Context, query string, plannedQueries []string) (dec AutoDecision, ok bool, err error)

	// Record stores a completed review outcome for future checks. Only
	// decisions a human actually made are recorded; auto-decisions would
	// otherwise compound their own bias.
	Record(ctx context.Context, ep Episode) error
}

// NopGate never auto-decides. Used when preference learning is disabled.
type NopGate struct{}

func (NopGate) Check(context.Context, string, []string) (AutoDecision, bool, error) {
	return AutoDecision{}, false, nil
}

func (NopGate) Record(context.Context, Episode) error { return nil }
