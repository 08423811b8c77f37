package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/praxislabs/scout/internal/model"
)

// Label values returned by Classify.
const (
	LabelNeedsSearch  = "NEEDS_SEARCH"
	LabelDirectAnswer = "DIRECT_ANSWER"
)

// Classification is the model's routing decision for a query.
type Classification struct {
	Label      string  `json:"classification"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// NeedsSearch reports whether the query was routed to the search path.
func (c Classification) NeedsSearch() bool { return c.Label == LabelNeedsSearch }

// ErrEmptyPlan is returned when planning produced no usable queries. The
// engine treats it like any other tool failure.
var ErrEmptyPlan = errors.New("tools: planning produced no queries")

// MaxPlannedQueries bounds a planning pass. Searches run sequentially to
// bound provider rate and preserve citation order, so the cap also bounds
// end-to-end latency.
const MaxPlannedQueries = 3

// Gateway is the opaque capability behind classification, planning, search
// and summarization. The workflow core depends only on these signatures and
// failure modes; a timeout surfaces as an ordinary error, indistinguishable
// from other tool failures at the engine level.
type Gateway interface {
	// Classify decides whether the query needs web search or can be
	// answered from conversation history.
	Classify(ctx context.Context, query string, history []model.Message) (Classification, error)

	// Plan turns the query (plus optional reviewer feedback) into 1..3
	// search queries.
	Plan(ctx context.Context, query string, history []model.Message, feedback string) ([]string, error)

	// Search executes one planned query against the search provider.
	Search(ctx context.Context, query string) ([]model.SearchResult, error)

	// Summarize combines the surviving search results into a cited answer,
	// invoking onDelta for each generated text chunk before returning the
	// full text.
	Summarize(ctx context.Context, query string, results []model.SearchResult, onDelta func(string)) (string, error)

	// DirectAnswer answers from conversation history alone, streaming
	// chunks through onDelta.
	DirectAnswer(ctx context.Context, query string, history []model.Message, onDelta func(string)) (string, error)
}

// Timeouts bounds each tool call individually.
type Timeouts struct {
	Classify  time.Duration `mapstructure:"classify"`
	Plan      time.Duration `mapstructure:"plan"`
	Search    time.Duration `mapstructure:"search"`
	Summarize time.Duration `mapstructure:"summarize"`
}

// WithDefaults fills zero fields with conservative bounds.
func (t Timeouts) WithDefaults() Timeouts {
	if t.Classify <= 0 {
		t.Classify = 15 * time.Second
	}
	if t.Plan <= 0 {
		t.Plan = 30 * time.Second
	}
	if t.Search <= 0 {
		t.Search = 20 * time.Second
	}
	if t.Summarize <= 0 {
		t.Summarize = 2 * time.Minute
	}
	return t
}

// ToolError wraps a gateway failure with the tool that raised it, for error
// frames and provenance records.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %v", e.Tool, e.Err) }
func (e *ToolError) Unwrap() error { return e.Err }
