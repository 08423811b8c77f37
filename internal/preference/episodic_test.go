package preference

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/interrupt"
)

// stubEmbedding maps texts onto one of two orthogonal unit vectors by
// topic keyword, so same-topic episodes are maximally similar and
// cross-topic ones are not.
func stubEmbedding(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "weather") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func newGateForTest(t *testing.T) *EpisodicStore {
	t.Helper()
	s, err := NewEpisodicStore(Config{Enabled: true}, stubEmbedding, zap.NewNop())
	if err != nil {
		t.Fatalf("new episodic store: %v", err)
	}
	return s
}

func recordN(t *testing.T, s *EpisodicStore, n int, query string, decision interrupt.Action) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.Record(context.Background(), Episode{
			Query:          query,
			PlannedQueries: []string{query + " details"},
			Decision:       decision,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
}

func TestCheckEmptyStoreGoesToReview(t *testing.T) {
	s := newGateForTest(t)
	_, ok, err := s.Check(context.Background(), "weather in SF", []string{"sf weather"})
	if err != nil || ok {
		t.Fatalf("empty store must not auto-decide: ok=%v err=%v", ok, err)
	}
}

func TestCheckTooFewEpisodesGoesToReview(t *testing.T) {
	s := newGateForTest(t)
	recordN(t, s, 2, "weather in NYC", interrupt.ActionApprove)

	_, ok, err := s.Check(context.Background(), "weather in SF", []string{"sf weather"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("two episodes must not clear the three-episode floor")
	}
}

func TestCheckAutoApprovesWithAgreeingHistory(t *testing.T) {
	s := newGateForTest(t)
	recordN(t, s, 4, "weather in NYC", interrupt.ActionApprove)

	dec, ok, err := s.Check(context.Background(), "weather in SF", []string{"sf weather"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok || dec.Action != interrupt.ActionApprove {
		t.Fatalf("expected auto-approve, got ok=%v dec=%+v", ok, dec)
	}
	if dec.Confidence < 0.8 || dec.Matched < 3 {
		t.Fatalf("weak decision slipped through: %+v", dec)
	}
}

func TestCheckAutoSkips(t *testing.T) {
	s := newGateForTest(t)
	recordN(t, s, 3, "weather in NYC", interrupt.ActionSkip)

	dec, ok, err := s.Check(context.Background(), "weather in SF", []string{"sf weather"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok || dec.Action != interrupt.ActionSkip {
		t.Fatalf("expected auto-skip, got ok=%v dec=%+v", ok, dec)
	}
}

func TestCheckFeedbackHistoryForcesReview(t *testing.T) {
	s := newGateForTest(t)
	// The human kept intervening on plans like this; never bypass review.
	recordN(t, s, 4, "weather in NYC", interrupt.ActionFeedback)

	_, ok, err := s.Check(context.Background(), "weather in SF", []string{"sf weather"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("feedback-dominated history must go to review")
	}
}

func TestCheckDissentLowersConfidence(t *testing.T) {
	s := newGateForTest(t)
	recordN(t, s, 3, "weather in NYC", interrupt.ActionApprove)
	recordN(t, s, 3, "weather in LA", interrupt.ActionFeedback)

	_, ok, err := s.Check(context.Background(), "weather in SF", []string{"sf weather"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("a split history must not clear the confidence floor")
	}
}

func TestCheckIgnoresDissimilarEpisodes(t *testing.T) {
	s := newGateForTest(t)
	recordN(t, s, 5, "golang generics tutorial", interrupt.ActionApprove)

	_, ok, err := s.Check(context.Background(), "weather in SF", []string{"sf weather"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("dissimilar episodes must not drive an auto-decision")
	}
}

func TestScores(t *testing.T) {
	simple := ComplexityScore("hi", nil)
	hard := ComplexityScore("compare the long-term trade-offs of solar versus wind power for residential use in northern climates", []string{"a", "b", "c"})
	if hard <= simple {
		t.Fatalf("complexity ordering wrong: simple=%f hard=%f", simple, hard)
	}

	covered := SearchQualityScore("solar power costs", []string{"solar power installation costs"})
	uncovered := SearchQualityScore("solar power costs", []string{"weather tomorrow"})
	if covered <= uncovered {
		t.Fatalf("coverage ordering wrong: covered=%f uncovered=%f", covered, uncovered)
	}
}
