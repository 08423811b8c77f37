package preference

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/interrupt"
	"github.com/praxislabs/scout/internal/metrics"
)

// Config tunes the episodic gate.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// PersistPath persists episodes across restarts; empty keeps them
	// in memory only.
	PersistPath string `mapstructure:"persist_path"`
	Collection  string `mapstructure:"collection"`
	// MinEpisodes is the smallest number of agreeing similar episodes
	// that justifies skipping human review.
	MinEpisodes int `mapstructure:"min_episodes"`
	// MinConfidence is the aggregate confidence floor for auto-decisions.
	MinConfidence float64 `mapstructure:"min_confidence"`
	// MinSimilarity filters out weakly related episodes before counting.
	MinSimilarity float32 `mapstructure:"min_similarity"`
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Collection == "" {
		c.Collection = "review-episodes"
	}
	if c.MinEpisodes <= 0 {
		c.MinEpisodes = 3
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.8
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.7
	}
	return c
}

// EpisodicStore is a Gate backed by a local vector store. Embeddings come
// from the injected EmbeddingFunc, so tests can run without a model.
type EpisodicStore struct {
	cfg        Config
	collection *chromem.Collection
	logger     *zap.Logger
	now        func() time.Time
}

// NewEpisodicStore opens (or creates) the episode collection.
func NewEpisodicStore(cfg Config, embed chromem.EmbeddingFunc, logger *zap.Logger) (*EpisodicStore, error) {
	cfg = cfg.WithDefaults()

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "episodes.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open episode store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create episode collection: %w", err)
	}

	return &EpisodicStore{
		cfg:        cfg,
		collection: collection,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// episodeText is what gets embedded: the user query plus the plan, so
// similarity captures both what was asked and how it was to be researched.
func episodeText(query string, plannedQueries []string) string {
	return query + "\n" + strings.Join(plannedQueries, "\n")
}

// Check implements Gate. A plan bypasses review only when at least
// MinEpisodes sufficiently similar past episodes agree on approve or skip
// and their similarity-weighted agreement clears MinConfidence. Feedback
// episodes count against agreement: they are evidence the human wanted to
// intervene on plans like this one.
func (s *EpisodicStore) Check(ctx context.Context, query string, plannedQueries []string) (AutoDecision, bool, error) {
	if s.collection.Count() == 0 {
		return AutoDecision{}, false, nil
	}
	topK := s.cfg.MinEpisodes * 3
	if n := s.collection.Count(); topK > n {
		topK = n
	}
	results, err := s.collection.Query(ctx, episodeText(query, plannedQueries), topK, nil, nil)
	if err != nil {
		return AutoDecision{}, false, fmt.Errorf("query episodes: %w", err)
	}

	var total int
	var weight float64
	byAction := map[interrupt.Action]int{}
	byWeight := map[interrupt.Action]float64{}
	for _, r := range results {
		if r.Similarity < s.cfg.MinSimilarity {
			continue
		}
		action := interrupt.Action(r.Metadata["decision"])
		total++
		weight += float64(r.Similarity)
		byAction[action]++
		byWeight[action] += float64(r.Similarity)
	}
	if total < s.cfg.MinEpisodes {
		return AutoDecision{}, false, nil
	}

	// Majority action by similarity weight.
	var best interrupt.Action
	for action, w := range byWeight {
		if best == "" || w > byWeight[best] {
			best = action
		}
	}
	if best != interrupt.ActionApprove && best != interrupt.ActionSkip {
		return AutoDecision{}, false, nil
	}
	confidence := byWeight[best] / weight
	if byAction[best] < s.cfg.MinEpisodes || confidence < s.cfg.MinConfidence {
		return AutoDecision{}, false, nil
	}

	dec := AutoDecision{Action: best, Confidence: confidence, Matched: byAction[best]}
	metrics.AutoDecisions.WithLabelValues(string(best)).Inc()
	s.logger.Info("review bypassed by episodic memory",
		zap.String("decision", string(best)),
		zap.Int("matched", dec.Matched),
		zap.Float64("confidence", confidence),
	)
	return dec, true, nil
}

// Record implements Gate.
func (s *EpisodicStore) Record(ctx context.Context, ep Episode) error {
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = s.now().UTC()
	}
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      ep.ID,
		Content: episodeText(ep.Query, ep.PlannedQueries),
		Metadata: map[string]string{
			"decision":       string(ep.Decision),
			"feedback":       ep.Feedback,
			"complexity":     strconv.FormatFloat(ep.Complexity, 'f', 3, 64),
			"search_quality": strconv.FormatFloat(ep.SearchQuality, 'f', 3, 64),
			"created_at":     ep.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("record episode: %w", err)
	}
	metrics.EpisodesRecorded.Inc()
	return nil
}
