package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/workflow"
)

// MemoryConfig tunes the in-memory thread store.
type MemoryConfig struct {
	// TTL evicts threads idle longer than this. Zero disables expiry.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxThreads bounds the cache; the least recently touched thread is
	// evicted when exceeded. Zero means unbounded.
	MaxThreads int `mapstructure:"max_threads"`
	// SweepInterval is how often the janitor scans for expired entries.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type memoryEntry struct {
	state   *workflow.State
	touched time.Time
}

// MemoryStore keeps thread states in process memory with TTL eviction. The
// time source is injected so expiry is deterministically testable.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	cfg     MemoryConfig
	logger  *zap.Logger
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a memory store and starts its janitor when a TTL
// is configured.
func NewMemoryStore(cfg MemoryConfig, logger *zap.Logger) *MemoryStore {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cfg.TTL > 0 {
		go s.janitor()
	}
	return s
}

// NewMemoryStoreWithClock is NewMemoryStore with an injected time source
// and no janitor; tests call Sweep directly.
func NewMemoryStoreWithClock(cfg MemoryConfig, logger *zap.Logger, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		cfg:     cfg,
		logger:  logger,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Save implements workflow.StateStore.
func (s *MemoryStore) Save(_ context.Context, st *workflow.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[st.ThreadID] = &memoryEntry{state: st.Clone(), touched: s.now()}
	if s.cfg.MaxThreads > 0 && len(s.entries) > s.cfg.MaxThreads {
		s.evictOldestLocked()
	}
	metrics.ThreadCacheSize.Set(float64(len(s.entries)))
	return nil
}

// Load implements workflow.StateStore. Loading refreshes the entry's TTL.
func (s *MemoryStore) Load(_ context.Context, threadID string) (*workflow.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[threadID]
	if !ok {
		return nil, false, nil
	}
	if s.expiredLocked(e) {
		delete(s.entries, threadID)
		metrics.ThreadCacheEvictions.Inc()
		metrics.ThreadCacheSize.Set(float64(len(s.entries)))
		return nil, false, nil
	}
	e.touched = s.now()
	return e.state.Clone(), true, nil
}

// Delete implements workflow.StateStore.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, threadID)
	metrics.ThreadCacheSize.Set(float64(len(s.entries)))
	return nil
}

func (s *MemoryStore) expiredLocked(e *memoryEntry) bool {
	return s.cfg.TTL > 0 && s.now().Sub(e.touched) > s.cfg.TTL
}

func (s *MemoryStore) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range s.entries {
		if oldestID == "" || e.touched.Before(oldest) {
			oldestID = id
			oldest = e.touched
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
		metrics.ThreadCacheEvictions.Inc()
		s.logger.Debug("evicted thread over capacity", zap.String("thread_id", oldestID))
	}
}

// Sweep removes all expired entries and returns how many were evicted.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.entries {
		if s.expiredLocked(e) {
			delete(s.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.ThreadCacheEvictions.Add(float64(evicted))
		metrics.ThreadCacheSize.Set(float64(len(s.entries)))
	}
	return evicted
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired threads", zap.Int("evicted", n))
			}
		case <-s.stop:
			return
		}
	}
}
