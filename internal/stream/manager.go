package stream

import (
	"sync"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
)

// Manager provides in-memory pub/sub for thread event frames. It assigns
// each published frame a per-thread, strictly increasing sequence id and
// keeps a fixed-capacity ring of recent frames so a reconnecting client can
// replay from its Last-Event-ID.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Frame]struct{}
	history     map[string]*ring
	capacity    int
	logger      *zap.Logger
}

// DefaultRingCapacity bounds the per-thread replay backlog.
const DefaultRingCapacity = 256

// NewManager creates a manager with the given replay ring capacity per
// thread. A capacity <= 0 falls back to DefaultRingCapacity.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Frame]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// Subscribe adds a subscriber channel for a thread; the caller must drain
// it and call Unsubscribe when done.
func (m *Manager) Subscribe(threadID string, buffer int) chan Frame {
	ch := make(chan Frame, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[threadID]
	if subs == nil {
		subs = make(map[chan Frame]struct{})
		m.subscribers[threadID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(threadID string, ch chan Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[threadID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, threadID)
		}
	}
}

// Publish assigns the next sequence id for the thread and delivers the
// frame to all subscribers without blocking. A slow subscriber drops frames
// rather than stalling the workflow engine; the dropped frames remain
// replayable from the ring.
func (m *Manager) Publish(threadID string, f Frame) Frame {
	m.mu.Lock()
	rg := m.history[threadID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[threadID] = rg
	}
	rg.nextSeq++
	f.Seq = rg.nextSeq
	rg.push(f)
	subs := m.subscribers[threadID]
	targets := make([]chan Frame, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	metrics.FramesPublished.WithLabelValues(string(f.Type)).Inc()
	for _, ch := range targets {
		select {
		case ch <- f:
		default:
			m.logger.Warn("dropping frame for slow subscriber",
				zap.String("thread_id", threadID),
				zap.String("type", string(f.Type)),
				zap.Uint64("seq", f.Seq),
			)
			metrics.FramesDropped.Inc()
		}
	}
	return f
}

// ReplaySince returns buffered frames with Seq > since, best-effort within
// the ring capacity.
func (m *Manager) ReplaySince(threadID string, since uint64) []Frame {
	m.mu.RLock()
	rg := m.history[threadID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// LastSeq returns the highest sequence id assigned for the thread.
func (m *Manager) LastSeq(threadID string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rg := m.history[threadID]; rg != nil {
		return rg.nextSeq
	}
	return 0
}

// ring is a fixed-capacity ring buffer of frames.
type ring struct {
	buf     []Frame
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Frame, capacity)} }

func (r *ring) push(f Frame) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = f
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = f
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Frame {
	if r.count == 0 {
		return nil
	}
	out := make([]Frame, 0, r.count)
	for i := 0; i < r.count; i++ {
		f := r.buf[(r.start+i)%len(r.buf)]
		if f.Seq > seq {
			out = append(out, f)
		}
	}
	return out
}
