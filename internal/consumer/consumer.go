package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/stream"
)

// ErrAwaitingFeedback is returned by Ask while the thread is parked at
// human review; the caller must resolve the review first.
var ErrAwaitingFeedback = errors.New("consumer: thread is awaiting review feedback")

// ErrSequenceRegression signals a non-increasing frame sequence id. The
// consumer drops the connection and reconnects when it sees one.
var ErrSequenceRegression = errors.New("consumer: non-increasing sequence id")

// Config tunes the consumer.
type Config struct {
	BaseURL string
	// BackoffBase and BackoffCap bound reconnect delays:
	// delay = base * 2^attempt, capped.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	// WatchTimeout bounds one re-attach watch before resyncing again, so
	// a run that finished while no frames were flowing is still noticed.
	WatchTimeout time.Duration
	// OnFrame, when set, observes every reduced frame. Used by the CLI to
	// render progress.
	OnFrame func(stream.Frame)
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.WatchTimeout <= 0 {
		c.WatchTimeout = time.Minute
	}
	return c
}

// Consumer maintains one thread's client-side conversation state by
// reducing the server's frame stream, reconnecting on transport failures
// and resynchronizing from fetch-state after hard disconnects.
type Consumer struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	threadID string
	conv     Conversation
	lastSeq  uint64
	cancel   context.CancelFunc
}

// New creates a consumer for one thread at a time.
func New(cfg Config, logger *zap.Logger) *Consumer {
	return &Consumer{
		cfg:    cfg.withDefaults(),
		http:   &http.Client{},
		logger: logger,
	}
}

// CreateThread asks the server for a fresh thread and binds to it.
func (c *Consumer) CreateThread(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/threads", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create thread: HTTP %d", resp.StatusCode)
	}
	var body struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.threadID = body.ThreadID
	c.conv = Conversation{}
	c.lastSeq = 0
	c.mu.Unlock()
	return body.ThreadID, nil
}

// Attach binds the consumer to an existing thread and resyncs its state.
func (c *Consumer) Attach(ctx context.Context, threadID string) error {
	c.mu.Lock()
	c.threadID = threadID
	c.conv = Conversation{}
	c.lastSeq = 0
	c.mu.Unlock()
	return c.resync(ctx)
}

// Conversation returns a snapshot of the reduced state.
func (c *Consumer) Conversation() Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.clone()
}

// Ask submits a new query and blocks until the run completes, parks at a
// review, or delivery fails for good. Sends are suppressed while a review
// is outstanding.
func (c *Consumer) Ask(ctx context.Context, message string) error {
	c.mu.Lock()
	if c.conv.AwaitingFeedback {
		c.mu.Unlock()
		return ErrAwaitingFeedback
	}
	c.conv.appendUserTurn(message)
	c.mu.Unlock()
	return c.submit(ctx, message, false)
}

// Approve resolves the outstanding review with a structured approval. No
// user-visible turn is created.
func (c *Consumer) Approve(ctx context.Context) error {
	return c.resolveReview(ctx, "approve", false)
}

// Skip resolves the outstanding review by skipping the search. No
// user-visible turn is created.
func (c *Consumer) Skip(ctx context.Context) error {
	return c.resolveReview(ctx, "skip", false)
}

// SendFeedback resolves the outstanding review with free-text feedback,
// recorded as a user-visible turn.
func (c *Consumer) SendFeedback(ctx context.Context, feedback string) error {
	return c.resolveReview(ctx, feedback, true)
}

func (c *Consumer) resolveReview(ctx context.Context, message string, visibleTurn bool) error {
	c.mu.Lock()
	if !c.conv.AwaitingFeedback {
		c.mu.Unlock()
		return errors.New("consumer: no review outstanding")
	}
	c.conv.AwaitingFeedback = false
	c.conv.Stage = ""
	if visibleTurn {
		c.conv.appendUserTurn(message)
	}
	c.mu.Unlock()
	return c.submit(ctx, message, true)
}

// submit opens the query connection, cancelling any previous one first:
// one active connection per thread, no overlap.
func (c *Consumer) submit(ctx context.Context, message string, isResume bool) error {
	c.mu.Lock()
	threadID := c.threadID
	if c.cancel != nil {
		c.cancel()
	}
	connCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	body, _ := json.Marshal(map[string]interface{}{
		"thread_id":                threadID,
		"message":                  message,
		"is_response_to_interrupt": isResume,
	})
	req, err := http.NewRequestWithContext(connCtx, http.MethodPost, c.cfg.BaseURL+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.watchWithRetry(connCtx)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit query: HTTP %d", resp.StatusCode)
	}

	if err := c.consume(resp.Body); err != nil {
		c.logger.Warn("stream interrupted, reconnecting", zap.Error(err))
		return c.watchWithRetry(connCtx)
	}
	return nil
}

// consume runs the decode loop until a clean end of stream (nil) or a
// transport failure (the error). Sequence regressions surface as errors so
// the caller drops the connection and reconnects.
func (c *Consumer) consume(r io.Reader) error {
	dec := stream.NewDecoder(r, c.logger)
	for {
		f, err := dec.Next()
		if err == io.EOF {
			c.mu.Lock()
			c.conv.finalizePending()
			c.mu.Unlock()
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.reduce(f); err != nil {
			return err
		}
	}
}

// watchWithRetry reattaches to the thread's stream after a transport
// failure: resync first (the run may have finished while we were away),
// then watch forward from the last delivered sequence id with exponential
// backoff between attempts.
func (c *Consumer) watchWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		delay := c.cfg.BackoffBase << uint(attempt)
		if delay > c.cfg.BackoffCap {
			delay = c.cfg.BackoffCap
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := c.resync(ctx); err != nil {
			lastErr = err
			continue
		}
		c.mu.Lock()
		settled := c.conv.Settled()
		c.mu.Unlock()
		if settled {
			return nil
		}

		if err := c.watch(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("consumer: gave up after %d reconnect attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// watch follows the re-attach stream until the run settles or the watch
// window elapses; the caller resyncs and decides whether to try again.
func (c *Consumer) watch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WatchTimeout)
	defer cancel()

	c.mu.Lock()
	threadID := c.threadID
	lastSeq := c.lastSeq
	c.mu.Unlock()

	url := c.cfg.BaseURL + "/api/v1/stream/" + threadID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastSeq > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(lastSeq, 10))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("attach stream: HTTP %d", resp.StatusCode)
	}

	dec := stream.NewDecoder(resp.Body, c.logger)
	for {
		f, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.reduce(f); err != nil {
			return err
		}
		c.mu.Lock()
		settled := c.conv.Settled()
		c.mu.Unlock()
		if settled {
			return nil
		}
	}
}

// resync replaces the reduced message/result state from fetch-state. The
// server's state is authoritative; already-delivered frames are never
// replayed into it.
func (c *Consumer) resync(ctx context.Context) error {
	c.mu.Lock()
	threadID := c.threadID
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v1/state/"+threadID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch state: HTTP %d", resp.StatusCode)
	}

	var st stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}
	c.mu.Lock()
	c.conv.applyState(st)
	c.mu.Unlock()
	return nil
}
