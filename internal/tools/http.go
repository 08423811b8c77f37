package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/praxislabs/scout/internal/metrics"
	"github.com/praxislabs/scout/internal/model"
	"github.com/praxislabs/scout/internal/tracing"
)

// HTTPConfig configures the HTTP-backed gateway.
type HTTPConfig struct {
	// ModelURL is the base URL of the model sidecar exposing /classify,
	// /plan, /summarize and /answer.
	ModelURL string `mapstructure:"model_url"`
	// SearchURL is the base URL of the search provider exposing /search.
	SearchURL string `mapstructure:"search_url"`
	// SearchAPIKey is sent as a bearer token on search calls when set.
	SearchAPIKey string `mapstructure:"search_api_key"`
	// MaxResults caps results per search call.
	MaxResults int `mapstructure:"max_results"`
	// SearchRatePerSec throttles search calls; 0 disables throttling.
	SearchRatePerSec float64  `mapstructure:"search_rate_per_sec"`
	Timeouts         Timeouts `mapstructure:"timeouts"`
}

// HTTPGateway implements Gateway against a model sidecar and a search
// provider over plain HTTP.
type HTTPGateway struct {
	cfg     HTTPConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPGateway constructs a gateway. The shared http.Client carries no
// global timeout; each call sets its own deadline from cfg.Timeouts.
func NewHTTPGateway(cfg HTTPConfig, logger *zap.Logger) *HTTPGateway {
	cfg.Timeouts = cfg.Timeouts.WithDefaults()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	var limiter *rate.Limiter
	if cfg.SearchRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SearchRatePerSec), 1)
	}
	return &HTTPGateway{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: limiter,
		logger:  logger,
	}
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// conversationHistory filters messages to user/assistant turns; tool
// messages are provenance carriers, not conversation, and upstream model
// APIs reject them without tool-call context.
func conversationHistory(history []model.Message) []historyEntry {
	entries := make([]historyEntry, 0, len(history))
	for _, m := range history {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		entries = append(entries, historyEntry{Role: string(m.Role), Content: m.Content})
	}
	return entries
}

func (g *HTTPGateway) postJSON(ctx context.Context, url string, payload interface{}, timeout time.Duration) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	resp, err := g.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s: HTTP %d", url, resp.StatusCode)
	}
	// The cancel func is tied to the response body lifetime.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

// Classify implements Gateway.
func (g *HTTPGateway) Classify(ctx context.Context, query string, history []model.Message) (Classification, error) {
	start := time.Now()
	ctx, span := tracing.StartToolSpan(ctx, "classify")
	defer span.End()

	resp, err := g.postJSON(ctx, g.cfg.ModelURL+"/classify", map[string]interface{}{
		"query":   query,
		"history": conversationHistory(history),
	}, g.cfg.Timeouts.Classify)
	if err != nil {
		metrics.RecordToolCall("classify", "error", time.Since(start).Seconds())
		return Classification{}, &ToolError{Tool: "classify", Err: err}
	}
	defer resp.Body.Close()

	var c Classification
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		metrics.RecordToolCall("classify", "error", time.Since(start).Seconds())
		return Classification{}, &ToolError{Tool: "classify", Err: fmt.Errorf("decode response: %w", err)}
	}
	if c.Label != LabelNeedsSearch && c.Label != LabelDirectAnswer {
		metrics.RecordToolCall("classify", "error", time.Since(start).Seconds())
		return Classification{}, &ToolError{Tool: "classify", Err: fmt.Errorf("unknown classification %q", c.Label)}
	}
	metrics.RecordToolCall("classify", "ok", time.Since(start).Seconds())
	return c, nil
}

// Plan implements Gateway. The sidecar returns one query per line; the
// gateway trims and caps them.
func (g *HTTPGateway) Plan(ctx context.Context, query string, history []model.Message, feedback string) ([]string, error) {
	start := time.Now()
	ctx, span := tracing.StartToolSpan(ctx, "plan")
	defer span.End()

	resp, err := g.postJSON(ctx, g.cfg.ModelURL+"/plan", map[string]interface{}{
		"query":    query,
		"history":  conversationHistory(history),
		"feedback": feedback,
	}, g.cfg.Timeouts.Plan)
	if err != nil {
		metrics.RecordToolCall("plan", "error", time.Since(start).Seconds())
		return nil, &ToolError{Tool: "plan", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordToolCall("plan", "error", time.Since(start).Seconds())
		return nil, &ToolError{Tool: "plan", Err: err}
	}
	queries := ParsePlanLines(string(raw))
	if len(queries) == 0 {
		metrics.RecordToolCall("plan", "error", time.Since(start).Seconds())
		return nil, &ToolError{Tool: "plan", Err: ErrEmptyPlan}
	}
	metrics.RecordToolCall("plan", "ok", time.Since(start).Seconds())
	return queries, nil
}

// Search implements Gateway. The provider may answer with structured JSON
// or with Title:/URL:/Content: text blocks; both decode to the same shape.
func (g *HTTPGateway) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	start := time.Now()
	ctx, span := tracing.StartToolSpan(ctx, "search")
	defer span.End()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &ToolError{Tool: "search", Err: err}
		}
	}

	body, _ := json.Marshal(map[string]interface{}{
		"query":       query,
		"max_results": g.cfg.MaxResults,
	})
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeouts.Search)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.cfg.SearchURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, &ToolError{Tool: "search", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.SearchAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.SearchAPIKey)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		metrics.RecordToolCall("search", "error", time.Since(start).Seconds())
		return nil, &ToolError{Tool: "search", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordToolCall("search", "error", time.Since(start).Seconds())
		return nil, &ToolError{Tool: "search", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordToolCall("search", "error", time.Since(start).Seconds())
		return nil, &ToolError{Tool: "search", Err: err}
	}

	var structured struct {
		Results []model.SearchResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && len(structured.Results) > 0 {
		for i := range structured.Results {
			structured.Results[i].Query = query
		}
		metrics.RecordToolCall("search", "ok", time.Since(start).Seconds())
		return structured.Results, nil
	}

	results := ParseResultBlocks(string(raw), query)
	metrics.RecordToolCall("search", "ok", time.Since(start).Seconds())
	return results, nil
}

// Summarize implements Gateway. The sidecar streams plain text; each read
// chunk is forwarded through onDelta.
func (g *HTTPGateway) Summarize(ctx context.Context, query string, results []model.SearchResult, onDelta func(string)) (string, error) {
	start := time.Now()
	ctx, span := tracing.StartToolSpan(ctx, "summarize")
	defer span.End()

	resp, err := g.postJSON(ctx, g.cfg.ModelURL+"/summarize", map[string]interface{}{
		"query":   query,
		"results": results,
	}, g.cfg.Timeouts.Summarize)
	if err != nil {
		metrics.RecordToolCall("summarize", "error", time.Since(start).Seconds())
		return "", &ToolError{Tool: "summarize", Err: err}
	}
	defer resp.Body.Close()

	text, err := drainStream(resp.Body, onDelta)
	if err != nil {
		metrics.RecordToolCall("summarize", "error", time.Since(start).Seconds())
		return "", &ToolError{Tool: "summarize", Err: err}
	}
	metrics.RecordToolCall("summarize", "ok", time.Since(start).Seconds())
	return text, nil
}

// DirectAnswer implements Gateway.
func (g *HTTPGateway) DirectAnswer(ctx context.Context, query string, history []model.Message, onDelta func(string)) (string, error) {
	start := time.Now()
	ctx, span := tracing.StartToolSpan(ctx, "direct_answer")
	defer span.End()

	resp, err := g.postJSON(ctx, g.cfg.ModelURL+"/answer", map[string]interface{}{
		"query":   query,
		"history": conversationHistory(history),
	}, g.cfg.Timeouts.Summarize)
	if err != nil {
		metrics.RecordToolCall("direct_answer", "error", time.Since(start).Seconds())
		return "", &ToolError{Tool: "direct_answer", Err: err}
	}
	defer resp.Body.Close()

	text, err := drainStream(resp.Body, onDelta)
	if err != nil {
		metrics.RecordToolCall("direct_answer", "error", time.Since(start).Seconds())
		return "", &ToolError{Tool: "direct_answer", Err: err}
	}
	metrics.RecordToolCall("direct_answer", "ok", time.Since(start).Seconds())
	return text, nil
}

// drainStream reads chunked text to completion, forwarding each chunk.
func drainStream(r io.Reader, onDelta func(string)) (string, error) {
	var total bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			total.WriteString(chunk)
			if onDelta != nil {
				onDelta(chunk)
			}
		}
		if err == io.EOF {
			return total.String(), nil
		}
		if err != nil {
			return "", err
		}
	}
}
