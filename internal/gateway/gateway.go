package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"econoclass/internal/logging"
)

var (
	// ErrTransient marks provider failures worth retrying: network
	// errors, 429s, 5xx, malformed transport payloads.
	ErrTransient = errors.New("transient provider error")

	// ErrInvalidResponse marks completions that parsed but failed
	// pairing or schema validation. Also retryable.
	ErrInvalidResponse = errors.New("invalid response")
)

// Item is one classification subject inside a batch request. Payload is
// the projection of the indicator the stage wants the model to see; the
// gateway injects indicator_id itself.
type Item struct {
	ID      string
	Payload map[string]interface{}
}

// BatchRequest is a single stage-level call covering one batch.
type BatchRequest struct {
	Stage        string
	SystemPrompt string
	Items        []Item
	Schema       *ResponseSchema
}

// ItemError records an item that exhausted its retry budget.
type ItemError struct {
	ID      string
	Err     error
	Retries int
}

// BatchResult pairs validated response elements to item IDs. Failed
// holds the items that could not be recovered; a batch can partially
// succeed.
type BatchResult struct {
	Results map[string]map[string]interface{}
	Failed  []ItemError
}

// Gateway submits batches to a provider and enforces the retry
// discipline: one whole-batch retry, then per-item singleton recovery
// with exponential backoff. It also accumulates token accounting across
// the run.
type Gateway struct {
	client     LLMClient
	maxRetries int
	retryDelay time.Duration

	apiCalls  atomic.Int64
	tokensIn  atomic.Int64
	tokensOut atomic.Int64
}

// New builds a gateway around a provider client. maxRetries is the
// per-singleton budget; retryDelay seeds the doubling backoff.
func New(client LLMClient, maxRetries int, retryDelay time.Duration) *Gateway {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Gateway{client: client, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Client exposes the underlying provider client.
func (g *Gateway) Client() LLMClient { return g.client }

// RunBatch executes one batch call with recovery. The whole batch is
// submitted once and, if the response is unusable, once more. If the
// second attempt also fails, each item is retried alone so one bad
// element cannot sink its batchmates.
func (g *Gateway) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Items) == 0 {
		return &BatchResult{Results: map[string]map[string]interface{}{}}, nil
	}

	timer := logging.StartTimer(logging.CategoryBatch, fmt.Sprintf("%s batch n=%d", req.Stage, len(req.Items)))
	defer timer.Stop()

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := g.call(ctx, req, req.Items)
		if err == nil {
			return &BatchResult{Results: results}, nil
		}
		lastErr = err
		logging.Batch("Stage %s batch attempt %d/2 failed (n=%d): %v", req.Stage, attempt, len(req.Items), err)
	}

	logging.Batch("Stage %s falling back to singleton retries for %d items (batch error: %v)",
		req.Stage, len(req.Items), lastErr)

	out := &BatchResult{Results: make(map[string]map[string]interface{}, len(req.Items))}
	for _, item := range req.Items {
		result, retries, err := g.retrySingle(ctx, req, item)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out.Failed = append(out.Failed, ItemError{ID: item.ID, Err: err, Retries: retries})
			continue
		}
		out.Results[item.ID] = result
	}
	return out, nil
}

// retrySingle gives one item its own retry budget with doubling backoff.
func (g *Gateway) retrySingle(ctx context.Context, req BatchRequest, item Item) (map[string]interface{}, int, error) {
	delay := g.retryDelay
	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		results, err := g.call(ctx, req, []Item{item})
		if err == nil {
			return results[item.ID], attempt - 1, nil
		}
		lastErr = err
		logging.Batch("Stage %s item %s attempt %d/%d failed: %v",
			req.Stage, item.ID, attempt, g.maxRetries, err)
	}
	return nil, g.maxRetries, fmt.Errorf("retries exhausted: %w", lastErr)
}

// call submits one request covering the given items, then parses,
// pairs, and validates the response.
func (g *Gateway) call(ctx context.Context, req BatchRequest, items []Item) (map[string]map[string]interface{}, error) {
	user, ids, err := buildUserPrompt(items)
	if err != nil {
		return nil, err
	}

	g.apiCalls.Add(1)
	raw, usage, err := g.client.CompleteWithSystem(ctx, req.SystemPrompt, user)
	g.tokensIn.Add(int64(usage.TokensIn))
	g.tokensOut.Add(int64(usage.TokensOut))
	if err != nil {
		return nil, err
	}

	results, err := ParseBatch(raw, ids)
	if err != nil {
		return nil, err
	}

	if req.Schema != nil {
		for id, el := range results {
			if err := req.Schema.Validate(el); err != nil {
				return nil, fmt.Errorf("%w: item %s: %v", ErrInvalidResponse, id, err)
			}
		}
	}
	return results, nil
}

// buildUserPrompt serializes the items into the fenced array every
// stage prompt uses. indicator_id is injected here so pairing never
// depends on the stage's projection.
func buildUserPrompt(items []Item) (string, []string, error) {
	ids := make([]string, 0, len(items))
	payload := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return "", nil, fmt.Errorf("item with empty id")
		}
		el := make(map[string]interface{}, len(item.Payload)+1)
		for k, v := range item.Payload {
			el[k] = v
		}
		el["indicator_id"] = item.ID
		ids = append(ids, item.ID)
		payload = append(payload, el)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal items: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Classify the following %d items.\n\n", len(items))
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```\n\n")
	b.WriteString("Respond with a JSON array containing exactly one element per item, ")
	b.WriteString("each carrying the same \"indicator_id\" it was given. ")
	b.WriteString("Return only JSON, no prose.")
	return b.String(), ids, nil
}

// Telemetry is the cumulative provider accounting for this gateway.
type Telemetry struct {
	APICalls  int64
	TokensIn  int64
	TokensOut int64
}

// Snapshot reads the current counters.
func (g *Gateway) Snapshot() Telemetry {
	return Telemetry{
		APICalls:  g.apiCalls.Load(),
		TokensIn:  g.tokensIn.Load(),
		TokensOut: g.tokensOut.Load(),
	}
}

// CostEstimate prices the cumulative usage against the static table.
func (g *Gateway) CostEstimate() float64 {
	t := g.Snapshot()
	return EstimateCost(g.client.Model(), t.TokensIn, t.TokensOut)
}
