package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-terminal/internal/safety"
)

// ExecutionRequest is sent to the trade-execution endpoint
type ExecutionRequest struct {
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Type       OrderType       `json:"type"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// ExecutionResponse is the endpoint's verdict
type ExecutionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Executor forwards accepted orders to an external execution service
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error)
}

// HTTPExecutor posts orders as JSON to a fixed endpoint
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExecutor creates an executor with a bounded request timeout
func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Execute posts req. A 4xx answer with an error body is returned as a
// rejection rather than a transport error.
func (e *HTTPExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execution request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read execution response: %w", err)
	}

	var out ExecutionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode execution response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		out.Success = false
		if out.Error == "" {
			out.Error = fmt.Sprintf("execution endpoint returned status %d", resp.StatusCode)
		}
	}
	return &out, nil
}

// GuardedExecutor stops forwarding to an executor that keeps failing.
// Transport failures trip the breaker, rejections do not.
type GuardedExecutor struct {
	next    Executor
	breaker *safety.CircuitBreaker
}

// NewGuardedExecutor wraps next with breaker
func NewGuardedExecutor(next Executor, breaker *safety.CircuitBreaker) *GuardedExecutor {
	return &GuardedExecutor{next: next, breaker: breaker}
}

// Execute forwards req unless the breaker is open
func (g *GuardedExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	var resp *ExecutionResponse
	err := g.breaker.Call(func() error {
		var err error
		resp, err = g.next.Execute(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
