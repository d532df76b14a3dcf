package exechttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"agentcron/internal/core/ports"
)

// Client is a thin HTTP adapter for the external chat/execution service.
// The service produces the agent response for a resolved prompt; this client
// only carries the request/response contract and passes the caller's context
// through so deadline and cancellation reach the wire.
var _ ports.ExecutionService = (*Client)(nil)

type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		// no client-level timeout: the per-run deadline comes in on ctx
		client:  &http.Client{},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type executeRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	RunID     string `json:"run_id"`
}

type executeResponse struct {
	RunID   string `json:"run_id,omitempty"`
	Summary string `json:"summary,omitempty"`
	Text    string `json:"text"`
}

func (c *Client) Execute(ctx context.Context, req ports.ExecutionRequest) (*ports.ExecutionResult, error) {
	payload, err := json.Marshal(executeRequest{
		Prompt:    req.Prompt,
		SessionID: string(req.SessionID),
		AgentID:   string(req.AgentID),
		RunID:     string(req.RunID),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call execution service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("execution service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode execution response: %w", err)
	}
	summary := out.Summary
	if summary == "" {
		summary = out.Text
	}
	return &ports.ExecutionResult{
		ExternalRunID: out.RunID,
		Summary:       summary,
		FullText:      out.Text,
	}, nil
}
