package exechttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcron/internal/core/ports"
)

func TestClient_Execute(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotAuth = req.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(executeResponse{
			RunID:   "ext-42",
			Summary: "short",
			Text:    "the full response",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	res, err := c.Execute(context.Background(), ports.ExecutionRequest{
		Prompt:    "do the thing",
		SessionID: "sess-1",
		AgentID:   "agent-1",
		RunID:     "run-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/execute", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "do the thing", gotBody.Prompt)
	assert.Equal(t, "run-1", gotBody.RunID)

	assert.Equal(t, "ext-42", res.ExternalRunID)
	assert.Equal(t, "short", res.Summary)
	assert.Equal(t, "the full response", res.FullText)
}

func TestClient_SummaryFallsBackToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(executeResponse{Text: "only text"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	res, err := c.Execute(context.Background(), ports.ExecutionRequest{Prompt: "p", RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "only text", res.Summary)
	assert.Equal(t, "only text", res.FullText)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Execute(context.Background(), ports.ExecutionRequest{Prompt: "p", RunID: "run-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "agent unavailable")
}

func TestClient_HonorsContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, ports.ExecutionRequest{Prompt: "p", RunID: "run-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
