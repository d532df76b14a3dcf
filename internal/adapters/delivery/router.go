package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"agentcron/internal/core/domain"
	"agentcron/internal/core/ports"
)

// HandlerFunc ships a payload to one delivery channel (email, slack, channel).
type HandlerFunc func(ctx context.Context, config map[string]string, payload ports.DeliveryPayload) error

// Router ships run results to their configured destination. Webhook delivery
// is built in and rate-limited; the remaining methods dispatch to handlers
// registered at construction. Session delivery is a no-op because the result
// already lives in the session.
var _ ports.DeliveryRouter = (*Router)(nil)

type Router struct {
	logger   *slog.Logger
	client   *http.Client
	limiter  *rate.Limiter
	handlers map[domain.DeliveryMethod]HandlerFunc
}

// NewRouter builds a router. webhookPerMinute bounds outgoing webhook posts
// (<=0 means 30/min).
func NewRouter(logger *slog.Logger, webhookPerMinute int, handlers map[domain.DeliveryMethod]HandlerFunc) *Router {
	if webhookPerMinute <= 0 {
		webhookPerMinute = 30
	}
	if handlers == nil {
		handlers = map[domain.DeliveryMethod]HandlerFunc{}
	}
	return &Router{
		logger:   logger,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(float64(webhookPerMinute)/60.0), webhookPerMinute),
		handlers: handlers,
	}
}

func (r *Router) Deliver(ctx context.Context, method domain.DeliveryMethod, config map[string]string, payload ports.DeliveryPayload) error {
	switch method {
	case domain.DeliverySession:
		return nil
	case domain.DeliveryWebhook:
		return r.postWebhook(ctx, config, payload)
	default:
		handler, ok := r.handlers[method]
		if !ok {
			return fmt.Errorf("no delivery handler registered for method %q", method)
		}
		return handler(ctx, config, payload)
	}
}

func (r *Router) postWebhook(ctx context.Context, config map[string]string, payload ports.DeliveryPayload) error {
	url := config["url"]
	if url == "" {
		return fmt.Errorf("webhook delivery requires a url in delivery config")
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := config["secret"]; secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(msg))
	}
	r.logger.Debug("webhook delivered", "run_id", payload.RunID, "status", payload.Status)
	return nil
}
