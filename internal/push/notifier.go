package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mdliss/messageai/internal/config"
	"go.uber.org/zap"
)

// Notification is one dispatch request fanned out to a set of device
// tokens.
type Notification struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Result is the dispatch service's per-token outcome report.
type Result struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []TokenError  `json:"failures,omitempty"`
}

// TokenError details one token that could not be delivered to.
type TokenError struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// Notifier posts notifications to the dispatch service.
type Notifier struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewNotifier creates a notifier for the configured endpoint.
func NewNotifier(cfg config.PushConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.Timeout.Duration},
		logger:   logger,
	}
}

// Notify dispatches synchronously and returns the per-token outcome.
func (n *Notifier) Notify(ctx context.Context, note Notification) (*Result, error) {
	if n.endpoint == "" {
		return nil, fmt.Errorf("push endpoint not configured")
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatch notification: status %d", resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode dispatch response: %w", err)
	}
	return &out, nil
}

// NotifyAsync dispatches in the background. Delivery of the underlying
// message never waits on the notification outcome; failures are only
// logged.
func (n *Notifier) NotifyAsync(ctx context.Context, note Notification) {
	go func() {
		res, err := n.Notify(ctx, note)
		if err != nil {
			n.logger.Warn("push dispatch failed", zap.Error(err), zap.Int("tokens", len(note.Tokens)))
			return
		}
		if res.Failed > 0 {
			n.logger.Warn("push partially delivered",
				zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
			for _, f := range res.Failures {
				n.logger.Debug("push token failed", zap.String("token", f.Token), zap.String("error", f.Error))
			}
			return
		}
		n.logger.Debug("push delivered", zap.Int("tokens", res.Succeeded))
	}()
}
