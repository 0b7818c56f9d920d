package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mdliss/messageai/internal/config"
	"github.com/mdliss/messageai/internal/store"
	"go.uber.org/zap"
)

// WindowMessage is the trimmed message shape sent to the inference
// endpoints.
type WindowMessage struct {
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}

// Sentiment is a coarse per-conversation sentiment read.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Client calls the hosted inference endpoints. Conversation-level
// operations send a bounded window of recent messages; the window cap and
// request timeout come from config.
type Client struct {
	baseURL   string
	apiKey    string
	windowCap int
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a client for the configured endpoints.
func NewClient(cfg config.AIConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	windowCap := cfg.WindowCap
	if windowCap <= 0 {
		windowCap = 100
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		windowCap: windowCap,
		http:      &http.Client{Timeout: cfg.Timeout.Duration},
		logger:    logger,
	}
}

// Summarize returns a short summary of the most recent messages.
func (c *Client) Summarize(ctx context.Context, msgs []store.Message) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	err := c.post(ctx, "/v1/summarize", map[string]any{"messages": c.window(msgs)}, &out)
	return out.Summary, err
}

// ActionItems extracts actionable follow-ups from the recent window.
func (c *Client) ActionItems(ctx context.Context, msgs []store.Message) ([]string, error) {
	var out struct {
		Items []string `json:"items"`
	}
	err := c.post(ctx, "/v1/action_items", map[string]any{"messages": c.window(msgs)}, &out)
	return out.Items, err
}

// AnalyzeSentiment scores the recent window.
func (c *Client) AnalyzeSentiment(ctx context.Context, msgs []store.Message) (*Sentiment, error) {
	var out Sentiment
	if err := c.post(ctx, "/v1/sentiment", map[string]any{"messages": c.window(msgs)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Embed returns a fixed-length vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Vector []float64 `json:"vector"`
	}
	err := c.post(ctx, "/v1/embed", map[string]any{"text": text}, &out)
	return out.Vector, err
}

// Transcribe converts a voice message's audio into text.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.post(ctx, "/v1/transcribe", map[string]any{"audio_url": audioURL}, &out)
	return out.Text, err
}

// window trims to the most recent windowCap messages and drops everything
// but the fields the endpoints consume.
func (c *Client) window(msgs []store.Message) []WindowMessage {
	if len(msgs) > c.windowCap {
		msgs = msgs[len(msgs)-c.windowCap:]
	}
	out := make([]WindowMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, WindowMessage{
			Sender:    msgs[i].SenderName,
			Body:      msgs[i].Body,
			CreatedAt: msgs[i].CreatedAt,
		})
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("inference call failed",
			zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("call %s: status %d: %s", path, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
