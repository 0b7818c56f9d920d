package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mdliss/messageai/internal/config"
	"github.com/mdliss/messageai/internal/store"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.AIConfig{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		WindowCap: 3,
		Timeout:   config.Duration{Duration: 5 * time.Second},
	}, nil)
}

func TestSummarizeSendsCappedWindow(t *testing.T) {
	var got struct {
		Messages []WindowMessage `json:"messages"`
	}
	var auth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/summarize" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(map[string]string{"summary": "a short recap"})
	})

	// Five messages against a window cap of three: only the newest three go.
	var msgs []store.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, store.Message{SenderName: "A", Body: "m", CreatedAt: int64(1000 + i)})
	}
	summary, err := c.Summarize(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "a short recap" {
		t.Errorf("summary = %q", summary)
	}
	if auth != "Bearer test-key" {
		t.Errorf("auth header = %q", auth)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("window size = %d, want 3", len(got.Messages))
	}
	if got.Messages[0].CreatedAt != 1002 {
		t.Errorf("window starts at %d, want the newest three", got.Messages[0].CreatedAt)
	}
}

func TestEmbedAndTranscribe(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/embed":
			json.NewEncoder(w).Encode(map[string]any{"vector": []float64{0.1, 0.2}})
		case "/v1/transcribe":
			json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
		default:
			http.NotFound(w, r)
		}
	})

	vec, err := c.Embed(context.Background(), "hello")
	if err != nil || len(vec) != 2 {
		t.Errorf("Embed() = %v, %v", vec, err)
	}
	text, err := c.Transcribe(context.Background(), "https://example.com/a.ogg")
	if err != nil || text != "hello world" {
		t.Errorf("Transcribe() = %q, %v", text, err)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})
	if _, err := c.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected error on 503")
	}
}
