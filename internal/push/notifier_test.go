package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mdliss/messageai/internal/config"
)

func testNotifier(t *testing.T, handler http.HandlerFunc) *Notifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewNotifier(config.PushConfig{
		Endpoint: srv.URL,
		Timeout:  config.Duration{Duration: 5 * time.Second},
	}, nil)
}

func TestNotifyReportsPerTokenOutcome(t *testing.T) {
	var got Notification
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(Result{
			Succeeded: 1,
			Failed:    1,
			Failures:  []TokenError{{Token: "t2", Error: "unregistered"}},
		})
	})

	res, err := n.Notify(context.Background(), Notification{
		Tokens: []string{"t1", "t2"},
		Title:  "New message",
		Body:   "hello",
		Data:   map[string]string{"conversation_id": "c1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded != 1 || res.Failed != 1 || len(res.Failures) != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(got.Tokens) != 2 || got.Data["conversation_id"] != "c1" {
		t.Errorf("request = %+v", got)
	}
}

func TestNotifyAsyncDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(Result{Succeeded: 1})
	})

	start := time.Now()
	n.NotifyAsync(context.Background(), Notification{Tokens: []string{"t1"}})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("NotifyAsync blocked for %v", elapsed)
	}
	close(release)
}

func TestNotifyWithoutEndpoint(t *testing.T) {
	n := NewNotifier(config.PushConfig{}, nil)
	if _, err := n.Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("expected error with no endpoint configured")
	}
}
