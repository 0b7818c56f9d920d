package api

import (
	"context"
	"testing"

	"github.com/mdliss/messageai/internal/ai"
	"github.com/mdliss/messageai/internal/store"
)

// fakeAssistant returns canned results and records what it saw.
type fakeAssistant struct {
	gotWindow []store.Message
	embeds    map[string][]float64
}

func (f *fakeAssistant) Summarize(_ context.Context, msgs []store.Message) (string, error) {
	f.gotWindow = msgs
	return "summary", nil
}

func (f *fakeAssistant) ActionItems(_ context.Context, msgs []store.Message) ([]string, error) {
	f.gotWindow = msgs
	return []string{"follow up"}, nil
}

func (f *fakeAssistant) AnalyzeSentiment(_ context.Context, msgs []store.Message) (*ai.Sentiment, error) {
	f.gotWindow = msgs
	return &ai.Sentiment{Label: "positive", Score: 0.9}, nil
}

func (f *fakeAssistant) Transcribe(_ context.Context, audioURL string) (string, error) {
	return "transcript of " + audioURL, nil
}

func (f *fakeAssistant) Embed(_ context.Context, text string) ([]float64, error) {
	if v, ok := f.embeds[text]; ok {
		return v, nil
	}
	return []float64{0, 0}, nil
}

func seedMessages(t *testing.T, db *store.DB, convID string, bodies ...string) {
	t.Helper()
	for i, body := range bodies {
		m := &store.Message{
			LocalID: convID + "-" + body, ConversationID: convID, SenderID: "u1",
			Type: store.TypeText, Body: body, CreatedAt: int64(1000 + i),
			Status: store.StatusSent, IsSynced: true,
		}
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSummarizeUsesChronologicalWindow(t *testing.T) {
	db := testDB(t)
	fa := &fakeAssistant{}
	svc := NewAssistService(db, fa, 2)
	seedMessages(t, db, "c1", "first", "second", "third")

	got, err := svc.SummarizeConversation(context.Background(), "c1")
	if err != nil || got != "summary" {
		t.Fatalf("SummarizeConversation() = %q, %v", got, err)
	}
	// Window of 2 keeps the newest two, oldest first.
	if len(fa.gotWindow) != 2 {
		t.Fatalf("window size = %d, want 2", len(fa.gotWindow))
	}
	if fa.gotWindow[0].Body != "second" || fa.gotWindow[1].Body != "third" {
		t.Errorf("window = [%s, %s], want chronological [second, third]",
			fa.gotWindow[0].Body, fa.gotWindow[1].Body)
	}
}

func TestTranscribeVoiceRequiresVoiceMessage(t *testing.T) {
	db := testDB(t)
	svc := NewAssistService(db, &fakeAssistant{}, 100)

	text := &store.Message{LocalID: "l1", ConversationID: "c1", SenderID: "u1",
		Type: store.TypeText, Body: "hi", CreatedAt: 1000, Status: store.StatusSent}
	voice := &store.Message{LocalID: "l2", ConversationID: "c1", SenderID: "u1",
		Type: store.TypeVoice, MediaURL: "https://cdn/a.ogg", CreatedAt: 2000, Status: store.StatusSent}
	for _, m := range []*store.Message{text, voice} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := svc.TranscribeVoice(context.Background(), "l1"); err == nil {
		t.Error("transcribed a text message")
	}
	got, err := svc.TranscribeVoice(context.Background(), "l2")
	if err != nil || got != "transcript of https://cdn/a.ogg" {
		t.Errorf("TranscribeVoice() = %q, %v", got, err)
	}
}

func TestSearchSimilarRanksByCosine(t *testing.T) {
	db := testDB(t)
	fa := &fakeAssistant{embeds: map[string][]float64{
		"query": {1, 0},
		"near":  {1, 0.1},
		"far":   {0, 1},
		"mid":   {1, 1},
	}}
	svc := NewAssistService(db, fa, 100)
	seedMessages(t, db, "c1", "far", "mid", "near")

	got, err := svc.SearchSimilar(context.Background(), "c1", "query", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].Body != "near" || got[1].Body != "mid" {
		t.Errorf("ranking = [%s, %s], want [near, mid]", got[0].Body, got[1].Body)
	}
}
