package api

import (
	"context"
	"fmt"
	"slices"

	"github.com/mdliss/messageai/internal/ai"
	"github.com/mdliss/messageai/internal/store"
)

// Assistant is the inference surface the API needs.
type Assistant interface {
	Summarize(ctx context.Context, msgs []store.Message) (string, error)
	ActionItems(ctx context.Context, msgs []store.Message) ([]string, error)
	AnalyzeSentiment(ctx context.Context, msgs []store.Message) (*ai.Sentiment, error)
	Transcribe(ctx context.Context, audioURL string) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// AssistService exposes AI augmentation over locally stored conversations.
// All conversation-level operations read the recent message window from the
// local store, so they work on whatever has synced, online or not; only the
// inference call itself needs the network.
type AssistService struct {
	db        *store.DB
	assistant Assistant
	window    int
}

// NewAssistService creates the service. window bounds how many recent
// messages feed each conversation-level operation.
func NewAssistService(db *store.DB, assistant Assistant, window int) *AssistService {
	if window <= 0 {
		window = 100
	}
	return &AssistService{db: db, assistant: assistant, window: window}
}

// SummarizeConversation returns a short summary of recent activity.
func (s *AssistService) SummarizeConversation(ctx context.Context, conversationID string) (string, error) {
	msgs, err := s.recentWindow(conversationID)
	if err != nil {
		return "", err
	}
	return s.assistant.Summarize(ctx, msgs)
}

// ConversationActionItems extracts follow-ups from recent activity.
func (s *AssistService) ConversationActionItems(ctx context.Context, conversationID string) ([]string, error) {
	msgs, err := s.recentWindow(conversationID)
	if err != nil {
		return nil, err
	}
	return s.assistant.ActionItems(ctx, msgs)
}

// ConversationSentiment scores recent activity.
func (s *AssistService) ConversationSentiment(ctx context.Context, conversationID string) (*ai.Sentiment, error) {
	msgs, err := s.recentWindow(conversationID)
	if err != nil {
		return nil, err
	}
	return s.assistant.AnalyzeSentiment(ctx, msgs)
}

// TranscribeVoice converts one voice message's audio into text.
func (s *AssistService) TranscribeVoice(ctx context.Context, localID string) (string, error) {
	m, err := s.db.GetMessage(localID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("message %s not found", localID)
	}
	if m.Type != store.TypeVoice || m.MediaURL == "" {
		return "", fmt.Errorf("message %s is not a voice message", localID)
	}
	return s.assistant.Transcribe(ctx, m.MediaURL)
}

// SearchSimilar embeds the query and the recent window, then returns the k
// most similar messages by cosine similarity, best first.
func (s *AssistService) SearchSimilar(ctx context.Context, conversationID, query string, k int) ([]store.Message, error) {
	msgs, err := s.recentWindow(conversationID)
	if err != nil {
		return nil, err
	}
	queryVec, err := s.assistant.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var candidates []store.Message
	var vectors [][]float64
	for i := range msgs {
		if msgs[i].Body == "" {
			continue
		}
		vec, err := s.assistant.Embed(ctx, msgs[i].Body)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, msgs[i])
		vectors = append(vectors, vec)
	}

	matches := ai.TopK(queryVec, vectors, k)
	out := make([]store.Message, 0, len(matches))
	for _, match := range matches {
		out = append(out, candidates[match.Index])
	}
	return out, nil
}

// recentWindow returns the newest messages in chronological order.
func (s *AssistService) recentWindow(conversationID string) ([]store.Message, error) {
	msgs, err := s.db.ListMessages(conversationID, 0, s.window)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
