package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"beepgenesis/internal/models"
)

// summaryInputMaxBytes caps the JSON fed to the digest call. Histories over
// the cap drop their oldest messages first; the newest context survives.
const summaryInputMaxBytes = 16 << 10

// Summarize condenses prior conversation turns into a one-sentence memory
// digest. Input is the history minus the newest, still-unanswered user
// message; the caller decides whether to invoke this at all.
func (s *ChatService) Summarize(ctx context.Context, history []models.ChatMessage) (models.MemoryDigest, error) {
	serialized, err := serializeForDigest(history)
	if err != nil {
		return models.MemoryDigest{}, err
	}

	messages := []*schema.Message{
		{
			Role: schema.System,
			Content: "You condense chat transcripts into memory. Summarize the key facts and intents " +
				"of the conversation in exactly one sentence. " +
				"Example: \"The operator introduced themselves as Bob and asked about tomorrow's weather in Austin.\" " +
				"Output only the sentence.",
		},
		{
			Role:    schema.User,
			Content: "Conversation so far:\n" + serialized,
		},
	}
	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return models.MemoryDigest{}, fmt.Errorf("generate digest: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		summary = defaultDigest
	}
	return models.MemoryDigest{Summary: summary}, nil
}

// serializeForDigest JSON-encodes role/content pairs, truncating oldest-first
// to summaryInputMaxBytes so the digest prompt cannot grow without bound.
func serializeForDigest(history []models.ChatMessage) (string, error) {
	type turn struct {
		Role    models.Role `json:"role"`
		Content string      `json:"content"`
	}
	for start := 0; start <= len(history); start++ {
		turns := make([]turn, 0, len(history)-start)
		for _, msg := range history[start:] {
			turns = append(turns, turn{Role: msg.Role, Content: msg.Content})
		}
		encoded, err := json.Marshal(turns)
		if err != nil {
			return "", fmt.Errorf("encode digest input: %w", err)
		}
		if len(encoded) <= summaryInputMaxBytes || start == len(history) {
			return string(encoded), nil
		}
	}
	return "[]", nil
}
