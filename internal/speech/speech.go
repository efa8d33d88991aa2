package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"beepgenesis/internal/config"
)

const (
	defaultTTSModel = "gemini-2.5-flash-preview-tts"
	defaultSTTModel = "gemini-2.5-flash"
	defaultVoice    = "Kore"
)

// ErrNotConfigured is returned when no gemini provider is available; the
// voice feature degrades instead of crashing the service.
var ErrNotConfigured = errors.New("speech: gemini provider not configured")

// Service performs text-to-speech and transcription through the Gemini API.
type Service struct {
	client   *genai.Client
	ttsModel string
	sttModel string
}

// NewService builds the speech service from the gemini provider config.
// It returns ErrNotConfigured when no API key is present.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	provCfg, ok := cfg.Providers["gemini"]
	if !ok || provCfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &Service{
		client:   client,
		ttsModel: defaultTTSModel,
		sttModel: defaultSTTModel,
	}, nil
}

// Synthesize turns text into spoken audio and returns it as a WAV data URI.
// The model emits raw PCM; the WAV container is added here.
func (s *Service) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("text is required")
	}
	resp, err := s.client.Models.GenerateContent(ctx, s.ttsModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: defaultVoice},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("synthesize speech: %w", err)
	}
	pcm := extractInlineAudio(resp)
	if len(pcm) == 0 {
		return "", errors.New("speech model returned no audio")
	}
	return WAVDataURI(pcm, DefaultSampleRate, DefaultChannels, DefaultBitsPerSample), nil
}

// Transcribe converts a caller-supplied audio data URI into text.
func (s *Service) Transcribe(ctx context.Context, audioDataURI string) (string, error) {
	mimeType, data, err := ParseDataURI(audioDataURI)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mimeType, "audio/") {
		return "", fmt.Errorf("unsupported media type %s", mimeType)
	}
	parts := []*genai.Part{
		genai.NewPartFromText("Transcribe this audio verbatim. Output only the transcription."),
		genai.NewPartFromBytes(data, mimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := s.client.Models.GenerateContent(ctx, s.sttModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe speech: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("speech model returned no transcription")
	}
	return text, nil
}

func extractInlineAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data
			}
		}
	}
	return nil
}
