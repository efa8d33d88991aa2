package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"beepgenesis/internal/config"
	"beepgenesis/internal/models"
)

// chatTemperature is the fixed sampling temperature for conversation turns.
const chatTemperature float32 = 0.5

const defaultDigest = "The conversation has just begun; there is no prior context to recall."

// ChatService is the composition root of the chat flow: digest, system
// prompt, tool-augmented generation, streamed delivery.
type ChatService struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	provider  string
}

// NewChatService builds the provider-backed chat model and, when tools are
// supplied, wraps it in a react agent so the model can invoke them
// mid-generation.
func NewChatService(ctx context.Context, cfg *config.Config, provider string, tools []tool.BaseTool) (*ChatService, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	temp := chatTemperature
	var chatModel model.ToolCallingChatModel
	var err error
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     provCfg.BaseURL,
			Model:       provCfg.Model,
			APIKey:      provCfg.APIKey,
			Temperature: &temp,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       provCfg.Model,
			Temperature: &temp,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      provCfg.APIKey,
			Model:       provCfg.Model,
			BaseURL:     baseURLPtr,
			MaxTokens:   3000,
			Temperature: &temp,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	svc := &ChatService{chatModel: chatModel, provider: provider}
	if err := svc.initAgent(ctx, tools); err != nil {
		return nil, err
	}
	return svc, nil
}

// NewChatServiceWithModel wires an existing chat model, used by tests.
func NewChatServiceWithModel(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.BaseTool) (*ChatService, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	svc := &ChatService{chatModel: chatModel}
	if err := svc.initAgent(ctx, tools); err != nil {
		return nil, err
	}
	return svc, nil
}

// BindTools builds the tool-calling agent after construction. The tool chain
// needs the service as its summarizer, so tools are attached in a second step.
func (s *ChatService) BindTools(ctx context.Context, tools []tool.BaseTool) error {
	return s.initAgent(ctx, tools)
}

func (s *ChatService) initAgent(ctx context.Context, tools []tool.BaseTool) error {
	if len(tools) == 0 {
		return nil
	}
	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: s.chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: tools,
		},
	})
	if err != nil {
		return fmt.Errorf("init react agent: %w", err)
	}
	s.agent = agent
	return nil
}

// StreamChat runs one conversation turn: digest the prior history, build the
// system prompt for the persona, stream the model's reply through chunkFn,
// and return the finalized assistant message. The callback receives the
// accumulated text so far, not deltas. A failure anywhere is logged by the
// caller and must surface only a generic message to the end user.
func (s *ChatService) StreamChat(ctx context.Context, history []models.ChatMessage, persona models.Persona, chunkFn func(string) error) (*models.ChatMessage, error) {
	if len(history) == 0 {
		return nil, errors.New("history cannot be empty")
	}

	digest := models.MemoryDigest{Summary: defaultDigest}
	if len(history) > 1 {
		var err error
		digest, err = s.Summarize(ctx, history[:len(history)-1])
		if err != nil {
			return nil, fmt.Errorf("summarize history: %w", err)
		}
	}

	messages := convertMessages(history, buildSystemPrompt(persona, digest))

	var (
		streamReader *schema.StreamReader[*schema.Message]
		err          error
	)
	if s.agent != nil {
		streamReader, err = s.agent.Stream(ctx, messages)
	} else {
		streamReader, err = s.chatModel.Stream(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("generate stream: %w", err)
	}
	defer streamReader.Close()

	// The stream is finite and one-pass; once drained it cannot be replayed.
	var fullContent string
	for {
		chunk, recvErr := streamReader.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("receive stream chunk: %w", recvErr)
		}
		fullContent += chunk.Content
		if chunkFn != nil {
			if err := chunkFn(fullContent); err != nil {
				return nil, err
			}
		}
	}
	if fullContent == "" {
		log.Printf("chat stream for persona %s produced no content", persona)
	}
	return &models.ChatMessage{
		ID:      models.NewMessageID(),
		Role:    models.RoleAssistant,
		Content: fullContent,
	}, nil
}

// SummarizeText condenses fetched page content; used by the scrape tool at a
// low sampling temperature.
func (s *ChatService) SummarizeText(ctx context.Context, text string) (string, error) {
	messages := []*schema.Message{
		{
			Role: schema.System,
			Content: "You summarize web page content. Produce a concise summary of the " +
				"provided text, keeping concrete facts, names and figures. Limit the summary to 5 sentences.",
		},
		{
			Role:    schema.User,
			Content: "Page content:\n" + text,
		},
	}
	resp, err := s.chatModel.Generate(ctx, messages, model.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("summarize page: %w", err)
	}
	return resp.Content, nil
}

func buildSystemPrompt(persona models.Persona, digest models.MemoryDigest) string {
	return persona.Description() + "\n\n" +
		"You operate in two behavioral modes. When the operator asks a question, " +
		"synthesize information clearly and cite what your tools found. When the operator " +
		"issues a command, confirm what you are about to do in one short sentence before elaborating.\n" +
		"When the operator says \"Begin the daily briefing\", fetch today's calendar events " +
		"and the latest news, then deliver both as a single structured briefing.\n\n" +
		"Memory of prior conversation: " + digest.Summary
}

func convertMessages(history []models.ChatMessage, systemPrompt string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, &schema.Message{
		Role:    schema.System,
		Content: systemPrompt,
	})
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
