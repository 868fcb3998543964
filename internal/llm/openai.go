package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client against the OpenAI chat completions API.
// It serves as the fallback provider behind Gemini.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-backed client.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}, nil
}

// Complete sends a chat completion request and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+len(req.System))
	for _, sys := range req.System {
		if strings.TrimSpace(sys) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	if len(messages) == 0 {
		return Response{}, errors.New("llm: openai requires at least one message")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   int(req.MaxTokens),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("llm: openai returned no choices")
	}

	choice := resp.Choices[0]
	return Response{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}
