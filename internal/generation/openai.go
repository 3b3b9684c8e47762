package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
)

// DefaultMaxTokens caps prompt length before truncation, in tokens.
const DefaultMaxTokens = 16000

// OpenAI generates answers through the chat completions API.
type OpenAI struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAI creates a chat-based generator. Requires OPENAI_API_KEY in the
// environment; an empty model falls back to GPT-4o.
func NewOpenAI(model string, logger *slog.Logger) (*OpenAI, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	chatModel := openai.ChatModelGPT4o
	if model != "" {
		chatModel = openai.ChatModel(model)
	}
	return &OpenAI{
		client:    openai.NewClient(),
		model:     chatModel,
		maxTokens: DefaultMaxTokens,
		logger:    logger,
	}, nil
}

// Generate runs one chat completion over the prompt.
func (g *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(g.truncate(prompt)),
		},
		Model: g.model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// truncate bounds the prompt using a rough 4 characters per token estimate.
// The cut lands on a character boundary so multibyte prompts stay valid UTF-8.
func (g *OpenAI) truncate(prompt string) string {
	maxChars := g.maxTokens * 4
	runes := []rune(prompt)
	if len(runes) <= maxChars {
		return prompt
	}
	g.logger.Warn("truncating prompt", "from", len(runes), "to", maxChars)
	return string(runes[:maxChars])
}
