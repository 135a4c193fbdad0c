package category

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"pantry/internal/logger"
)

// chatCompleter is the part of *openai.Client the classifier uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMGuesser asks a chat model for the category and falls back to another
// guesser whenever the call fails or the answer is not a known category.
type LLMGuesser struct {
	client   chatCompleter
	model    string
	fallback Guesser
	log      zerolog.Logger
}

// NewLLMGuesser creates a chat-completion based guesser. A nil fallback uses KeywordGuesser.
func NewLLMGuesser(client chatCompleter, model string, fallback Guesser) *LLMGuesser {
	if fallback == nil {
		fallback = KeywordGuesser{}
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMGuesser{
		client:   client,
		model:    model,
		fallback: fallback,
		log:      logger.WithComponent("category"),
	}
}

func (g *LLMGuesser) Guess(ctx context.Context, name string) Category {
	got, err := g.classify(ctx, name)
	if err != nil {
		g.log.Debug().Err(err).Str("product", name).Msg("Falling back to keyword category")
		return g.fallback.Guess(ctx, name)
	}
	return got
}

func (g *LLMGuesser) classify(ctx context.Context, name string) (Category, error) {
	const op = "classify"

	names := make([]string, len(All))
	for i, c := range All {
		names[i] = string(c)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You sort grocery receipt lines into pantry categories. Answer with exactly one of: " +
					strings.Join(names, ", ") + ".",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: name,
			},
		},
		Temperature: 0,
		MaxTokens:   5,
	})
	if err != nil {
		return "", fmt.Errorf("%s: chat completion failed: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no response choices", op)
	}

	answer := resp.Choices[0].Message.Content
	got := Parse(answer)
	if got == Other && !strings.EqualFold(strings.TrimSpace(answer), string(Other)) {
		return "", fmt.Errorf("%s: unexpected answer %q", op, answer)
	}
	return got, nil
}
