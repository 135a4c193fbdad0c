package category

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordGuesser(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"Vollmilch 3,5%", Dairy},
		{"Bananen", Produce},
		{"Reis 1kg", Pantry},
		{"Apfelsaft naturtrüb", Beverages},
		{"TK Pizza Margherita", Frozen},
		{"Roggenbrot", Bakery},
		{"Hähnchenbrust", Meat},
		{"Spülmittel Classic", Household},
		{"Geschenkkarte", Other},
	}

	g := KeywordGuesser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Guess(context.Background(), tt.name))
		})
	}
}

func TestParse(t *testing.T) {
	assert.Equal(t, Dairy, Parse(" Dairy."))
	assert.Equal(t, Beverages, Parse("\"beverages\""))
	assert.Equal(t, Other, Parse("snacks"))
}

type fakeChat struct {
	answer string
	err    error
	req    openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.answer}},
		},
	}, nil
}

func TestLLMGuesser(t *testing.T) {
	t.Run("uses model answer", func(t *testing.T) {
		chat := &fakeChat{answer: "frozen"}
		g := NewLLMGuesser(chat, "gpt-4o-mini", nil)

		assert.Equal(t, Frozen, g.Guess(context.Background(), "Gemüsepfanne"))
		require.Len(t, chat.req.Messages, 2)
		assert.Equal(t, "Gemüsepfanne", chat.req.Messages[1].Content)
		assert.Equal(t, openai.ChatMessageRoleUser, chat.req.Messages[1].Role)
	})

	t.Run("explicit other is accepted", func(t *testing.T) {
		g := NewLLMGuesser(&fakeChat{answer: "Other"}, "", nil)
		assert.Equal(t, Other, g.Guess(context.Background(), "Vollmilch"))
	})

	t.Run("falls back on error", func(t *testing.T) {
		g := NewLLMGuesser(&fakeChat{err: errors.New("status 500")}, "", nil)
		assert.Equal(t, Dairy, g.Guess(context.Background(), "Vollmilch"))
	})

	t.Run("falls back on unknown answer", func(t *testing.T) {
		g := NewLLMGuesser(&fakeChat{answer: "I think this is milk"}, "", nil)
		assert.Equal(t, Dairy, g.Guess(context.Background(), "Vollmilch"))
	})
}
