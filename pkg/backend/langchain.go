package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/finchley/parley/pkg/chat"
)

// LangChainGenerator streams completions from an Ollama server through
// LangChain Go.
type LangChainGenerator struct {
	llm   llms.Model
	model string
}

// NewLangChainGenerator creates a generator against the given Ollama
// server and model.
func NewLangChainGenerator(baseURL, model string) (*LangChainGenerator, error) {
	var opts []ollama.Option
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	if model != "" {
		opts = append(opts, ollama.WithModel(model))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &LangChainGenerator{llm: llm, model: model}, nil
}

// Generate implements Generator. Each delta carries the turn's message
// id; the final chunk is the terminal marker.
func (g *LangChainGenerator) Generate(ctx context.Context, messages []chat.Message) (<-chan chat.Chunk, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		messageType := schema.ChatMessageTypeHuman
		if msg.IsAssistant() {
			messageType = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(messageType, msg.Content))
	}

	out := make(chan chat.Chunk, 100)
	messageID := uuid.New().String()

	go func() {
		defer close(out)

		streamingFunc := func(ctx context.Context, delta []byte) error {
			select {
			case out <- chat.Chunk{
				MessageID: messageID,
				Content:   string(delta),
				Timestamp: time.Now(),
			}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_, err := g.llm.GenerateContent(ctx, content, llms.WithStreamingFunc(streamingFunc))
		if err != nil {
			out <- chat.Chunk{
				MessageID: messageID,
				Err:       err.Error(),
				Timestamp: time.Now(),
			}
			return
		}

		out <- chat.Chunk{
			MessageID: messageID,
			Done:      true,
			Timestamp: time.Now(),
		}
	}()

	return out, nil
}

var _ Generator = (*LangChainGenerator)(nil)
