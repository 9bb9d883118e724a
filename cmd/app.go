package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/finchley/parley/pkg/backend"
	"github.com/finchley/parley/pkg/chat"
	"github.com/finchley/parley/pkg/config"
	"github.com/finchley/parley/pkg/history"
	"github.com/finchley/parley/pkg/logger"
	"github.com/finchley/parley/pkg/pipeline"
	"github.com/finchley/parley/pkg/relay"
	"github.com/finchley/parley/pkg/stream"
	"github.com/finchley/parley/pkg/transport"
)

// app wires the full relay: buffer, coordinator, pipeline with
// persisting sink, generation backend and optional broker.
type app struct {
	runner   *relay.Runner
	pipeline *pipeline.Pipeline
	buffer   stream.Buffer
	store    *history.Store
	broker   *transport.Broker
	convID   string
	senderID string
}

func newApp() (*app, error) {
	settings := config.Get()

	var buffer stream.Buffer
	switch settings.Buffer.Backend {
	case "redis":
		redisBuffer, err := stream.NewRedisBuffer(stream.RedisBufferConfig{
			Host:      settings.Buffer.Redis.Host,
			Port:      settings.Buffer.Redis.Port,
			Password:  settings.Buffer.Redis.Password,
			DB:        settings.Buffer.Redis.DB,
			KeyPrefix: settings.Buffer.Redis.KeyPrefix,
			IdleTTL:   settings.Buffer.Redis.IdleTTL,
		})
		if err != nil {
			return nil, err
		}
		buffer = redisBuffer
	default:
		buffer = stream.NewMemoryBuffer()
	}

	store, err := history.NewStore(settings.History.Path)
	if err != nil {
		return nil, err
	}

	sink := history.NewSink(store, newConsoleSink(os.Stdout))
	p := pipeline.New(stream.NewCoordinator(), buffer, sink)

	convID := viper.GetString("conversation")
	if convID == "" {
		convID = uuid.New().String()
	}

	if viper.GetBool("continue") {
		persisted, err := store.Load(convID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		p.LoadHistory(convID, persisted)
	}

	var generator backend.Generator
	if viper.GetBool("offline") {
		generator = &backend.ScriptedGenerator{Replies: []string{"Running offline; no model is attached."}}
	} else {
		health, err := backend.CheckOllamaWithTimeout(settings.Ollama.Host, 5*time.Second)
		if err == nil && !health.Available {
			return nil, fmt.Errorf("ollama is not reachable: %v", health.Error)
		}
		if found, err := backend.CheckModel(context.Background(), settings.Ollama.Host, settings.Ollama.Model); err == nil && !found {
			logger.Warn("Model %s is not in the served model list", settings.Ollama.Model)
		}

		generator, err = backend.NewLangChainGenerator(settings.Ollama.Host, settings.Ollama.Model)
		if err != nil {
			return nil, err
		}
	}

	var broker *transport.Broker
	if settings.Broker.Enabled {
		broker, err = transport.Connect(settings.Broker.URL, settings.Broker.Token, settings.Broker.SubjectPrefix)
		if err != nil {
			return nil, err
		}
	}

	return &app{
		runner:   relay.NewRunner(p, generator, broker),
		pipeline: p,
		buffer:   buffer,
		store:    store,
		broker:   broker,
		convID:   convID,
		senderID: viper.GetString("sender"),
	}, nil
}

// Run relays one prompt to completion.
func (a *app) Run(ctx context.Context, prompt string) error {
	return a.runner.Run(ctx, a.convID, prompt, a.senderID)
}

func (a *app) Close() {
	if a.broker != nil {
		a.broker.Close()
	}
	if closer, ok := a.buffer.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// consoleSink renders the transcript stream to a writer: deltas as
// they arrive, a newline per finalized turn. The cumulative content
// already printed is tracked per conversation, so interleaved streams
// slice their own deltas.
type consoleSink struct {
	out        io.Writer
	lastStream map[string]string
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, lastStream: make(map[string]string)}
}

func (s *consoleSink) MessageAppended(convID string, msg chat.Message) {
	if msg.IsUser() {
		fmt.Fprintf(s.out, "> %s\n", msg.Content)
	}
}

func (s *consoleSink) StreamingUpdated(convID string, msg chat.Message) {
	// Content is cumulative; print only what is new.
	last := s.lastStream[convID]
	if len(msg.Content) > len(last) {
		fmt.Fprint(s.out, msg.Content[len(last):])
	}
	s.lastStream[convID] = msg.Content
}

func (s *consoleSink) MessageFinalized(convID string, msg chat.Message) {
	if msg.IsUser() {
		return
	}
	if msg.Err != "" {
		fmt.Fprintf(s.out, "\n[error: %s]\n", msg.Err)
	} else {
		fmt.Fprintln(s.out)
	}
	delete(s.lastStream, convID)
}

func (s *consoleSink) TranscriptReplaced(convID string, msgs []chat.Message) {
	for _, msg := range msgs {
		prefix := "  "
		if msg.IsUser() {
			prefix = "> "
		}
		fmt.Fprintf(s.out, "%s%s\n", prefix, msg.Content)
	}
}

var _ pipeline.TranscriptSink = (*consoleSink)(nil)
