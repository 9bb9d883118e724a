// Package relay drives one prompt through the whole core: submit,
// generate, accumulate, finalize. It is the producer loop the CLI and
// integration tests share.
package relay

import (
	"context"
	"fmt"

	"github.com/finchley/parley/pkg/backend"
	"github.com/finchley/parley/pkg/chat"
	"github.com/finchley/parley/pkg/logger"
	"github.com/finchley/parley/pkg/pipeline"
	"github.com/finchley/parley/pkg/transport"
)

// Runner connects a generation backend to the message pipeline.
type Runner struct {
	pipeline  *pipeline.Pipeline
	generator backend.Generator
	broker    *transport.Broker
}

// NewRunner wires a runner. The broker is optional; when present every
// produced chunk is also broadcast for other instances.
func NewRunner(p *pipeline.Pipeline, g backend.Generator, broker *transport.Broker) *Runner {
	return &Runner{pipeline: p, generator: g, broker: broker}
}

// Run submits one prompt and consumes the generated response stream to
// completion. It returns once the turn finalized. Cancellation of ctx
// surfaces as a finalize-with-error for the affected turn only.
func (r *Runner) Run(ctx context.Context, convID, prompt, senderID string) error {
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}

	if _, err := r.pipeline.SubmitLocal(ctx, convID, prompt, senderID); err != nil {
		return fmt.Errorf("failed to submit prompt: %w", err)
	}

	chunks, err := r.generator.Generate(ctx, r.pipeline.History(convID))
	if err != nil {
		r.abort(ctx, convID, "", err)
		return fmt.Errorf("failed to start generation: %w", err)
	}

	for chunk := range chunks {
		r.broadcast(convID, chunk)

		switch {
		case chunk.Err != "":
			return r.pipeline.FinalizeWithError(ctx, convID, chunk.MessageID, chunk.Err)
		case chunk.Done:
			return r.pipeline.Finalize(ctx, convID, chunk.MessageID)
		default:
			if err := r.pipeline.Accumulate(ctx, convID, chunk.MessageID, chunk.Content, chunk.Reasoning, chunk.ToolCalls); err != nil {
				r.abort(ctx, convID, chunk.MessageID, err)
				return fmt.Errorf("failed to accumulate chunk: %w", err)
			}
		}
	}

	// The channel closed without a terminal marker: treat it as a
	// transport drop and leave the turn open for resume.
	logger.Warn("Generation stream on conversation %s ended without terminal marker", convID)
	return nil
}

// abort finalizes the turn with the failure so the pending slot the
// prompt claimed is released. Without it a mid-stream error would leave
// the conversation's stream open forever.
func (r *Runner) abort(ctx context.Context, convID, messageID string, cause error) {
	if err := r.pipeline.FinalizeWithError(ctx, convID, messageID, cause.Error()); err != nil {
		logger.Warn("Failed to finalize aborted turn on conversation %s: %v", convID, err)
	}
}

func (r *Runner) broadcast(convID string, chunk chat.Chunk) {
	if r.broker == nil {
		return
	}
	if err := r.broker.PublishChunk(convID, chunk); err != nil {
		logger.Warn("Failed to broadcast chunk on conversation %s: %v", convID, err)
	}
}
