// Package backend adapts generation providers to the stream the
// pipeline consumes: ordered partial deltas ending in exactly one
// completion or error marker per turn. Retries are the provider's
// business; nothing here re-issues a failed generation.
package backend

import (
	"context"

	"github.com/finchley/parley/pkg/chat"
)

// Generator produces one assistant turn for the given transcript. The
// returned channel carries content deltas sharing a single message id,
// then a terminal marker, and is closed afterwards.
type Generator interface {
	Generate(ctx context.Context, messages []chat.Message) (<-chan chat.Chunk, error)
}
