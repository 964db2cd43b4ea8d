// Package gateway talks to the generative model backend.
package gateway

import (
	"context"
	"errors"

	"github.com/ragdesk/ragdesk/pkg/models"
)

// ErrStatus is wrapped by errors caused by a non-200 backend response.
var ErrStatus = errors.New("backend returned error status")

// Gateway invokes a generative backend. Streams deliver fragments in order and
// are closed after a fragment with Done or Err set. A stream that ends
// without Done carries an Err.
type Gateway interface {
	// Generate returns the complete answer for prompt.
	Generate(ctx context.Context, model, prompt string) (string, error)
	// Chat streams the answer to a message exchange.
	Chat(ctx context.Context, model string, messages []models.ChatMessage) (<-chan models.Fragment, error)
	// GenerateImages streams an answer conditioned on base64-encoded images.
	GenerateImages(ctx context.Context, model, prompt string, images []string) (<-chan models.Fragment, error)
}
