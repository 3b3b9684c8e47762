// Package generation defines the answer-generation collaborator consumed
// after retrieval. The engine itself only needs Generate; the OpenAI chat
// implementation is provided for the CLI's ask command.
package generation

import "context"

// Generator produces answer text from a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
