// Package batch manages the lifecycle of provider batch jobs: building and
// partitioning requests into submitted batches, enumerating and archiving
// them, downloading their results and extracting training samples.
//
// All coordination between the submission path and the collection path goes
// through files on disk and provider-side state. Nothing here is safe to run
// concurrently against the same home directory.
package batch

import (
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/tuner/internal/prompts"
)

// RequestEncoder wraps a finished prompt into a provider batch record.
type RequestEncoder interface {
	EncodeRequest(customID, prompt string) (json.RawMessage, error)
}

// PendingRequest is one request awaiting submission.
type PendingRequest struct {
	CustomID string
	Payload  json.RawMessage
}

// Builder turns request text into provider records for one sample type.
type Builder struct {
	template *prompts.Template
	encoder  RequestEncoder
}

// NewBuilder creates a builder for a loaded template and provider encoder.
func NewBuilder(tmpl *prompts.Template, enc RequestEncoder) *Builder {
	return &Builder{template: tmpl, encoder: enc}
}

// Build substitutes fullText into the template and encodes the result.
// It returns nil without error when fullText is empty; the caller skips it.
// requestID uniqueness is the caller's responsibility.
func (b *Builder) Build(fullText, requestID string) (*PendingRequest, error) {
	if fullText == "" {
		return nil, nil
	}
	payload, err := b.encoder.EncodeRequest(requestID, b.template.Render(fullText))
	if err != nil {
		return nil, fmt.Errorf("failed to build request %s: %w", requestID, err)
	}
	return &PendingRequest{CustomID: requestID, Payload: payload}, nil
}
