package providers

import (
	"context"
	"encoding/json"
	"time"
)

// BatchProvider is an asynchronous bulk-inference backend.
// Implementations translate between the provider's wire format and the
// provider-neutral Batch and ResultRecord types.
type BatchProvider interface {
	// Name returns the provider identifier (e.g., "openai").
	Name() string

	// MaxBatchRequests is the largest number of requests one submission may carry.
	MaxBatchRequests() int

	// EncodeRequest wraps a finished prompt into one batch request record.
	EncodeRequest(customID, prompt string) (json.RawMessage, error)

	// Submit sends the JSONL artifact at path as a new batch.
	// Submit is never retried automatically.
	Submit(ctx context.Context, artifactPath string) (*Batch, error)

	// ListBatches returns one page of batches, newest first.
	// after is the id of the last batch of the previous page ("" for the first page).
	ListBatches(ctx context.Context, after string, limit int) (*BatchPage, error)

	// Cancel asks the provider to cancel a batch. The transition is observed later.
	Cancel(ctx context.Context, batchID string) error

	// FetchContent downloads a result artifact by its provider handle.
	FetchContent(ctx context.Context, fileID string) ([]byte, error)

	// DecodeResult parses one line of a result artifact.
	DecodeResult(line []byte) (*ResultRecord, error)
}

// Generator sends a single prompt and waits for the reply.
// Used by synchronous generation.
type Generator interface {
	Name() string
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// BatchStatus is the canonical lifecycle state of a batch.
type BatchStatus string

const (
	StatusPending   BatchStatus = "pending"
	StatusRunning   BatchStatus = "running"
	StatusCompleted BatchStatus = "completed"
	StatusFailed    BatchStatus = "failed"
	StatusCancelled BatchStatus = "cancelled"
)

// Terminal reports whether the provider will not move the batch any further.
func (s BatchStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// RequestCounts summarizes per-request progress inside a batch.
type RequestCounts struct {
	Total     int `json:"total" yaml:"total"`
	Completed int `json:"completed" yaml:"completed"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Batch is a provider-side asynchronous job.
type Batch struct {
	ID             string        `json:"id" yaml:"id"`
	Status         BatchStatus   `json:"status" yaml:"status"`
	ProviderStatus string        `json:"provider_status" yaml:"provider_status"`
	OutputFileID   string        `json:"output_file_id,omitempty" yaml:"output_file_id,omitempty"`
	ErrorFileID    string        `json:"error_file_id,omitempty" yaml:"error_file_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	CompletedAt    time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	RequestCounts  RequestCounts `json:"request_counts" yaml:"request_counts"`
}

// BatchPage is one page of a batch listing.
type BatchPage struct {
	Batches []Batch
	HasMore bool
}

// ResultRecord is one decoded line of a result artifact.
// Exactly one of Text or Error is meaningful, selected by Failed.
type ResultRecord struct {
	CustomID string
	Text     string
	Failed   bool
	Error    string
}

// Completion is the reply to a synchronous request.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	ExecutionTime    time.Duration
}

// Config configures one provider client. APIKey must already be resolved.
type Config struct {
	Type             string        // "openai", "anthropic"
	APIKey           string        // Resolved API key
	BaseURL          string        // Optional (tests, proxies)
	Model            string        // Generation model
	Temperature      float64       // Sampling temperature
	MaxTokens        int           // Completion budget (required by anthropic)
	Endpoint         string        // OpenAI batch endpoint, e.g. /v1/chat/completions
	CompletionWindow string        // OpenAI completion window, e.g. 24h
	MaxBatchRequests int           // Maximum requests per submitted batch
	MaxRetries       int           // Retry attempts for idempotent calls
	RetryDelay       time.Duration // Base delay between retries
	Timeout          time.Duration // HTTP timeout
}
