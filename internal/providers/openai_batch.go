package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName                    = "openai"
	openAIDefaultModel            = "gpt-4.1-mini"
	openAIDefaultEndpoint         = "/v1/chat/completions"
	openAIDefaultCompletionWindow = "24h"
	openAIDefaultMaxBatchRequests = 900
)

// OpenAIBatchClient implements BatchProvider and Generator using the official OpenAI SDK.
type OpenAIBatchClient struct {
	model            string
	temperature      float64
	maxTokens        int
	endpoint         string
	completionWindow string
	maxBatchRequests int
	client           openai.Client
}

// NewOpenAIBatchClient creates a new OpenAI batch client.
func NewOpenAIBatchClient(cfg Config) *OpenAIBatchClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = openAIDefaultEndpoint
	}
	if cfg.CompletionWindow == "" {
		cfg.CompletionWindow = openAIDefaultCompletionWindow
	}
	if cfg.MaxBatchRequests <= 0 {
		cfg.MaxBatchRequests = openAIDefaultMaxBatchRequests
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIBatchClient{
		model:            cfg.Model,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
		endpoint:         cfg.Endpoint,
		completionWindow: cfg.CompletionWindow,
		maxBatchRequests: cfg.MaxBatchRequests,
		client:           openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIBatchClient) Name() string {
	return OpenAIName
}

// MaxBatchRequests returns the per-batch request threshold.
func (c *OpenAIBatchClient) MaxBatchRequests() int {
	return c.maxBatchRequests
}

type openAIBatchLine struct {
	CustomID string         `json:"custom_id"`
	Method   string         `json:"method"`
	URL      string         `json:"url"`
	Body     openAIChatBody `json:"body"`
}

type openAIChatBody struct {
	Model               string        `json:"model"`
	Temperature         float64       `json:"temperature"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Messages            []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeRequest builds a chat-completions batch line with the prompt as the system message.
func (c *OpenAIBatchClient) EncodeRequest(customID, prompt string) (json.RawMessage, error) {
	return marshalRecord(openAIBatchLine{
		CustomID: customID,
		Method:   http.MethodPost,
		URL:      c.endpoint,
		Body: openAIChatBody{
			Model:               c.model,
			Temperature:         c.temperature,
			MaxCompletionTokens: c.maxTokens,
			Messages:            []chatMessage{{Role: "system", Content: prompt}},
		},
	})
}

// Submit uploads the artifact with purpose "batch" and creates a batch from it.
// The create call carries no SDK retries so a lost response never bills twice.
func (c *OpenAIBatchClient) Submit(ctx context.Context, artifactPath string) (*Batch, error) {
	f, err := os.Open(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch artifact: %w", err)
	}
	defer f.Close()

	upload, err := c.client.Files.New(ctx, openai.FileNewParams{
		File:    f,
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("openai file upload failed: %w", mapOpenAIError(err))
	}

	created, err := c.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      upload.ID,
		Endpoint:         openai.BatchNewParamsEndpoint(c.endpoint),
		CompletionWindow: openai.BatchNewParamsCompletionWindow(c.completionWindow),
	}, option.WithMaxRetries(0))
	if err != nil {
		return nil, fmt.Errorf("openai batch create failed: %w", mapOpenAIError(err))
	}

	b := fromOpenAIBatch(created)
	return &b, nil
}

// ListBatches returns one cursor page of batches.
func (c *OpenAIBatchClient) ListBatches(ctx context.Context, after string, limit int) (*BatchPage, error) {
	params := openai.BatchListParams{}
	if limit > 0 {
		params.Limit = openai.Int(int64(limit))
	}
	if after != "" {
		params.After = openai.String(after)
	}

	page, err := c.client.Batches.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai batch list failed: %w", mapOpenAIError(err))
	}
	if page == nil {
		return &BatchPage{}, nil
	}

	out := &BatchPage{
		Batches: make([]Batch, 0, len(page.Data)),
		HasMore: page.HasMore,
	}
	for i := range page.Data {
		out.Batches = append(out.Batches, fromOpenAIBatch(&page.Data[i]))
	}
	return out, nil
}

// Cancel requests cancellation of a batch.
func (c *OpenAIBatchClient) Cancel(ctx context.Context, batchID string) error {
	if _, err := c.client.Batches.Cancel(ctx, batchID); err != nil {
		return fmt.Errorf("openai batch cancel failed: %w", mapOpenAIError(err))
	}
	return nil
}

// FetchContent downloads a file's raw bytes.
func (c *OpenAIBatchClient) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("openai file content failed: %w", mapOpenAIError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading openai file content: %w", err)
	}
	return data, nil
}

type openAIResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *openAIErrorBody `json:"error"`
}

type openAIErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type openAIChatCompletionBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *openAIErrorBody `json:"error"`
}

// DecodeResult unwraps response.body.choices[0].message.content from an output line,
// or the error message from an error line.
func (c *OpenAIBatchClient) DecodeResult(line []byte) (*ResultRecord, error) {
	var env openAIResultLine
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("invalid result envelope: %w", err)
	}
	if env.CustomID == "" {
		return nil, fmt.Errorf("result envelope has no custom_id")
	}

	rec := &ResultRecord{CustomID: env.CustomID}
	if env.Error != nil {
		rec.Failed = true
		rec.Error = formatProviderError(env.Error.Code, env.Error.Message)
		return rec, nil
	}
	if env.Response == nil {
		return nil, fmt.Errorf("result envelope for %s has neither response nor error", env.CustomID)
	}

	var body openAIChatCompletionBody
	if err := json.Unmarshal(env.Response.Body, &body); err != nil {
		return nil, fmt.Errorf("invalid response body for %s: %w", env.CustomID, err)
	}
	if env.Response.StatusCode != http.StatusOK {
		rec.Failed = true
		if body.Error != nil {
			rec.Error = formatProviderError(body.Error.Code, body.Error.Message)
		} else {
			rec.Error = fmt.Sprintf("status %d", env.Response.StatusCode)
		}
		return rec, nil
	}
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("response body for %s has no choices", env.CustomID)
	}

	rec.Text = body.Choices[0].Message.Content
	return rec, nil
}

// Complete sends one chat completion with the prompt as the system message.
func (c *OpenAIBatchClient) Complete(ctx context.Context, prompt string) (*Completion, error) {
	start := time.Now()

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(prompt)},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", mapOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion returned no choices")
	}

	return &Completion{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		ExecutionTime:    time.Since(start),
	}, nil
}

func fromOpenAIBatch(b *openai.Batch) Batch {
	out := Batch{
		ID:             b.ID,
		Status:         canonicalOpenAIStatus(string(b.Status)),
		ProviderStatus: string(b.Status),
		OutputFileID:   b.OutputFileID,
		ErrorFileID:    b.ErrorFileID,
		CreatedAt:      unixTime(b.CreatedAt),
		CompletedAt:    unixTime(b.CompletedAt),
		RequestCounts: RequestCounts{
			Total:     int(b.RequestCounts.Total),
			Completed: int(b.RequestCounts.Completed),
			Failed:    int(b.RequestCounts.Failed),
		},
	}
	return out
}

// canonicalOpenAIStatus maps OpenAI batch states onto the canonical set.
// cancelling and finalizing are still live on the provider side.
func canonicalOpenAIStatus(status string) BatchStatus {
	switch status {
	case "validating":
		return StatusPending
	case "in_progress", "finalizing", "cancelling":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed", "expired":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func formatProviderError(code, message string) string {
	switch {
	case code != "" && message != "":
		return code + ": " + message
	case message != "":
		return message
	case code != "":
		return code
	default:
		return "unknown error"
	}
}

// marshalRecord encodes v without HTML escaping so prompts stay readable on disk.
func marshalRecord(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode request record: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

var _ BatchProvider = (*OpenAIBatchClient)(nil)
var _ Generator = (*OpenAIBatchClient)(nil)
