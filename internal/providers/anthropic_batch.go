package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	AnthropicName    = "anthropic"
	AnthropicBaseURL = "https://api.anthropic.com"

	anthropicVersion                 = "2023-06-01"
	anthropicDefaultModel            = "claude-3-5-haiku-20241022"
	anthropicDefaultMaxTokens        = 4096
	anthropicDefaultMaxBatchRequests = 10000

	// anthropicUserTurn is the fixed user turn; the whole instruction lives in the system prompt.
	anthropicUserTurn = "Generate the training samples as specified in the system prompt."
)

// AnthropicBatchClient implements BatchProvider and Generator against the
// Anthropic Message Batches API.
type AnthropicBatchClient struct {
	apiKey           string
	baseURL          string
	model            string
	temperature      float64
	maxTokens        int
	maxBatchRequests int
	maxRetries       int
	retryDelay       time.Duration
	client           *http.Client
}

// NewAnthropicBatchClient creates a new Anthropic batch client.
func NewAnthropicBatchClient(cfg Config) *AnthropicBatchClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = AnthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = anthropicDefaultMaxTokens
	}
	if cfg.MaxBatchRequests <= 0 {
		cfg.MaxBatchRequests = anthropicDefaultMaxBatchRequests
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	return &AnthropicBatchClient{
		apiKey:           cfg.APIKey,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		model:            cfg.Model,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
		maxBatchRequests: cfg.MaxBatchRequests,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       cfg.RetryDelay,
		client:           &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (c *AnthropicBatchClient) Name() string {
	return AnthropicName
}

// MaxBatchRequests returns the per-batch request threshold.
func (c *AnthropicBatchClient) MaxBatchRequests() int {
	return c.maxBatchRequests
}

type anthropicBatchLine struct {
	CustomID string                `json:"custom_id"`
	Params   anthropicMessageParams `json:"params"`
}

type anthropicMessageParams struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
}

func (c *AnthropicBatchClient) messageParams(prompt string) anthropicMessageParams {
	return anthropicMessageParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      prompt,
		Messages:    []chatMessage{{Role: "user", Content: anthropicUserTurn}},
	}
}

// EncodeRequest builds a message-batch request with the prompt as the system prompt.
func (c *AnthropicBatchClient) EncodeRequest(customID, prompt string) (json.RawMessage, error) {
	if !anthropicCustomID.MatchString(customID) {
		return nil, fmt.Errorf("%w: %q must match %s", ErrInvalidCustomID, customID, anthropicCustomID)
	}
	return marshalRecord(anthropicBatchLine{
		CustomID: customID,
		Params:   c.messageParams(prompt),
	})
}

// The Message Batches API rejects a whole batch over one bad custom_id.
var anthropicCustomID = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type anthropicRequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

type anthropicBatch struct {
	ID               string                 `json:"id"`
	ProcessingStatus string                 `json:"processing_status"`
	RequestCounts    anthropicRequestCounts `json:"request_counts"`
	CreatedAt        *time.Time             `json:"created_at"`
	EndedAt          *time.Time             `json:"ended_at"`
	ResultsURL       string                 `json:"results_url"`
}

type anthropicBatchList struct {
	Data    []anthropicBatch `json:"data"`
	HasMore bool             `json:"has_more"`
	LastID  string           `json:"last_id"`
}

// Submit posts every record of the artifact inline as one message batch.
// Submit is never retried.
func (c *AnthropicBatchClient) Submit(ctx context.Context, artifactPath string) (*Batch, error) {
	requests, err := readArtifactRecords(artifactPath)
	if err != nil {
		return nil, err
	}

	var created anthropicBatch
	body := map[string]any{"requests": requests}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/messages/batches", body, &created); err != nil {
		return nil, fmt.Errorf("anthropic batch create failed: %w", err)
	}

	b := fromAnthropicBatch(&created)
	return &b, nil
}

// ListBatches returns one page of message batches.
func (c *AnthropicBatchClient) ListBatches(ctx context.Context, after string, limit int) (*BatchPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		q.Set("after_id", after)
	}
	endpoint := c.baseURL + "/v1/messages/batches"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var list anthropicBatchList
	if err := c.getWithRetry(ctx, endpoint, func(data []byte) error {
		return json.Unmarshal(data, &list)
	}); err != nil {
		return nil, fmt.Errorf("anthropic batch list failed: %w", err)
	}

	page := &BatchPage{
		Batches: make([]Batch, 0, len(list.Data)),
		HasMore: list.HasMore,
	}
	for i := range list.Data {
		page.Batches = append(page.Batches, fromAnthropicBatch(&list.Data[i]))
	}
	return page, nil
}

// Cancel requests cancellation of a message batch.
func (c *AnthropicBatchClient) Cancel(ctx context.Context, batchID string) error {
	endpoint := c.baseURL + "/v1/messages/batches/" + url.PathEscape(batchID) + "/cancel"
	if err := c.doJSON(ctx, http.MethodPost, endpoint, nil, nil); err != nil {
		return fmt.Errorf("anthropic batch cancel failed: %w", err)
	}
	return nil
}

// FetchContent downloads a results stream. fileID is the batch's results_url,
// or a bare batch id.
func (c *AnthropicBatchClient) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	endpoint := fileID
	if !strings.HasPrefix(fileID, "http://") && !strings.HasPrefix(fileID, "https://") {
		endpoint = c.baseURL + "/v1/messages/batches/" + url.PathEscape(fileID) + "/results"
	}

	var out []byte
	if err := c.getWithRetry(ctx, endpoint, func(data []byte) error {
		out = data
		return nil
	}); err != nil {
		return nil, fmt.Errorf("anthropic results download failed: %w", err)
	}
	return out, nil
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessage struct {
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Error   *anthropicError `json:"error"`
}

type anthropicResultLine struct {
	CustomID string `json:"custom_id"`
	Result   *struct {
		Type    string            `json:"type"`
		Message *anthropicMessage `json:"message"`
		Error   *anthropicError   `json:"error"`
	} `json:"result"`
}

// DecodeResult unwraps the text blocks of a succeeded result, or describes why it did not succeed.
func (c *AnthropicBatchClient) DecodeResult(line []byte) (*ResultRecord, error) {
	var env anthropicResultLine
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("invalid result envelope: %w", err)
	}
	if env.CustomID == "" {
		return nil, fmt.Errorf("result envelope has no custom_id")
	}
	if env.Result == nil {
		return nil, fmt.Errorf("result envelope for %s has no result", env.CustomID)
	}

	rec := &ResultRecord{CustomID: env.CustomID}
	switch env.Result.Type {
	case "succeeded":
		if env.Result.Message == nil {
			return nil, fmt.Errorf("succeeded result for %s has no message", env.CustomID)
		}
		rec.Text = messageText(env.Result.Message)
	case "errored":
		rec.Failed = true
		rec.Error = describeAnthropicError(env.Result.Error)
	default:
		// canceled, expired
		rec.Failed = true
		rec.Error = env.Result.Type
	}
	return rec, nil
}

// Complete sends one message and waits for the reply.
func (c *AnthropicBatchClient) Complete(ctx context.Context, prompt string) (*Completion, error) {
	start := time.Now()

	var msg anthropicMessage
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/messages", c.messageParams(prompt), &msg); err != nil {
		return nil, fmt.Errorf("anthropic message failed: %w", err)
	}

	return &Completion{
		Text:             strings.TrimSpace(messageText(&msg)),
		Model:            msg.Model,
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
		ExecutionTime:    time.Since(start),
	}, nil
}

func messageText(msg *anthropicMessage) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func describeAnthropicError(e *anthropicError) string {
	if e == nil {
		return "errored"
	}
	if e.Error != nil {
		return describeAnthropicError(e.Error)
	}
	return formatProviderError(e.Type, e.Message)
}

func fromAnthropicBatch(b *anthropicBatch) Batch {
	counts := b.RequestCounts
	out := Batch{
		ID:             b.ID,
		Status:         canonicalAnthropicStatus(b.ProcessingStatus, counts),
		ProviderStatus: b.ProcessingStatus,
		RequestCounts: RequestCounts{
			Total:     counts.Processing + counts.Succeeded + counts.Errored + counts.Canceled + counts.Expired,
			Completed: counts.Succeeded,
			Failed:    counts.Errored + counts.Expired,
		},
	}
	if b.CreatedAt != nil {
		out.CreatedAt = b.CreatedAt.UTC()
	}
	if b.EndedAt != nil {
		out.CompletedAt = b.EndedAt.UTC()
	}
	if out.Status == StatusCompleted && b.ResultsURL != "" {
		if counts.Succeeded > 0 {
			out.OutputFileID = b.ResultsURL
		} else {
			out.ErrorFileID = b.ResultsURL
		}
	}
	return out
}

// canonicalAnthropicStatus maps processing_status plus request counts onto the canonical set.
// An ended batch is completed when it has any result to collect.
func canonicalAnthropicStatus(processing string, counts anthropicRequestCounts) BatchStatus {
	switch processing {
	case "in_progress", "canceling":
		return StatusRunning
	case "ended":
		switch {
		case counts.Succeeded > 0 || counts.Errored > 0:
			return StatusCompleted
		case counts.Canceled > 0:
			return StatusCancelled
		default:
			return StatusFailed
		}
	default:
		return StatusPending
	}
}

// readArtifactRecords reads a JSONL artifact into raw records, skipping blank lines.
func readArtifactRecords(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch artifact: %w", err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("batch artifact %s has an invalid record at line %d", path, len(records)+1)
		}
		records = append(records, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch artifact: %w", err)
	}
	return records, nil
}

var _ BatchProvider = (*AnthropicBatchClient)(nil)
var _ Generator = (*AnthropicBatchClient)(nil)
