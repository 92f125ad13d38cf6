package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// MockBatchProvider is an in-memory Client for testing.
// Batches are listed newest first, like the real providers.
type MockBatchProvider struct {
	ProviderName string
	MaxRequests  int

	// Failure injection
	SubmitErr error
	ListErr   error
	FetchErr  error
	CancelErr error

	// CompleteFunc produces synchronous replies; defaults to echoing a fixed sample.
	CompleteFunc func(prompt string) (string, error)

	mu        sync.Mutex
	batches   []Batch
	files     map[string][]byte
	artifacts map[string][]byte
	nextID    int

	submitCalls   atomic.Int64
	listCalls     atomic.Int64
	fetchCalls    atomic.Int64
	cancelCalls   atomic.Int64
	completeCalls atomic.Int64
}

// NewMockBatchProvider creates a mock with a small per-batch limit.
func NewMockBatchProvider() *MockBatchProvider {
	return &MockBatchProvider{
		ProviderName: MockName,
		MaxRequests:  10,
		files:        make(map[string][]byte),
		artifacts:    make(map[string][]byte),
	}
}

// Name returns the provider identifier.
func (m *MockBatchProvider) Name() string {
	return m.ProviderName
}

// MaxBatchRequests returns the per-batch request threshold.
func (m *MockBatchProvider) MaxBatchRequests() int {
	return m.MaxRequests
}

type mockRequestLine struct {
	CustomID string `json:"custom_id"`
	Prompt   string `json:"prompt"`
}

// EncodeRequest wraps the prompt as {"custom_id","prompt"}.
func (m *MockBatchProvider) EncodeRequest(customID, prompt string) (json.RawMessage, error) {
	return marshalRecord(mockRequestLine{CustomID: customID, Prompt: prompt})
}

// Submit records the artifact and creates a pending batch.
func (m *MockBatchProvider) Submit(ctx context.Context, artifactPath string) (*Batch, error) {
	m.submitCalls.Add(1)
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch artifact: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b := Batch{
		ID:             fmt.Sprintf("batch_mock_%d", m.nextID),
		Status:         StatusPending,
		ProviderStatus: "validating",
		CreatedAt:      time.Now().UTC(),
	}
	m.artifacts[b.ID] = data
	m.batches = append([]Batch{b}, m.batches...)
	return &b, nil
}

// ListBatches pages through the stored batches after the given id.
func (m *MockBatchProvider) ListBatches(ctx context.Context, after string, limit int) (*BatchPage, error) {
	m.listCalls.Add(1)
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if after != "" {
		start = len(m.batches)
		for i, b := range m.batches {
			if b.ID == after {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = len(m.batches)
	}
	end := min(start+limit, len(m.batches))

	page := &BatchPage{HasMore: end < len(m.batches)}
	page.Batches = append(page.Batches, m.batches[start:end]...)
	return page, nil
}

// Cancel marks a non-terminal batch cancelled.
func (m *MockBatchProvider) Cancel(ctx context.Context, batchID string) error {
	m.cancelCalls.Add(1)
	if m.CancelErr != nil {
		return m.CancelErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		if m.batches[i].ID != batchID {
			continue
		}
		if !m.batches[i].Status.Terminal() {
			m.batches[i].Status = StatusCancelled
			m.batches[i].ProviderStatus = "cancelled"
		}
		return nil
	}
	return fmt.Errorf("batch not found: %s", batchID)
}

// FetchContent returns a stored file.
func (m *MockBatchProvider) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	m.fetchCalls.Add(1)
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", fileID)
	}
	return data, nil
}

type mockResultLine struct {
	CustomID string `json:"custom_id"`
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DecodeResult parses a line produced by MockResultLine or MockErrorLine.
func (m *MockBatchProvider) DecodeResult(line []byte) (*ResultRecord, error) {
	var env mockResultLine
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("invalid result envelope: %w", err)
	}
	if env.CustomID == "" {
		return nil, fmt.Errorf("result envelope has no custom_id")
	}
	if env.Error != "" {
		return &ResultRecord{CustomID: env.CustomID, Failed: true, Error: env.Error}, nil
	}
	return &ResultRecord{CustomID: env.CustomID, Text: env.Text}, nil
}

// Complete returns CompleteFunc's reply.
func (m *MockBatchProvider) Complete(ctx context.Context, prompt string) (*Completion, error) {
	m.completeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := `{"messages":[]}`
	if m.CompleteFunc != nil {
		var err error
		if text, err = m.CompleteFunc(prompt); err != nil {
			return nil, err
		}
	}
	return &Completion{Text: text, Model: MockName}, nil
}

// AddBatch stores b as the newest batch.
func (m *MockBatchProvider) AddBatch(b Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append([]Batch{b}, m.batches...)
}

// SetBatch replaces a stored batch with the same id.
func (m *MockBatchProvider) SetBatch(b Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		if m.batches[i].ID == b.ID {
			m.batches[i] = b
			return
		}
	}
}

// SetFile stores content under a file handle.
func (m *MockBatchProvider) SetFile(fileID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileID] = data
}

// Artifact returns the bytes submitted for a batch.
func (m *MockBatchProvider) Artifact(batchID string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artifacts[batchID]
}

// SubmitCount returns the number of Submit calls.
func (m *MockBatchProvider) SubmitCount() int64 { return m.submitCalls.Load() }

// ListCount returns the number of ListBatches calls.
func (m *MockBatchProvider) ListCount() int64 { return m.listCalls.Load() }

// FetchCount returns the number of FetchContent calls.
func (m *MockBatchProvider) FetchCount() int64 { return m.fetchCalls.Load() }

// CancelCount returns the number of Cancel calls.
func (m *MockBatchProvider) CancelCount() int64 { return m.cancelCalls.Load() }

// CompleteCount returns the number of Complete calls.
func (m *MockBatchProvider) CompleteCount() int64 { return m.completeCalls.Load() }

// MockResultLine encodes a successful result line.
func MockResultLine(customID, text string) []byte {
	data, _ := json.Marshal(mockResultLine{CustomID: customID, Text: text})
	return data
}

// MockErrorLine encodes a failed result line.
func MockErrorLine(customID, message string) []byte {
	data, _ := json.Marshal(mockResultLine{CustomID: customID, Error: message})
	return data
}

var _ Client = (*MockBatchProvider)(nil)
