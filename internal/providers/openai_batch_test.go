package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func newTestOpenAIClient(serverURL string) *OpenAIBatchClient {
	return NewOpenAIBatchClient(Config{
		Type:       OpenAIName,
		APIKey:     "test-key",
		BaseURL:    serverURL + "/",
		MaxRetries: 2,
	})
}

func writeArtifact(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch_1.jsonl")
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestOpenAIBatchClient_EncodeRequest(t *testing.T) {
	client := NewOpenAIBatchClient(Config{APIKey: "k", Temperature: 0})

	raw, err := client.EncodeRequest("dev_finetune_1_lighting", "Prompt <b>&</b>\nline")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	var line openAIBatchLine
	if err := json.Unmarshal(raw, &line); err != nil {
		t.Fatalf("record is not valid JSON: %v", err)
	}
	if line.CustomID != "dev_finetune_1_lighting" {
		t.Errorf("CustomID = %q", line.CustomID)
	}
	if line.Method != "POST" || line.URL != "/v1/chat/completions" {
		t.Errorf("Method/URL = %s %s", line.Method, line.URL)
	}
	if line.Body.Model != "gpt-4.1-mini" {
		t.Errorf("Model = %q, want default", line.Body.Model)
	}
	if len(line.Body.Messages) != 1 || line.Body.Messages[0].Role != "system" {
		t.Fatalf("Messages = %+v, want one system message", line.Body.Messages)
	}
	if line.Body.Messages[0].Content != "Prompt <b>&</b>\nline" {
		t.Errorf("Content = %q", line.Body.Messages[0].Content)
	}
	for _, b := range raw {
		if b == '\n' {
			t.Fatal("record must be a single line")
		}
	}
}

func TestOpenAIBatchClient_DecodeResult(t *testing.T) {
	client := NewOpenAIBatchClient(Config{APIKey: "k"})

	tests := []struct {
		name       string
		line       string
		wantErr    bool
		wantFailed bool
		wantText   string
	}{
		{
			name:     "success",
			line:     `{"custom_id":"a","response":{"status_code":200,"body":{"choices":[{"message":{"content":"{\"x\":1}"}}]}}}`,
			wantText: `{"x":1}`,
		},
		{
			name:       "error line",
			line:       `{"custom_id":"a","response":null,"error":{"code":"batch_expired","message":"expired"}}`,
			wantFailed: true,
		},
		{
			name:       "non-200 response",
			line:       `{"custom_id":"a","response":{"status_code":400,"body":{"error":{"code":"bad","message":"nope"}}}}`,
			wantFailed: true,
		},
		{name: "invalid json", line: `{"custom_id":`, wantErr: true},
		{name: "missing custom_id", line: `{"response":{"status_code":200,"body":{}}}`, wantErr: true},
		{name: "no choices", line: `{"custom_id":"a","response":{"status_code":200,"body":{"choices":[]}}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := client.DecodeResult([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResult() error = %v", err)
			}
			if rec.Failed != tt.wantFailed {
				t.Errorf("Failed = %v, want %v", rec.Failed, tt.wantFailed)
			}
			if tt.wantFailed && rec.Error == "" {
				t.Error("expected error message on failed record")
			}
			if rec.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", rec.Text, tt.wantText)
			}
		})
	}
}

func TestCanonicalOpenAIStatus(t *testing.T) {
	tests := map[string]BatchStatus{
		"validating":  StatusPending,
		"in_progress": StatusRunning,
		"finalizing":  StatusRunning,
		"cancelling":  StatusRunning,
		"completed":   StatusCompleted,
		"failed":      StatusFailed,
		"expired":     StatusFailed,
		"cancelled":   StatusCancelled,
	}
	for in, want := range tests {
		if got := canonicalOpenAIStatus(in); got != want {
			t.Errorf("canonicalOpenAIStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestOpenAIBatchClient_Submit(t *testing.T) {
	t.Run("uploads then creates batch", func(t *testing.T) {
		var gotInputFile, gotPurpose string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/files":
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Errorf("ParseMultipartForm() error = %v", err)
				}
				gotPurpose = r.FormValue("purpose")
				json.NewEncoder(w).Encode(map[string]any{
					"id": "file-123", "object": "file", "purpose": "batch",
					"filename": "batch_1.jsonl", "bytes": 10, "created_at": 1700000000, "status": "processed",
				})
			case "/batches":
				var req map[string]any
				json.NewDecoder(r.Body).Decode(&req)
				gotInputFile, _ = req["input_file_id"].(string)
				json.NewEncoder(w).Encode(map[string]any{
					"id": "batch_abc", "object": "batch", "endpoint": "/v1/chat/completions",
					"input_file_id": "file-123", "completion_window": "24h",
					"status": "validating", "created_at": 1700000000,
				})
			default:
				t.Errorf("unexpected path: %s", r.URL.Path)
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		client := newTestOpenAIClient(server.URL)
		b, err := client.Submit(context.Background(), writeArtifact(t, `{"custom_id":"a"}`))
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if b.ID != "batch_abc" {
			t.Errorf("ID = %q", b.ID)
		}
		if b.Status != StatusPending {
			t.Errorf("Status = %s, want pending", b.Status)
		}
		if gotPurpose != "batch" {
			t.Errorf("purpose = %q, want batch", gotPurpose)
		}
		if gotInputFile != "file-123" {
			t.Errorf("input_file_id = %q", gotInputFile)
		}
	})

	t.Run("create is not retried", func(t *testing.T) {
		var creates atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/files":
				json.NewEncoder(w).Encode(map[string]any{"id": "file-1", "object": "file", "purpose": "batch"})
			case "/batches":
				creates.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"message":"boom"}}`))
			}
		}))
		defer server.Close()

		client := newTestOpenAIClient(server.URL)
		if _, err := client.Submit(context.Background(), writeArtifact(t, `{"custom_id":"a"}`)); err == nil {
			t.Fatal("expected error")
		}
		if creates.Load() != 1 {
			t.Errorf("batch create called %d times, want 1", creates.Load())
		}
	})

	t.Run("missing artifact", func(t *testing.T) {
		client := NewOpenAIBatchClient(Config{APIKey: "k"})
		if _, err := client.Submit(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestOpenAIBatchClient_ListBatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/batches" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %q, want 100", got)
		}
		if got := r.URL.Query().Get("after"); got != "batch_prev" {
			t.Errorf("after = %q, want batch_prev", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "batch_2", "object": "batch", "status": "completed", "output_file_id": "file-out", "created_at": 1700000100,
					"request_counts": map[string]int{"total": 3, "completed": 3, "failed": 0}},
				{"id": "batch_1", "object": "batch", "status": "in_progress", "created_at": 1700000000},
			},
			"first_id": "batch_2",
			"last_id":  "batch_1",
			"has_more": true,
		})
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)
	page, err := client.ListBatches(context.Background(), "batch_prev", 100)
	if err != nil {
		t.Fatalf("ListBatches() error = %v", err)
	}
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
	if len(page.Batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(page.Batches))
	}
	first := page.Batches[0]
	if first.Status != StatusCompleted || first.OutputFileID != "file-out" {
		t.Errorf("first batch = %+v", first)
	}
	if first.RequestCounts.Total != 3 {
		t.Errorf("RequestCounts.Total = %d, want 3", first.RequestCounts.Total)
	}
	if page.Batches[1].Status != StatusRunning {
		t.Errorf("second batch status = %s, want running", page.Batches[1].Status)
	}
}

func TestOpenAIBatchClient_FetchContentAndCancel(t *testing.T) {
	var cancelled atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/file-out/content":
			w.Write([]byte("line1\nline2\n"))
		case "/batches/batch_1/cancel":
			cancelled.Store(true)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"id": "batch_1", "object": "batch", "status": "cancelling"})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)
	data, err := client.FetchContent(context.Background(), "file-out")
	if err != nil {
		t.Fatalf("FetchContent() error = %v", err)
	}
	if string(data) != "line1\nline2\n" {
		t.Errorf("content = %q", data)
	}

	if err := client.Cancel(context.Background(), "batch_1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !cancelled.Load() {
		t.Error("cancel endpoint not called")
	}
}

func TestOpenAIBatchClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		msgs, _ := req["messages"].([]any)
		if len(msgs) != 1 {
			t.Errorf("got %d messages, want 1", len(msgs))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1700000000, "model": "gpt-4.1-mini",
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": "  sample  "},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	}))
	defer server.Close()

	client := newTestOpenAIClient(server.URL)
	result, err := client.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Text != "sample" {
		t.Errorf("Text = %q, want trimmed sample", result.Text)
	}
	if result.PromptTokens != 10 || result.CompletionTokens != 2 {
		t.Errorf("tokens = %d/%d", result.PromptTokens, result.CompletionTokens)
	}
}
