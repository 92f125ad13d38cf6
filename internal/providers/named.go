package providers

import (
	"context"
	"encoding/json"
)

// RegistryClient resolves a named provider from a Registry on every call,
// so long-running loops pick up clients replaced by Reload.
type RegistryClient struct {
	registry *Registry
	name     string
}

// NewRegistryClient returns a client bound to name in r.
func NewRegistryClient(r *Registry, name string) *RegistryClient {
	return &RegistryClient{registry: r, name: name}
}

func (c *RegistryClient) current() (Client, error) {
	return c.registry.Get(c.name)
}

// Name returns the configured provider name.
func (c *RegistryClient) Name() string {
	return c.name
}

// MaxBatchRequests returns the current client's threshold, or 0 when it is gone.
func (c *RegistryClient) MaxBatchRequests() int {
	client, err := c.current()
	if err != nil {
		return 0
	}
	return client.MaxBatchRequests()
}

func (c *RegistryClient) EncodeRequest(customID, prompt string) (json.RawMessage, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	return client.EncodeRequest(customID, prompt)
}

func (c *RegistryClient) Submit(ctx context.Context, artifactPath string) (*Batch, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	return client.Submit(ctx, artifactPath)
}

func (c *RegistryClient) ListBatches(ctx context.Context, after string, limit int) (*BatchPage, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	return client.ListBatches(ctx, after, limit)
}

func (c *RegistryClient) Cancel(ctx context.Context, batchID string) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	return client.Cancel(ctx, batchID)
}

func (c *RegistryClient) FetchContent(ctx context.Context, fileID string) ([]byte, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	return client.FetchContent(ctx, fileID)
}

func (c *RegistryClient) DecodeResult(line []byte) (*ResultRecord, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	return client.DecodeResult(line)
}

func (c *RegistryClient) Complete(ctx context.Context, prompt string) (*Completion, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	return client.Complete(ctx, prompt)
}

var _ Client = (*RegistryClient)(nil)
