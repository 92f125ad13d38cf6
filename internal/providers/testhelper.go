package providers

import (
	"os"
)

// TestConfig holds provider API keys loaded from environment variables.
// Live tests skip when a key is missing.
type TestConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// LoadTestConfig loads provider API keys from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
	}
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasAnthropic returns true if an Anthropic API key is configured.
func (c TestConfig) HasAnthropic() bool {
	return c.AnthropicAPIKey != ""
}

// NewOpenAIClient creates an OpenAI client from test config.
// Returns nil if not configured.
func (c TestConfig) NewOpenAIClient() *OpenAIBatchClient {
	if !c.HasOpenAI() {
		return nil
	}
	return NewOpenAIBatchClient(Config{Type: OpenAIName, APIKey: c.OpenAIAPIKey})
}

// NewAnthropicClient creates an Anthropic client from test config.
// Returns nil if not configured.
func (c TestConfig) NewAnthropicClient() *AnthropicBatchClient {
	if !c.HasAnthropic() {
		return nil
	}
	return NewAnthropicBatchClient(Config{
		Type:        AnthropicName,
		APIKey:      c.AnthropicAPIKey,
		Temperature: 1.0,
	})
}
