package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackzampolin/tuner/internal/providers"
)

var (
	// ErrUnknownSampleType is returned when a requested sample type has no configuration.
	ErrUnknownSampleType = errors.New("unknown sample type")

	// ErrMissingCredential is returned when a sample type resolves to an empty API key.
	ErrMissingCredential = errors.New("missing credential")
)

// Config holds tuner configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Providers   map[string]ProviderCfg   `mapstructure:"providers" yaml:"providers"`
	SampleTypes map[string]SampleTypeCfg `mapstructure:"sample_types" yaml:"sample_types"`
	Defaults    DefaultsCfg              `mapstructure:"defaults" yaml:"defaults"`
}

// ProviderCfg configures a batch provider.
type ProviderCfg struct {
	Type             string   `mapstructure:"type" yaml:"type"`                                         // "openai", "anthropic"
	APIKey           string   `mapstructure:"api_key" yaml:"api_key"`                                   // API key (supports ${ENV_VAR} syntax)
	BaseURL          string   `mapstructure:"base_url" yaml:"base_url,omitempty"`                       // Optional endpoint override
	Model            string   `mapstructure:"model" yaml:"model"`                                       // Generation model
	Temperature      *float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`                 // Unset uses the provider default
	MaxTokens        int      `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`                   // Completion budget
	Endpoint         string   `mapstructure:"endpoint" yaml:"endpoint,omitempty"`                       // OpenAI batch endpoint
	CompletionWindow string   `mapstructure:"completion_window" yaml:"completion_window,omitempty"`     // OpenAI completion window
	MaxBatchRequests int      `mapstructure:"max_batch_requests" yaml:"max_batch_requests"`             // Requests per submitted batch
	MaxRetries       int      `mapstructure:"max_retries" yaml:"max_retries,omitempty"`                 // Retries for idempotent calls
	TimeoutSeconds   int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty"`         // HTTP timeout
	Enabled          bool     `mapstructure:"enabled" yaml:"enabled"`
}

// SampleTypeCfg configures one sample type.
type SampleTypeCfg struct {
	Provider string `mapstructure:"provider" yaml:"provider,omitempty"` // Provider name; defaults.provider when empty
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`   // Per-type credential override
	Template string `mapstructure:"template" yaml:"template,omitempty"` // Template stem; the type tag when empty
	Generic  bool   `mapstructure:"generic" yaml:"generic,omitempty"`   // One placeholder request, no device text
}

// DefaultsCfg specifies default selections.
type DefaultsCfg struct {
	Provider            string   `mapstructure:"provider" yaml:"provider"`
	SampleTypes         []string `mapstructure:"sample_types" yaml:"sample_types"`
	DocumentsPerRequest int      `mapstructure:"documents_per_request" yaml:"documents_per_request"`
	DocumentSeparator   string   `mapstructure:"document_separator" yaml:"document_separator"`
	PollInterval        string   `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"openai": {
				Type:             providers.OpenAIName,
				APIKey:           "${OPENAI_API_KEY_BATCH}",
				Model:            "gpt-4.1-mini",
				Temperature:      float(0),
				Endpoint:         "/v1/chat/completions",
				CompletionWindow: "24h",
				MaxBatchRequests: 900,
				MaxRetries:       3,
				TimeoutSeconds:   300,
				Enabled:          true,
			},
			"anthropic": {
				Type:             providers.AnthropicName,
				APIKey:           "${ANTHROPIC_API_KEY_BATCH}",
				Model:            "claude-3-5-haiku-20241022",
				Temperature:      float(1.0),
				MaxTokens:        4096,
				MaxBatchRequests: 10000,
				MaxRetries:       3,
				TimeoutSeconds:   300,
				Enabled:          true,
			},
		},
		SampleTypes: map[string]SampleTypeCfg{
			"properties": {Template: "properties"},
			"commands":   {Template: "commands"},
			"routines":   {Template: "routines"},
			"nucore":     {Template: "nucore", Generic: true},
		},
		Defaults: DefaultsCfg{
			Provider:            "openai",
			SampleTypes:         []string{"properties", "commands"},
			DocumentsPerRequest: 3,
			DocumentSeparator:   "---",
			PollInterval:        "10m",
		},
	}
}

func float(v float64) *float64 { return &v }

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// PollEvery returns the configured poll interval, falling back to ten minutes.
func (c *Config) PollEvery() time.Duration {
	d, err := time.ParseDuration(c.Defaults.PollInterval)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// DocumentsPerRequest returns how many documents go into one request.
func (c *Config) DocumentsPerRequest() int {
	if c.Defaults.DocumentsPerRequest <= 0 {
		return 3
	}
	return c.Defaults.DocumentsPerRequest
}

// SampleType is a sample type resolved against its provider.
type SampleType struct {
	Name         string
	Template     string
	Generic      bool
	ProviderName string
	Provider     providers.Config
}

// ResolveSampleType maps a type tag to its provider client config.
// The per-type api_key wins over the provider's.
func (c *Config) ResolveSampleType(name, providerOverride string) (SampleType, error) {
	st, ok := c.SampleTypes[name]
	if !ok {
		return SampleType{}, fmt.Errorf("%w: %s", ErrUnknownSampleType, name)
	}

	provName := providerOverride
	if provName == "" {
		provName = st.Provider
	}
	if provName == "" {
		provName = c.Defaults.Provider
	}
	pc, ok := c.Providers[provName]
	if !ok {
		return SampleType{}, fmt.Errorf("sample type %s: unknown provider %q", name, provName)
	}
	if !pc.Enabled {
		return SampleType{}, fmt.Errorf("sample type %s: provider %q is disabled", name, provName)
	}

	clientCfg := pc.ClientConfig(provName)
	if key := ResolveEnvVars(st.APIKey); key != "" {
		clientCfg.APIKey = key
	}
	if clientCfg.APIKey == "" {
		return SampleType{}, fmt.Errorf("%w: sample type %s on provider %s", ErrMissingCredential, name, provName)
	}

	template := st.Template
	if template == "" {
		template = name
	}
	return SampleType{
		Name:         name,
		Template:     template,
		Generic:      st.Generic,
		ProviderName: provName,
		Provider:     clientCfg,
	}, nil
}

// Validate resolves every requested type and reports all failures together.
func (c *Config) Validate(types []string, providerOverride string) ([]SampleType, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("no sample types requested")
	}
	var (
		resolved []SampleType
		errs     []error
	)
	for _, name := range types {
		st, err := c.ResolveSampleType(name, providerOverride)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved = append(resolved, st)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return resolved, nil
}

// ClientConfig converts a provider entry into a client config with a resolved API key.
func (p ProviderCfg) ClientConfig(name string) providers.Config {
	typ := p.Type
	if typ == "" {
		typ = name
	}
	cfg := providers.Config{
		Type:             typ,
		APIKey:           ResolveEnvVars(p.APIKey),
		BaseURL:          p.BaseURL,
		Model:            p.Model,
		MaxTokens:        p.MaxTokens,
		Endpoint:         p.Endpoint,
		CompletionWindow: p.CompletionWindow,
		MaxBatchRequests: p.MaxBatchRequests,
		MaxRetries:       p.MaxRetries,
		Timeout:          time.Duration(p.TimeoutSeconds) * time.Second,
	}
	switch {
	case p.Temperature != nil:
		cfg.Temperature = *p.Temperature
	case typ == providers.AnthropicName:
		cfg.Temperature = 1.0
	}
	return cfg
}

// ToProviderRegistryConfig converts enabled providers to a providers.RegistryConfig.
// These clients carry the provider-level credential and serve the collection path.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{Providers: make(map[string]providers.Config)}
	for name, p := range c.EnabledProviders() {
		cfg.Providers[name] = p.ClientConfig(name)
	}
	return cfg
}

// SampleTypeNames returns configured sample types in sorted order.
func (c *Config) SampleTypeNames() []string {
	names := make([]string, 0, len(c.SampleTypes))
	for name := range c.SampleTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderNames returns configured providers in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
