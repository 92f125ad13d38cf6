package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the tuner home directory.
	DefaultDirName = ".tuner"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// SecretsFileName holds provider credentials as KEY=value lines.
	SecretsFileName = "keys.env"

	// ArchiveFileName is the archive index kept next to each provider's request artifacts.
	ArchiveFileName = "archives.json"

	// SyncDirName is the samples subdirectory used by synchronous generation.
	SyncDirName = "sync"
)

// Dir represents the tuner home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.tuner).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// SecretsDir returns the directory holding credential files.
func (d *Dir) SecretsDir() string {
	return filepath.Join(d.path, "secrets")
}

// SecretsPath returns the path to the credentials file.
func (d *Dir) SecretsPath() string {
	return filepath.Join(d.SecretsDir(), SecretsFileName)
}

// PromptsDir returns the directory holding prompt templates.
func (d *Dir) PromptsDir() string {
	return filepath.Join(d.path, "prompts")
}

// DevicesDir returns the default directory of flattened device structures.
func (d *Dir) DevicesDir() string {
	return filepath.Join(d.path, "devices")
}

// RequestsDir returns the directory for a provider's batch request artifacts.
func (d *Dir) RequestsDir(provider string) string {
	return filepath.Join(d.path, "requests", provider)
}

// ArchivePath returns the archive index file for a provider.
func (d *Dir) ArchivePath(provider string) string {
	return filepath.Join(d.RequestsDir(provider), ArchiveFileName)
}

// SamplesDir returns the directory for a provider's downloaded results and samples.
func (d *Dir) SamplesDir(provider string) string {
	return filepath.Join(d.path, "samples", provider)
}

// SyncSamplesDir returns the directory for synchronously generated samples.
func (d *Dir) SyncSamplesDir() string {
	return d.SamplesDir(SyncDirName)
}

// ErrorsDir returns the directory structurally invalid sample files are moved to.
func (d *Dir) ErrorsDir() string {
	return filepath.Join(d.path, "errors")
}

// EnsureExists creates the home directory and its fixed subdirectories.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.SecretsDir(), d.PromptsDir(), d.DevicesDir(), d.ErrorsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureProviderDirs creates the request and sample directories for a provider.
func (d *Dir) EnsureProviderDirs(provider string) error {
	if err := os.MkdirAll(d.RequestsDir(provider), 0o755); err != nil {
		return fmt.Errorf("failed to create requests directory: %w", err)
	}
	if err := os.MkdirAll(d.SamplesDir(provider), 0o755); err != nil {
		return fmt.Errorf("failed to create samples directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// SecretsExist returns true if the credentials file exists.
func (d *Dir) SecretsExist() bool {
	_, err := os.Stat(d.SecretsPath())
	return err == nil
}
