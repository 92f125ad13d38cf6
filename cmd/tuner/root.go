package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tuner/internal/config"
	"github.com/jackzampolin/tuner/internal/home"
	"github.com/jackzampolin/tuner/internal/output"
	"github.com/jackzampolin/tuner/internal/providers"
	"github.com/jackzampolin/tuner/internal/svcctx"
	"github.com/jackzampolin/tuner/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "tuner",
	Short: "Fine-tuning sample generation through provider batch APIs",
	Long: `Tuner turns flattened smart-home device structures into instruction-tuning
samples using a hosted language model.

The workflow:
  - tuner submit           build requests and submit them as provider batches
  - tuner batches process  download completed batches and extract samples
  - tuner samples check    validate the extracted corpus
  - tuner samples combine  merge samples into one file per sample type

Use tuner generate for small synchronous runs that skip batching.`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.tuner/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "tuner home directory (default: ~/.tuner)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or table",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.PersistentPreRunE = setupServices

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(samplesCmd)
}

// setupServices builds the logger, home, config and provider registry once per run.
func setupServices(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	output.SetFormat(format)

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	h, err := home.New(homeDir)
	if err != nil {
		return err
	}

	// Secrets must be in the environment before ${VAR} references are resolved.
	if err := config.LoadSecrets(h.SecretsPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cm, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return err
	}
	cm.SetLogger(logger)

	registry := providers.NewRegistryFromConfig(cm.Get().ToProviderRegistryConfig())
	registry.SetLogger(logger)

	logger.Debug("services ready", "home", h.Path(), "config", cm.ConfigFile(), "providers", registry.List())

	cmd.SetContext(svcctx.WithServices(cmd.Context(), &svcctx.Services{
		Config:   cm,
		Home:     h,
		Registry: registry,
		Logger:   logger,
	}))
	return nil
}

// services returns the run's services; setupServices always ran first.
func services(cmd *cobra.Command) *svcctx.Services {
	s := svcctx.ServicesFrom(cmd.Context())
	if s == nil {
		panic("services not initialized")
	}
	return s
}

// providerClient returns the collection-path client of a provider.
func providerClient(s *svcctx.Services, name string) (providers.Client, error) {
	if name == "" {
		name = s.Config.Get().Defaults.Provider
	}
	client, err := s.Registry.Get(name)
	if err == nil {
		return client, nil
	}

	if _, ok := s.Config.Get().GetProvider(name); !ok {
		return nil, fmt.Errorf("unknown provider %q (configured: %s)", name, strings.Join(s.Config.Get().ProviderNames(), ", "))
	}
	if !s.Home.SecretsExist() {
		return nil, fmt.Errorf("%w: provider %s has no API key and %s does not exist", config.ErrMissingCredential, name, s.Home.SecretsPath())
	}
	return nil, fmt.Errorf("%w: provider %s is disabled or its API key is empty", config.ErrMissingCredential, name)
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
