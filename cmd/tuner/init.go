package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tuner/internal/config"
	"github.com/jackzampolin/tuner/internal/output"
	"github.com/jackzampolin/tuner/internal/prompts"
)

var initForce bool

const secretsTemplate = `# API keys referenced from config.yaml as ${NAME}
OPENAI_API_KEY_BATCH=
ANTHROPIC_API_KEY_BATCH=
`

type initResult struct {
	Home          string   `json:"home" yaml:"home"`
	Config        string   `json:"config" yaml:"config"`
	ConfigWritten bool     `json:"config_written" yaml:"config_written"`
	Secrets       string   `json:"secrets" yaml:"secrets"`
	SecretsSeeded bool     `json:"secrets_seeded" yaml:"secrets_seeded"`
	Prompts       []string `json:"prompts_seeded" yaml:"prompts_seeded"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the home directory, default config and prompt templates",
	Long: `Create the tuner home directory layout:

  config.yaml        default configuration (kept unless --force)
  secrets/keys.env   API keys, loaded into the environment on every run
  prompts/           default prompt templates (existing files are kept)
  devices/           flattened device-structure files to generate from
  errors/            invalid sample files moved by "samples check"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		h := s.Home

		if err := h.EnsureExists(); err != nil {
			return err
		}
		res := initResult{Home: h.Path(), Config: h.ConfigPath(), Secrets: h.SecretsPath()}

		if initForce || !h.ConfigExists() {
			if err := config.WriteDefault(h.ConfigPath()); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			res.ConfigWritten = true
		}

		if !h.SecretsExist() {
			if err := os.WriteFile(h.SecretsPath(), []byte(secretsTemplate), 0o600); err != nil {
				return fmt.Errorf("failed to write secrets template: %w", err)
			}
			res.SecretsSeeded = true
		}

		seeded, err := prompts.SeedDefaults(h.PromptsDir())
		if err != nil {
			return err
		}
		res.Prompts = seeded

		s.Logger.Info("home initialized", "path", h.Path(), "config_written", res.ConfigWritten, "prompts", len(seeded))
		return output.Print(res)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config.yaml")
}
