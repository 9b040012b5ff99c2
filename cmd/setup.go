package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/whatsclaw/internal/config"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively create a config file for first-time setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(resolveConfigPath())
		},
	}
}

// runSetup walks a new deployment through the handful of fields that have
// no safe default: provider credentials, the WhatsApp bridge URL, and the
// allowlist of senders the agent will respond to.
func runSetup(configPath string) error {
	cfg := config.Default()

	var (
		provider        = cfg.Agent.Provider
		apiKey          string
		bridgeURL       string
		allowFrom       string
		dbDriver        = cfg.Database.Driver
		ratelimitMaxStr = strconv.Itoa(cfg.RateLimit.Max)
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("Gemini (OpenAI-compatible)", "gemini"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Provider API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("WhatsApp bridge WebSocket URL").
				Placeholder("ws://localhost:8765").
				Value(&bridgeURL),
			huh.NewInput().
				Title("Allowed sender numbers (comma-separated, blank = allow everyone)").
				Value(&allowFrom),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database backend").
				Options(
					huh.NewOption("SQLite (single file, default)", "sqlite"),
					huh.NewOption("Postgres (set WHATSCLAW_POSTGRES_DSN separately)", "postgres"),
				).
				Value(&dbDriver),
			huh.NewInput().
				Title("Rate limit: max messages per window per sender").
				Value(&ratelimitMaxStr),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup wizard: %w", err)
	}

	cfg.Agent.Provider = provider
	switch provider {
	case "openai":
		cfg.Providers.OpenAI.APIKey = apiKey
	case "openrouter":
		cfg.Providers.OpenRouter.APIKey = apiKey
	case "gemini":
		cfg.Providers.Gemini.APIKey = apiKey
	}

	cfg.Channel.BridgeURL = bridgeURL
	cfg.Channel.Enabled = bridgeURL != ""
	if allowFrom != "" {
		cfg.Channel.AllowFrom = splitAllowFrom(allowFrom)
	}

	cfg.Database.Driver = dbDriver
	if max, err := strconv.Atoi(ratelimitMaxStr); err == nil && max > 0 {
		cfg.RateLimit.Max = max
	}

	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("wrote %s\n", configPath)
	return nil
}

func splitAllowFrom(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
