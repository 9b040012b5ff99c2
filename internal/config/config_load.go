package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults for a single-instance
// deployment.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:           "~/.whatsclaw/workspace",
			RestrictToWorkspace: true,
			Provider:            "openai",
			Model:               "gpt-4.1-mini",
			MaxTokens:           4096,
			Temperature:         0.7,
			MaxToolIterations:   5,
			ContextWindow:       128000,
			AgentMaxIterations:  15,
			AgentToolsPerRound:  8,
			AgentMaxReplans:     3,
			BootstrapAutoCleanupTurns: 3,
		},
		Channel: WhatsAppConfig{
			DMPolicy:    "allowlist",
			GroupPolicy: "disabled",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Budget: 8,
		},
		Sessions: SessionsConfig{
			Storage: "~/.whatsclaw/sessions",
		},
		Context: ContextConfig{
			ConversationMaxMessages:   500,
			SummaryThreshold:          40,
			HistoryVerbatimCount:      12,
			SemanticSearchTopK:        5,
			MemorySimilarityThreshold: 0.75,
			TokenBudget:               6000,
			MemoryFlushEnabled:        true,
			MemoryFileWatchEnabled:    true,
			MemoryMirrorDir:           "~/.whatsclaw/memory",
			ProjectsRoot:              "~/.whatsclaw/projects",
		},
		Guardrails: GuardrailsConfig{
			Enabled:          true,
			LanguageCheck:    true,
			PIICheck:         true,
			LLMChecks:        false,
			LLMTimeoutMillis: 3000,
			MaxReplyChars:    8000,
		},
		Security: SecurityConfig{
			PolicyFile:     "~/.whatsclaw/policy.yaml",
			AuditLogFile:   "~/.whatsclaw/audit.jsonl",
			HITLTimeoutSec: 300,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			RegistryFile:   "~/.whatsclaw/crons.json",
			MaxRetries:     3,
			RetryBaseDelay: "2s",
			RetryMaxDelay:  "30s",
		},
		RateLimit: RateLimitConfig{
			Window: "1m",
			Max:    20,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.whatsclaw/whatsclaw.db",
		},
	}
}

// Load reads config from a JSON/JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values. The Postgres DSN has no JSON field and is
// read only from env; provider API keys may come from either.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("WHATSCLAW_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("WHATSCLAW_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("WHATSCLAW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("WHATSCLAW_OPENAI_BASE_URL", &c.Providers.OpenAI.APIBase)
	envStr("WHATSCLAW_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("WHATSCLAW_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)

	envStr("WHATSCLAW_WHATSAPP_BRIDGE_URL", &c.Channel.BridgeURL)

	envStr("WHATSCLAW_PROVIDER", &c.Agent.Provider)
	envStr("WHATSCLAW_MODEL", &c.Agent.Model)
	envStr("WHATSCLAW_WORKSPACE", &c.Agent.Workspace)
	envStr("WHATSCLAW_SESSIONS_STORAGE", &c.Sessions.Storage)

	envStr("WHATSCLAW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("WHATSCLAW_DB_DRIVER", &c.Database.Driver)
	envStr("WHATSCLAW_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("WHATSCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("WHATSCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("WHATSCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("WHATSCLAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("WHATSCLAW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("WHATSCLAW_ALLOW_FROM"); v != "" {
		c.Channel.AllowFrom = strings.Split(v, ",")
	}

	if v := os.Getenv("WHATSCLAW_WHATSAPP_ENABLED"); v != "" {
		c.Channel.Enabled = v == "true" || v == "1"
	} else if c.Channel.BridgeURL != "" {
		c.Channel.Enabled = true
	}

	if v := os.Getenv("WHATSCLAW_MAX_TOOL_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxToolIterations = n
		}
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after modifying config to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
