package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the chat agent. One principal set,
// one WhatsApp channel, one agent — the single-instance assumption runs
// through every section below.
type Config struct {
	Agent      AgentConfig      `json:"agent"`
	Channel    WhatsAppConfig   `json:"channel"`
	Providers  ProvidersConfig  `json:"providers"`
	Tools      ToolsConfig      `json:"tools"`
	Sessions   SessionsConfig   `json:"sessions"`
	Context    ContextConfig    `json:"context"`
	Guardrails GuardrailsConfig `json:"guardrails"`
	Security   SecurityConfig   `json:"security"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Database   DatabaseConfig   `json:"database,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	mu         sync.RWMutex
}

// DatabaseConfig configures the Postgres/SQLite repository backend.
// PostgresDSN is NEVER read from config.json (secret) — only from env.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`              // from env WHATSCLAW_POSTGRES_DSN only
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// AgentConfig holds the single agent's model/runtime settings.
type AgentConfig struct {
	Workspace           string  `json:"workspace"`
	RestrictToWorkspace bool    `json:"restrict_to_workspace"`
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	MaxTokens           int     `json:"max_tokens"`
	Temperature         float64 `json:"temperature"`
	MaxToolIterations   int     `json:"max_tool_iterations"`
	ContextWindow       int     `json:"context_window"`

	// Agent Outer Loop (C12).
	AgentMaxIterations  int `json:"agent_max_iterations"`
	AgentToolsPerRound  int `json:"agent_tools_per_round"`
	AgentMaxReplans     int `json:"agent_max_replans"`
	AgentWriteEnabled   bool `json:"agent_write_enabled"`

	// BootstrapAutoCleanupTurns bounds how many turns a new principal's
	// onboarding note stays in the context before it's dropped.
	BootstrapAutoCleanupTurns int `json:"bootstrap_auto_cleanup_turns"`

	Vision   *VisionConfig   `json:"vision,omitempty"`
	ImageGen *ImageGenConfig `json:"image_gen,omitempty"`
}

// ContextConfig controls the Context Builder (C10) and the windowing/
// summarisation thresholds the orchestrator (C11) consults.
type ContextConfig struct {
	ConversationMaxMessages  int     `json:"conversation_max_messages"`
	SummaryThreshold         int     `json:"summary_threshold"`
	HistoryVerbatimCount     int     `json:"history_verbatim_count"`
	SemanticSearchTopK       int     `json:"semantic_search_top_k"`
	MemorySimilarityThreshold float64 `json:"memory_similarity_threshold"`
	TokenBudget              int     `json:"token_budget"`
	MemoryFlushEnabled       bool    `json:"memory_flush_enabled"`
	MemoryFileWatchEnabled   bool    `json:"memory_file_watch_enabled"`
	MemoryMirrorDir          string  `json:"memory_mirror_dir"`
	ProjectsRoot             string  `json:"projects_root"`
}

// GuardrailsConfig controls the pre-delivery reply validation pipeline (C9).
type GuardrailsConfig struct {
	Enabled          bool   `json:"enabled"`
	LanguageCheck    bool   `json:"language_check"`
	PIICheck         bool   `json:"pii_check"`
	LLMChecks        bool   `json:"llm_checks"`
	LLMTimeoutMillis int    `json:"llm_timeout_ms"`
	MaxReplyChars    int    `json:"max_reply_chars"`
}

// SecurityConfig controls the policy engine and audit trail (C13).
type SecurityConfig struct {
	PolicyFile        string   `json:"policy_file"`
	AuditLogFile      string   `json:"audit_log_file"`
	ShellAllowlist    []string `json:"shell_allowlist,omitempty"`
	HITLTimeoutSec    int      `json:"hitl_timeout_sec"`
}

// SchedulerConfig controls the in-process cron/one-shot dispatcher (C14).
type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	RegistryFile  string `json:"registry_file"`
	MaxRetries    int    `json:"max_retries,omitempty"`
	RetryBaseDelay string `json:"retry_base_delay,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// RateLimitConfig controls the per-principal token bucket (C3).
type RateLimitConfig struct {
	Window string `json:"window"` // Go duration string, e.g. "1m"
	Max    int    `json:"max"`
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend in
// addition to the repository sink.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	SampleRate  float64           `json:"sample_rate,omitempty"`
	RetentionDays int             `json:"retention_days,omitempty"`
	Websocket   WebsocketSinkConfig `json:"websocket,omitempty"`
}

// WebsocketSinkConfig holds settings for a live trace-stream sink pushed
// to a connected eval UI. Nothing in serve reads it; no websocket sink is
// started.
type WebsocketSinkConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Channel = src.Channel
	c.Providers = src.Providers
	c.Tools = src.Tools
	c.Sessions = src.Sessions
	c.Context = src.Context
	c.Guardrails = src.Guardrails
	c.Security = src.Security
	c.Scheduler = src.Scheduler
	c.RateLimit = src.RateLimit
	c.Database = src.Database
	c.Telemetry = src.Telemetry
}
