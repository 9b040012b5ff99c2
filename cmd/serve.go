package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/whatsclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/whatsclaw/internal/bus"
	"github.com/nextlevelbuilder/whatsclaw/internal/channels"
	"github.com/nextlevelbuilder/whatsclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/whatsclaw/internal/config"
	"github.com/nextlevelbuilder/whatsclaw/internal/contextbuilder"
	"github.com/nextlevelbuilder/whatsclaw/internal/dedup"
	"github.com/nextlevelbuilder/whatsclaw/internal/embeddings"
	"github.com/nextlevelbuilder/whatsclaw/internal/executor"
	"github.com/nextlevelbuilder/whatsclaw/internal/guardrails"
	"github.com/nextlevelbuilder/whatsclaw/internal/mcp"
	"github.com/nextlevelbuilder/whatsclaw/internal/memorymirror"
	"github.com/nextlevelbuilder/whatsclaw/internal/providers"
	"github.com/nextlevelbuilder/whatsclaw/internal/ratelimit"
	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
	"github.com/nextlevelbuilder/whatsclaw/internal/scheduler"
	"github.com/nextlevelbuilder/whatsclaw/internal/security"
	"github.com/nextlevelbuilder/whatsclaw/internal/sessions"
	"github.com/nextlevelbuilder/whatsclaw/internal/tasktracker"
	"github.com/nextlevelbuilder/whatsclaw/internal/tools"
	"github.com/nextlevelbuilder/whatsclaw/internal/tracing"

	"github.com/nextlevelbuilder/whatsclaw/internal/orchestrator"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WhatsApp agent: connect the bridge and process messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(resolveConfigPath())
		},
	}
}

// runServe wires every component (C1-C14) into the single live pipeline: a
// WhatsApp bridge connection feeds the message bus, dedup and rate-limit
// gate the inbound side, the orchestrator drives classification, context
// assembly, tool execution and guardrails, and the scheduler fires
// reminders back through the same bus.
func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.HasAnyProvider() {
		slog.Warn("no model provider configured; set WHATSCLAW_OPENAI_API_KEY or equivalent")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, vectorStore, err := buildRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	providerRegistry := buildProviderRegistry(cfg)
	chatProvider, err := providerRegistry.Get(cfg.Agent.Provider)
	if err != nil {
		return fmt.Errorf("resolve agent provider %q: %w", cfg.Agent.Provider, err)
	}

	embedder, isEmbedder := chatProvider.(providers.Embedder)
	if !isEmbedder {
		return fmt.Errorf("provider %q does not implement embeddings", chatProvider.Name())
	}

	tracker := tasktracker.New()
	var indexer *embeddings.Indexer
	if vectorStore != nil {
		indexer = embeddings.New(embedder, vectorStore, cfg.Agent.Model, tracker)
		indexer.Backfill(ctx, repo, 0)
	}

	msgBus := bus.NewMessageBus()

	dedupLedger := buildDedupLedger(cfg)
	rateLimiter := buildRateLimiter(cfg)

	toolRegistry := registerBuiltinTools(cfg, providerRegistry)

	if len(cfg.Tools.McpServers) > 0 {
		mcpManager := mcp.NewManager(toolRegistry, mcp.WithConfigs(cfg.Tools.McpServers))
		if err := mcpManager.Start(ctx); err != nil {
			slog.Warn("mcp manager start reported errors", "error", err)
		}
		defer mcpManager.Stop()
	}

	categoryIndex := tools.NewCategoryIndex()
	budget := cfg.Tools.Budget
	router := tools.NewRouter(categoryIndex, budget)
	classifier := tools.NewClassifier(categoryIndex, nil)

	policy, err := security.LoadPolicy(config.ExpandHome(cfg.Security.PolicyFile))
	if err != nil {
		return fmt.Errorf("load security policy: %w", err)
	}
	auditLog, err := security.NewAuditLog(config.ExpandHome(cfg.Security.AuditLogFile))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	secEngine := security.NewEngine(policy, auditLog)

	execConfig := executor.Config{
		MaxIterations: cfg.Agent.MaxToolIterations,
		Security: func(toolName string, argsJSON []byte) security.Decision {
			return secEngine.Evaluate(toolName, argsJSON)
		},
	}

	builder := contextbuilder.NewBuilder(contextbuilder.Config{
		MemorySimilarityThreshold: cfg.Context.MemorySimilarityThreshold,
		HistoryVerbatimCount:      cfg.Context.HistoryVerbatimCount,
		TokenBudget:               cfg.Context.TokenBudget,
	})

	guardrailPipeline := guardrails.NewPipeline(guardrails.Config{
		Enabled:       cfg.Guardrails.Enabled,
		LanguageCheck: cfg.Guardrails.LanguageCheck,
		PIICheck:      cfg.Guardrails.PIICheck,
		LLMChecks:     cfg.Guardrails.LLMChecks,
		LLMTimeout:    time.Duration(cfg.Guardrails.LLMTimeoutMillis) * time.Millisecond,
		MaxReplyChars: cfg.Guardrails.MaxReplyChars,
	})

	traceCfg := tracing.Config{SampleRate: 1.0}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "" {
		otlpSink, err := tracing.NewOTLPSink(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.Protocol == "http")
		if err != nil {
			slog.Warn("otlp trace export disabled", "error", err)
		} else {
			traceCfg.Sinks = append(traceCfg.Sinks, otlpSink)
			defer otlpSink.Shutdown(context.Background())
		}
	}
	recorder := tracing.NewRecorder(repo, traceCfg)

	var mirror *memorymirror.Mirror
	if cfg.Context.MemoryFileWatchEnabled && cfg.Context.MemoryMirrorDir != "" {
		mirrorDir := config.ExpandHome(cfg.Context.MemoryMirrorDir)
		if err := os.MkdirAll(mirrorDir, 0755); err != nil {
			slog.Warn("memory mirror directory unavailable, mirror disabled", "error", err)
		} else {
			mirror = memorymirror.New(repo, mirrorDir)
			if mirrorWatcher, err := memorymirror.NewWatcher(mirror, mirrorDir); err != nil {
				slog.Warn("memory mirror watcher disabled", "error", err)
			} else {
				defer mirrorWatcher.Close()
			}
		}
	}

	var memorySearcher orchestrator.MemorySearcher
	if indexer != nil {
		memorySearcher = indexer
	}

	bootstrapper := bootstrap.New(cfg.Agent.BootstrapAutoCleanupTurns)

	orch := orchestrator.New(orchestrator.Config{
		Repo:               repo,
		Embedder:           embedder,
		Memories:           memorySearcher,
		Classify:           classifier.Classify,
		Registry:           toolRegistry,
		ToolRouter:         router,
		Provider:           chatProvider,
		Model:              cfg.Agent.Model,
		Builder:            builder,
		Guardrails:         guardrailPipeline,
		Recorder:           recorder,
		Tracker:            tracker,
		Bus:                msgBus,
		Bootstrapper:       bootstrapper,
		MemoryTopK:         cfg.Context.SemanticSearchTopK,
		MemoryThreshold:    cfg.Context.MemorySimilarityThreshold,
		HistoryVerbatimN:   cfg.Context.HistoryVerbatimCount,
		SummarizeThreshold: cfg.Context.SummaryThreshold,
		ExecutorConfig:     execConfig,
		AgentMaxReplans:    cfg.Agent.AgentMaxReplans,
		AgentMaxIterations: cfg.Agent.AgentMaxIterations,
		AgentToolBudget:    cfg.Agent.AgentToolsPerRound,
		AgentHITLTimeout:   time.Duration(cfg.Security.HITLTimeoutSec) * time.Second,
		AgentJournalDir:    config.ExpandHome(cfg.Sessions.Storage),
	})

	channelManager := channels.NewManager(msgBus)
	if cfg.Channel.Enabled {
		waChannel, err := whatsapp.New(cfg.Channel, msgBus)
		if err != nil {
			return fmt.Errorf("configure whatsapp channel: %w", err)
		}
		channelManager.RegisterChannel("whatsapp", waChannel)
	}
	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer channelManager.StopAll(ctx)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(schedulerStore{repo: repo}, func(dispatchCtx context.Context, job scheduler.Job) error {
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: "whatsapp",
				ChatID:  job.Principal,
				Content: job.Payload,
			})
			return nil
		}, time.Second)
		go func() {
			if err := sched.Start(ctx); err != nil {
				slog.Error("scheduler stopped", "error", err)
			}
		}()
	}

	go runInboundLoop(ctx, msgBus, dedupLedger, rateLimiter, orch, mirror)

	slog.Info("whatsclaw serving", "channel_enabled", cfg.Channel.Enabled, "scheduler_enabled", cfg.Scheduler.Enabled)
	<-ctx.Done()
	slog.Info("shutting down")
	tracker.Shutdown(10 * time.Second)
	return nil
}

// runInboundLoop is C1 (dedup) and C3 (rate limit) gating the critical
// path: only a claimed, accepted message reaches the orchestrator.
func runInboundLoop(ctx context.Context, msgBus *bus.MessageBus, ledger dedup.Ledger, limiter *ratelimit.Limiter, orch *orchestrator.Orchestrator, mirror *memorymirror.Mirror) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		providerID := msg.Metadata["provider_message_id"]
		if providerID == "" {
			providerID = msg.Channel + ":" + msg.ChatID + ":" + msg.SenderID + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
		}
		outcome, err := ledger.Claim(ctx, providerID)
		if err != nil {
			slog.Error("dedup claim failed", "error", err)
			continue
		}
		if outcome == dedup.AlreadySeen {
			slog.Debug("dropping duplicate inbound message", "provider_message_id", providerID)
			continue
		}

		principal := msg.UserID
		if principal == "" {
			principal = msg.SenderID
		}
		if limiter.Allow(principal) == ratelimit.Rejected {
			slog.Warn("rate limit rejected inbound message", "principal", principal)
			continue
		}

		if msg.SessionKey == "" {
			agentID := msg.AgentID
			if agentID == "" {
				agentID = "default"
			}
			kind := sessions.PeerDirect
			if msg.PeerKind == string(sessions.PeerGroup) {
				kind = sessions.PeerGroup
			}
			msg.SessionKey = sessions.BuildSessionKey(agentID, msg.Channel, kind, msg.ChatID)
		}

		go func(m bus.InboundMessage) {
			if err := orch.HandleInbound(ctx, m); err != nil {
				slog.Error("handle inbound failed", "error", err)
				return
			}
			if mirror != nil {
				if err := mirror.Render(ctx, principal); err != nil {
					slog.Warn("memory mirror render failed", "principal", principal, "error", err)
				}
			}
		}(msg)
	}
}

func buildRepository(ctx context.Context, cfg *config.Config) (repository.Repository, repository.VectorIndex, error) {
	var vectorStore repository.VectorIndex
	qdrantDSN := os.Getenv("WHATSCLAW_QDRANT_URL")
	if qdrantDSN != "" {
		qstore, err := embeddings.NewQdrantStore(ctx, qdrantDSN, 1536)
		if err != nil {
			return nil, nil, fmt.Errorf("connect qdrant: %w", err)
		}
		vectorStore = qstore
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("database.driver=postgres requires WHATSCLAW_POSTGRES_DSN")
		}
		repo, err := repository.NewPostgresRepository(ctx, cfg.Database.PostgresDSN, vectorStore)
		if err != nil {
			return nil, nil, err
		}
		return repo, vectorStore, nil
	}

	path := config.ExpandHome(cfg.Database.SQLitePath)
	repo, err := repository.NewSQLiteRepository(ctx, path, vectorStore)
	if err != nil {
		return nil, nil, err
	}
	return repo, vectorStore, nil
}

func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	reg := providers.NewRegistry()
	if cfg.Providers.OpenAI.APIKey != "" || cfg.Agent.Provider == "openai" {
		reg.Register("openai", providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Agent.Model))
	}
	if cfg.Providers.OpenRouter.APIKey != "" {
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		reg.Register("openrouter", providers.NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey, base, cfg.Agent.Model))
	}
	if cfg.Providers.Gemini.APIKey != "" {
		base := cfg.Providers.Gemini.APIBase
		if base == "" {
			base = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		reg.Register("gemini", providers.NewOpenAIProvider("gemini", cfg.Providers.Gemini.APIKey, base, cfg.Agent.Model))
	}
	return reg
}

// buildDedupLedger prefers Redis (shared across restarts/replicas); a
// single-instance deployment with no REDIS_URL falls back to the
// in-process ledger, which is correct as long as only one process runs.
func buildDedupLedger(cfg *config.Config) dedup.Ledger {
	if addr := os.Getenv("WHATSCLAW_REDIS_URL"); addr != "" {
		opts, err := redis.ParseURL(addr)
		if err == nil {
			client := redis.NewClient(opts)
			return dedup.NewRedisLedger(client, "whatsclaw:dedup:")
		}
		slog.Error("invalid WHATSCLAW_REDIS_URL, falling back to in-process dedup ledger", "error", err)
	}
	return dedup.NewMemLedger()
}

func buildRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	window, err := time.ParseDuration(cfg.RateLimit.Window)
	if err != nil || window <= 0 {
		window = time.Minute
	}
	max := cfg.RateLimit.Max
	if max <= 0 {
		max = 20
	}
	return ratelimit.New(window, max)
}

// registerBuiltinTools instantiates the fixed built-in tool set against
// this deployment's workspace and provider registry.
func registerBuiltinTools(cfg *config.Config, providerRegistry *providers.Registry) *tools.Registry {
	reg := tools.NewRegistry()
	workspace := cfg.WorkspacePath()
	restrict := cfg.Agent.RestrictToWorkspace

	reg.Register(tools.NewReadFileTool(workspace, restrict))
	reg.Register(tools.NewExecTool(workspace, restrict))
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
	reg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:     cfg.Tools.Web.Brave.APIKey,
		BraveEnabled:    cfg.Tools.Web.Brave.Enabled,
		BraveMaxResults: cfg.Tools.Web.Brave.MaxResults,
		DDGEnabled:      cfg.Tools.Web.DuckDuckGo.Enabled,
		DDGMaxResults:   cfg.Tools.Web.DuckDuckGo.MaxResults,
	}))
	reg.Register(tools.NewReadImageTool(providerRegistry))
	reg.Register(tools.NewCreateImageTool(providerRegistry))
	return reg
}

// schedulerStore adapts the repository's cron-job persistence to the
// scheduler's narrower Store interface. The repository's CronJob model
// only durably tracks recurring (expression-based) reminders; Save ignores
// one-shot jobs, so they don't survive a restart. MarkInactive deletes the
// cron-job row.
type schedulerStore struct {
	repo repository.Repository
}

func (s schedulerStore) Save(ctx context.Context, job scheduler.Job) error {
	if job.Kind != scheduler.KindRecurring {
		return nil
	}
	_, err := s.repo.SaveCronJob(ctx, &repository.CronJob{
		ID:         job.ID,
		Principal:  job.Principal,
		Expression: job.CronExpr,
		Message:    job.Payload,
		Active:     job.State != scheduler.StateExhausted,
	})
	return err
}

func (s schedulerStore) ListActive(ctx context.Context) ([]scheduler.Job, error) {
	rows, err := s.repo.ListActiveCronJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]scheduler.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, scheduler.Job{
			ID:        r.ID,
			Principal: r.Principal,
			Kind:      scheduler.KindRecurring,
			CronExpr:  r.Expression,
			Payload:   r.Message,
			State:     scheduler.StateScheduled,
		})
	}
	return out, nil
}

func (s schedulerStore) MarkInactive(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteCronJob(ctx, id)
}
