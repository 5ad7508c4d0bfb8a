// Package app is the composition root: it wires config, the LLM
// router, every domain/service component, and the infrastructure
// implementations of each domain/repository interface into one Engine
// the CLI, HTTP, and TUI surfaces all share. Grounded on the teacher's
// own cmd/bot wiring shape (construct every dependency once in main,
// inject it down), generalized from a single Telegram bot to the
// engine's wider dependency graph.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benderhq/engine/internal/domain/entity"
	"github.com/benderhq/engine/internal/domain/repository"
	"github.com/benderhq/engine/internal/domain/service"
	"github.com/benderhq/engine/internal/infrastructure/config"
	"github.com/benderhq/engine/internal/infrastructure/llm"
	_ "github.com/benderhq/engine/internal/infrastructure/llm/providera"
	_ "github.com/benderhq/engine/internal/infrastructure/llm/providerb"
	"github.com/benderhq/engine/internal/infrastructure/logwatcher"
	"github.com/benderhq/engine/internal/infrastructure/session"
	"github.com/benderhq/engine/internal/infrastructure/state"
	"github.com/benderhq/engine/internal/infrastructure/vcs"
	"go.uber.org/zap"
)

// Engine bundles every long-lived component a CLI/HTTP/TUI surface
// needs, already wired against the current Config.
type Engine struct {
	Config    *config.Config
	Logger    *zap.Logger
	Router    *llm.Router
	VCS       repository.VCS
	States    repository.StateRepository
	Audit     repository.AuditStore
	Workers   *service.WorkerManager
	Clarifier *service.TaskClarifier
	Console   *service.ConsoleRecovery
	Recovery  *service.RecoveryManager
	Analyzer  *service.ResponseAnalyzer
	Enforcer  *service.TaskEnforcer
	Supervisor *service.Supervisor
	ReviewLoop *service.ReviewLoopManager

	namespace string
}

// New builds a fully wired Engine from cfg. namespace scopes
// multiplexer session names and stash labels so multiple engines can
// coexist against the same git working tree or tmux server.
func New(cfg *config.Config, logger *zap.Logger, namespace string) (*Engine, error) {
	router := llm.NewRouter(logger)
	if err := wireProviders(router, cfg, logger); err != nil {
		return nil, fmt.Errorf("wire llm providers: %w", err)
	}

	gitVCS := vcs.New(30*time.Second, logger)

	stateDir := cfg.Paths.StateDir
	states := state.NewFileRepository(stateDir, logger)

	auditPath := filepath.Join(cfg.Paths.StateDir, "audit.db")
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	audit, err := state.NewAuditStore(auditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	watcher := logwatcher.New(router, logger)

	policies := map[entity.WorkerTier]service.TierPolicy{
		entity.TierSimple:  {PollIntervalMultiplier: 0.5, StuckTimeout: 2 * time.Minute},
		entity.TierMedium:  {PollIntervalMultiplier: 1.0, StuckTimeout: 5 * time.Minute},
		entity.TierComplex: {PollIntervalMultiplier: 1.5, StuckTimeout: 10 * time.Minute},
	}
	adapterFactory := func(tier entity.WorkerTier) repository.SessionAdapter {
		if cfg.Session.DisplayMode == "visible" {
			return session.NewVisibleAdapter(visibleTierConfig(namespace, tier, cfg.Session.ProjectPath), watcher, logger)
		}
		return session.NewTmuxAdapter(tierConfig(namespace, tier, cfg.Session.ProjectPath), watcher, logger)
	}
	workers := service.NewWorkerManager(cfg.Session.ProjectPath, cfg.Session.PollInterval, policies, adapterFactory, audit, logger)

	clarifier := service.NewTaskClarifier(router, logger)
	console := service.NewConsoleRecovery(service.DefaultConsoleRecoveryConfig(), logger)
	recovery := service.NewRecoveryManager(states, gitVCS, logger)
	analyzer := service.NewResponseAnalyzer(router, cfg.Analyzer.TruncateLength, cfg.Analyzer.StartRatio, logger)
	enforcer := service.NewTaskEnforcer(router, cfg.Escalation.Threshold, logger)
	supervisor := service.NewSupervisor(analyzer, enforcer, nil)
	reviewLoop := service.NewReviewLoopManager(workers, gitVCS, router, clarifier, states, audit, cfg.Session.ProjectPath, cfg.Providers.MaxRetries, nil, logger)

	return &Engine{
		Config: cfg, Logger: logger, Router: router, VCS: gitVCS,
		States: states, Audit: audit, Workers: workers, Clarifier: clarifier,
		Console: console, Recovery: recovery, Analyzer: analyzer, Enforcer: enforcer,
		Supervisor: supervisor, ReviewLoop: reviewLoop, namespace: namespace,
	}, nil
}

// wireProviders registers Provider A as primary and Provider B as
// fallback, skipping any provider whose API key is unset (spec §4.F:
// the fallback chain degrades gracefully to whatever is configured).
func wireProviders(router *llm.Router, cfg *config.Config, logger *zap.Logger) error {
	type providerDef struct {
		typeName string
		name     string
		apiKey   string
		models   []string
	}
	defs := []providerDef{
		{"providera", "provider_a", cfg.Providers.ProviderAKey, nil},
		{"providerb", "provider_b", cfg.Providers.ProviderBKey, nil},
	}

	registered := 0
	for _, d := range defs {
		if d.apiKey == "" {
			continue
		}
		client, err := llm.CreateProvider(d.typeName, llm.ProviderConfig{
			Name:       d.name,
			APIKey:     d.apiKey,
			Models:     d.models,
			MaxRetries: cfg.Providers.MaxRetries,
			RetryWait:  cfg.Providers.RetryBaseWait.Seconds(),
		}, logger)
		if err != nil {
			return fmt.Errorf("create %s client: %w", d.name, err)
		}
		router.AddProvider(llm.ProviderSpec{
			Name:              d.name,
			Client:            client,
			RequestsPerMinute: cfg.Providers.RateLimitPerMin,
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			HalfOpenMaxCalls:  1,
			MaxRetries:        cfg.Providers.MaxRetries,
			RetryBaseWait:     cfg.Providers.RetryBaseWait,
		})
		registered++
	}
	if registered == 0 {
		logger.Warn("no LLM providers configured; set a provider API key via config or environment")
	}
	return nil
}

// tierConfig builds the fixed per-tier tmux session configuration.
// Command lines are illustrative placeholders for the worker CLI spec
// §6 leaves as an injected policy; operators override these via config
// for whichever coding-assistant binary they actually drive.
func tierConfig(namespace string, tier entity.WorkerTier, projectDir string) session.TmuxConfig {
	base := session.TmuxConfig{
		Namespace:    namespace,
		Tier:         tier,
		ProjectDir:   projectDir,
		StartupDelay: 3 * time.Second,
		CompletionMarkers: []string{
			"Total usage est:", "Task completed", "Готово",
		},
	}
	switch tier {
	case entity.TierSimple:
		base.Command = []string{"worker-cli", "--mode", "simple"}
	case entity.TierComplex:
		base.Command = []string{"worker-cli", "--mode", "complex"}
	default:
		base.Command = []string{"worker-cli", "--mode", "medium"}
	}
	return base
}

// visibleTierConfig mirrors tierConfig for the Visible-mode adapter
// (spec §4.A: the same tier-specific command line and completion
// markers apply regardless of which display mode renders the session).
func visibleTierConfig(namespace string, tier entity.WorkerTier, projectDir string) session.VisibleConfig {
	base := session.VisibleConfig{
		Namespace:    namespace,
		Tier:         tier,
		ProjectDir:   projectDir,
		StartupDelay: 3 * time.Second,
		CompletionMarkers: []string{
			"Total usage est:", "Task completed", "Готово",
		},
	}
	switch tier {
	case entity.TierSimple:
		base.Command = []string{"worker-cli", "--mode", "simple"}
	case entity.TierComplex:
		base.Command = []string{"worker-cli", "--mode", "complex"}
	default:
		base.Command = []string{"worker-cli", "--mode", "medium"}
	}
	return base
}

// CleanupStaleSessions runs the stale tmux sweep once; callers should
// invoke this at most once per process, typically right after New.
func (e *Engine) CleanupStaleSessions(ctx context.Context) {
	session.CleanupStale(ctx, e.namespace, e.Logger)
}

// Close releases the audit store's database handle.
func (e *Engine) Close() error {
	return e.Audit.Close()
}

// Status reports the current session for the attach dashboard: whether
// a worker is active, a one-line summary, and the latest scrollback.
func (e *Engine) Status() (active bool, statusLine string, scrollback string) {
	session, active := e.Workers.GetStatus()
	if !active {
		return false, "idle", ""
	}
	statusLine = fmt.Sprintf("%s  tier=%s  status=%s", session.ID, session.Tier, session.Status)
	out, err := e.Workers.GetOutput(context.Background())
	if err != nil {
		out = fmt.Sprintf("(failed to read scrollback: %v)", err)
	}
	return true, statusLine, out
}
