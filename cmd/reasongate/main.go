package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"reasongate/internal/bus"
	"reasongate/internal/config"
	"reasongate/internal/conversation"
	"reasongate/internal/dialogue"
	"reasongate/internal/logging"
	"reasongate/internal/mcpserver"
	"reasongate/internal/reader"
	"reasongate/internal/remote"
	"reasongate/internal/sanitize"
	"reasongate/internal/session"
	"reasongate/internal/store"
	"reasongate/internal/tournament"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "reasongate",
		Short:         "MCP gateway for deep code reasoning over a remote generative service",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := rootCmd.Flags()
	f.String("project-root", ".", "root directory the secure reader is confined to")
	f.String("provider", config.ProviderGemini, "remote provider: gemini or claude")
	f.String("model", "", "remote model name (provider default when empty)")
	f.Int("request-budget-seconds", 60, "time budget per one-shot analysis")
	f.Int("tournament-budget-seconds", 300, "time budget per hypothesis tournament")
	f.Duration("session-idle-timeout", session.DefaultIdleTimeout, "idle time before a session is reclaimed")
	f.Duration("sweep-interval", session.DefaultSweepInterval, "how often idle sessions are swept")
	f.Int("max-turns", session.DefaultMaxTurns, "turn cap per session")
	f.Float64("remote-rps", 1, "outbound requests per second to the remote service")
	f.Bool("debug", false, "verbose diagnostic logging on stderr")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the REASONGATE_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("project_root", "project-root")
	bindFlag("provider", "provider")
	bindFlag("model", "model")
	bindFlag("request_budget_seconds", "request-budget-seconds")
	bindFlag("tournament_budget_seconds", "tournament-budget-seconds")
	bindFlag("session_idle_timeout", "session-idle-timeout")
	bindFlag("sweep_interval", "sweep-interval")
	bindFlag("max_turns", "max-turns")
	bindFlag("remote_rps", "remote-rps")
	bindFlag("debug", "debug")

	viper.SetEnvPrefix("REASONGATE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reasongate: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("reasongate starting",
		zap.String("version", config.Version),
		zap.String("provider", cfg.Provider),
		zap.String("project_root", cfg.ProjectRoot))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	files, err := reader.New(cfg.ProjectRoot, log.Named("reader"))
	if err != nil {
		return fmt.Errorf("secure reader: %w", err)
	}

	var svc remote.Service
	switch cfg.Provider {
	case config.ProviderClaude:
		svc = remote.NewClaudeService(cfg.Model, cfg.RemoteRPS, log.Named("remote"))
	default:
		svc, err = remote.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.RemoteRPS, log.Named("remote"))
		if err != nil {
			return fmt.Errorf("remote service: %w", err)
		}
	}

	events := bus.New()
	audit, err := store.Open(store.InMemory, log.Named("store"))
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	defer audit.Close() //nolint:errcheck
	stopTail := audit.Tail(events)
	defer stopTail()

	var opts []session.Option
	if cfg.SessionIdleTimeout > 0 {
		opts = append(opts, session.WithIdleTimeout(cfg.SessionIdleTimeout))
	}
	if cfg.SweepInterval > 0 {
		opts = append(opts, session.WithSweepInterval(cfg.SweepInterval))
	}
	if cfg.MaxTurns > 0 {
		opts = append(opts, session.WithMaxTurns(cfg.MaxTurns))
	}
	sessions := session.NewManager(events, log.Named("session"), opts...)
	defer sessions.Destroy()

	adapter := dialogue.New(svc, sanitize.New(log.Named("sanitize")), files, log.Named("dialogue"))
	orch := conversation.New(sessions, adapter, files, log.Named("conversation"))
	sched := tournament.New(sessions, adapter, files, log.Named("tournament"))

	srv := mcpserver.NewServer(mcpserver.Deps{
		Orchestrator:     orch,
		Scheduler:        sched,
		Files:            files,
		Audit:            audit,
		Log:              log.Named("mcp"),
		RequestBudget:    cfg.RequestBudget,
		TournamentBudget: cfg.TournamentBudget,
	})
	return srv.Serve(ctx)
}
