package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/chorusbot/chorus/internal/agent"
	"github.com/chorusbot/chorus/internal/bus"
	"github.com/chorusbot/chorus/internal/channels"
	"github.com/chorusbot/chorus/internal/clock"
	"github.com/chorusbot/chorus/internal/config"
	"github.com/chorusbot/chorus/internal/dedupe"
	"github.com/chorusbot/chorus/internal/interest"
	"github.com/chorusbot/chorus/internal/policy"
	"github.com/chorusbot/chorus/internal/provider"
	"github.com/chorusbot/chorus/internal/queue"
	"github.com/chorusbot/chorus/internal/ratelimit"
	"github.com/chorusbot/chorus/internal/team"
	"github.com/chorusbot/chorus/internal/vector"
)

var runVerbose bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent arbitration daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
}

func runDaemon() error {
	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("provider.apiKey is not set (or CHORUS_PROVIDER_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(cfg.Paths.DataDir, "chorus.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	vecStore := vector.NewSQLiteStore(db, cfg.Provider.EmbeddingDims)
	if err := vecStore.InitSchema(ctx); err != nil {
		return fmt.Errorf("init vector schema: %w", err)
	}

	prov := provider.NewOpenAIProvider(
		cfg.Provider.APIKey,
		cfg.Provider.APIBase,
		cfg.Provider.Model,
		cfg.Provider.EmbeddingModel,
	)

	clk := clock.NewSystem()
	messageBus := bus.NewMessageBus()

	teamCfg := buildTeamConfig(cfg)
	tracker := interest.NewTracker(interest.Config{
		DecayTime:           ms(cfg.Interest.DecayTimeMs),
		PartialDecay:        ms(cfg.Interest.PartialDecayMs),
		MaxMessages:         cfg.Interest.MaxMessages,
		SimilarityThreshold: cfg.Dedupe.SimilarityThreshold,
	}, interest.NewStore(), clk, cfg.Agent.ID, teamCfg.SelfKeywords())

	var coord *team.Coordinator
	if cfg.Team.Enabled {
		coord = team.NewCoordinator(teamCfg, clk)
	}

	model := cfg.Agent.Model
	if model == "" {
		model = cfg.Provider.Model
	}
	classifier := agent.NewDecisionClassifier(prov, cfg.Agent.Name)
	eng := policy.New(policy.Config{
		MentionsOnly:  cfg.Policy.MentionsOnly,
		CadenceWindow: cfg.Policy.CadenceWindow,
	}, cfg.Agent.ID, coord, classifier)

	limiter := ratelimit.New(ms(cfg.RateLimit.WindowMs), clk)
	limiter.StartSweeper()
	defer limiter.Stop()

	sendQueue := queue.New(queue.Config{
		MaxCount:    cfg.Queue.MaxCount,
		MaxBytes:    cfg.Queue.MaxBytes,
		MinInterval: ms(cfg.Queue.MinIntervalMs),
		BaseSize:    cfg.Queue.BaseSize,
	}, clk, nil)

	dedup := dedupe.New(dedupe.Config{
		SimilarityThreshold: float32(cfg.Dedupe.SimilarityThreshold),
		Window:              ms(cfg.Dedupe.WindowMs),
	}, vecStore, clk)

	opts := agent.LoopOptions{
		Bus:           messageBus,
		Provider:      prov,
		Tracker:       tracker,
		Coordinator:   coord,
		Policy:        eng,
		RateLimiter:   limiter,
		Queue:         sendQueue,
		Dedupe:        dedup,
		Clock:         clk,
		SelfID:        cfg.Agent.ID,
		SelfName:      cfg.Agent.Name,
		EmbeddingDims: cfg.Provider.EmbeddingDims,
	}

	if cfg.Team.Enabled && cfg.Team.Telemetry.Enabled {
		pub := team.NewTelemetryPublisher(team.TelemetryConfig{
			Brokers:  cfg.Team.Telemetry.Brokers,
			TeamName: cfg.Team.Telemetry.TeamName,
		}, cfg.Agent.ID)
		defer pub.Close()
		opts.Recorder = pub

		if err := pub.Announce(ctx, "join", cfg.Agent.Name, cfg.Team.IsLeader); err != nil {
			slog.Warn("team join announce failed", "error", err)
		}
		defer func() {
			leaveCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = pub.Announce(leaveCtx, "leave", cfg.Agent.Name, cfg.Team.IsLeader)
		}()
		go heartbeat(ctx, pub, cfg.Agent.Name, cfg.Team.IsLeader)
	}

	loop := agent.NewLoop(opts)

	if cfg.Channels.Slack.Enabled {
		slack := channels.NewSlackChannel(cfg.Channels.Slack, messageBus)
		if err := slack.Start(ctx); err != nil {
			return fmt.Errorf("start slack channel: %w", err)
		}
		defer slack.Stop()
	} else {
		slog.Warn("no channels enabled, daemon will idle")
	}

	go func() {
		if err := messageBus.DispatchOutbound(ctx); err != nil && ctx.Err() == nil {
			slog.Error("outbound dispatcher stopped", "error", err)
		}
	}()

	slog.Info("chorus daemon started",
		"agent", cfg.Agent.ID,
		"model", model,
		"team", cfg.Team.Enabled,
		"slack", cfg.Channels.Slack.Enabled)

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("arbitration loop: %w", err)
	}
	slog.Info("chorus daemon stopped")
	return nil
}

func heartbeat(ctx context.Context, pub *team.TelemetryPublisher, name string, leader bool) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pub.Announce(ctx, "heartbeat", name, leader); err != nil {
				slog.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func buildTeamConfig(cfg *config.Config) team.Config {
	tc := team.DefaultConfig(cfg.Agent.ID, cfg.Agent.Name)
	tc.IsLeader = cfg.Team.IsLeader
	if cfg.Team.LeaderID != "" {
		tc.LeaderID = cfg.Team.LeaderID
	}
	tc.CoordinationKeywords = cfg.Team.CoordinationKeywords
	if cfg.Team.AfterLeaderChance > 0 {
		tc.AfterLeaderChance = cfg.Team.AfterLeaderChance
	}
	if cfg.Team.BackoffMinMs > 0 {
		tc.BackoffMin = ms(cfg.Team.BackoffMinMs)
	}
	if cfg.Team.BackoffMaxMs > 0 {
		tc.BackoffMax = ms(cfg.Team.BackoffMaxMs)
	}
	if cfg.Team.KeywordDelayMs > 0 {
		tc.KeywordDelay = ms(cfg.Team.KeywordDelayMs)
	}
	if cfg.Team.LeaderRecencyMs > 0 {
		tc.LeaderRecency = ms(cfg.Team.LeaderRecencyMs)
	}
	for _, m := range cfg.Team.Members {
		tc.Members = append(tc.Members, team.Member{ID: m.ID, Name: m.Name, Keywords: m.Keywords})
	}
	return tc
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
