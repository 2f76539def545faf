package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/chorusbot/chorus/internal/config"
	"github.com/chorusbot/chorus/internal/team"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and local state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor()
	},
}

func runDoctor() error {
	printHeader("Doctor")
	failures := 0

	path, err := config.ConfigPath()
	if err != nil {
		printFail(fmt.Sprintf("config path: %v", err))
		return fmt.Errorf("doctor found %d problem(s)", 1)
	}
	if _, err := os.Stat(path); err != nil {
		printWarn(fmt.Sprintf("config file missing (%s), using defaults", path))
	} else {
		printOK(fmt.Sprintf("config file %s", path))
	}

	cfg, err := config.Load()
	if err != nil {
		printFail(fmt.Sprintf("config load: %v", err))
		return fmt.Errorf("doctor found %d problem(s)", 1)
	}
	printOK(fmt.Sprintf("agent %q (%s)", cfg.Agent.Name, cfg.Agent.ID))

	if cfg.Provider.APIKey == "" {
		printFail("provider API key is not set")
		failures++
	} else {
		printOK("provider API key present")
	}
	if cfg.Provider.EmbeddingModel == "" {
		printWarn("no embedding model configured, dedup will fail open")
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		printFail(fmt.Sprintf("data dir %s: %v", cfg.Paths.DataDir, err))
		failures++
	} else if db, err := sql.Open("sqlite", filepath.Join(cfg.Paths.DataDir, "chorus.db")); err != nil {
		printFail(fmt.Sprintf("open database: %v", err))
		failures++
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := db.PingContext(ctx); err != nil {
			printFail(fmt.Sprintf("database ping: %v", err))
			failures++
		} else {
			printOK(fmt.Sprintf("database %s", filepath.Join(cfg.Paths.DataDir, "chorus.db")))
		}
		cancel()
		db.Close()
	}

	if cfg.Channels.Slack.Enabled {
		if cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "" {
			printFail("slack enabled but bot or app token missing")
			failures++
		} else {
			printOK("slack tokens present")
		}
	} else {
		printWarn("slack channel disabled")
	}

	if cfg.Team.Enabled {
		printOK(fmt.Sprintf("team mode, %d member(s), leader=%v", len(cfg.Team.Members), cfg.Team.IsLeader))
		if cfg.Team.Telemetry.Enabled {
			if cfg.Team.Telemetry.Brokers == "" {
				printFail("telemetry enabled but no kafka brokers configured")
				failures++
			} else {
				printOK(fmt.Sprintf("telemetry topic %s via %s",
					team.TelemetryTopic(cfg.Team.Telemetry.TeamName), cfg.Team.Telemetry.Brokers))
			}
		}
	} else {
		printWarn("team mode disabled, running solo")
	}

	fmt.Println()
	if failures > 0 {
		return fmt.Errorf("doctor found %d problem(s)", failures)
	}
	fmt.Println("All checks passed.")
	return nil
}
