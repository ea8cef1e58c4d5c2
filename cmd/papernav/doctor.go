package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"papernav/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your papernav setup",
		Long: `Verifies that papernav's configuration, backend, log file, transcript
database and Telegram settings are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("papernav doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			var cfg *config.Config
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
				cfg = config.Defaults()
				config.Normalize(cfg)
				if err := config.Validate(cfg); err != nil {
					printFail("Config validation", err.Error())
					failed++
				}
			} else {
				printPass("Config file", cfgPath)
				passed++

				loaded, err := config.Load(cfgPath)
				if err != nil {
					printFail("Config validation", err.Error())
					failed++
					fmt.Printf("\n%d passed, %d failed\n", passed, failed)
					return fmt.Errorf("config is invalid")
				}
				printPass("Config validation", "valid")
				passed++
				cfg = loaded
			}
			if backendFlag != "" {
				cfg.Backend.BaseURL = backendFlag
				config.Normalize(cfg)
			}

			// 2. Backend reachable
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := newBackend(cfg).Healthy(ctx); err != nil {
				printFail("Backend", fmt.Sprintf("%s: %v", cfg.Backend.BaseURL, err))
				failed++
			} else {
				printPass("Backend", cfg.Backend.BaseURL)
				passed++
			}
			if cfg.Backend.TimeoutSeconds == 0 {
				printWarn("Backend timeout", "none (requests wait for the backend indefinitely)")
				warned++
			}

			// 3. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// 4. Transcript database
			if cfg.Transcript.Enabled {
				if err := checkDatabase(cfg.Transcript.DBPath); err != nil {
					printFail("Transcript DB", err.Error())
					failed++
				} else {
					printPass("Transcript DB", cfg.Transcript.DBPath)
					passed++
				}
			} else {
				printWarn("Transcript DB", "disabled (sessions are not recorded)")
				warned++
			}

			// 5. Telegram
			if cfg.Channels.Telegram.Enabled {
				if cfg.Channels.Telegram.Token == "" {
					printFail("Telegram", "enabled but no token configured")
					failed++
				} else {
					printPass("Telegram", "token configured")
					passed++
				}
				if len(cfg.Channels.Telegram.AllowFrom) == 0 {
					printWarn("Telegram allowFrom", "empty (any Telegram user can use the bot)")
					warned++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running papernav.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\npapernav should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! papernav is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
