package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"papernav/internal/config"

	"github.com/spf13/cobra"
)

var knownModes = []struct {
	ID   string
	Desc string
}{
	{"auto", "full-screen when attached to a terminal, plain otherwise"},
	{"tui", "always full-screen"},
	{"plain", "line-oriented REPL"},
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: backend → chat mode → transcript → Telegram → save config",
		Long:  "Guides you through the backend URL, the chat front-end, transcript recording and the optional Telegram bot. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runWizard(in io.Reader, out io.Writer) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}
	yes := func(def bool) (bool, error) {
		d := "n"
		if def {
			d = "y"
		}
		ans, err := prompt(d)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(strings.ToLower(ans), "y"), nil
	}

	// Step 1: Backend
	fmt.Fprintln(out, "\n--- Step 1: Backend ---")
	fmt.Fprint(out, "Base URL of the PDF Q&A service")
	url, err := prompt(cfg.Backend.BaseURL)
	if err != nil {
		return err
	}
	cfg.Backend.BaseURL = strings.TrimRight(url, "/")
	config.Normalize(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := newBackend(cfg).Healthy(ctx); err != nil {
		fmt.Fprintf(out, "  Warning: %s is not reachable right now (%v)\n", cfg.Backend.BaseURL, err)
	} else {
		fmt.Fprintf(out, "  Backend reachable: %s\n", cfg.Backend.BaseURL)
	}
	cancel()

	// Step 2: Chat mode
	fmt.Fprintln(out, "\n--- Step 2: Chat mode ---")
	defNum := "1"
	for i, m := range knownModes {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, m.ID, m.Desc)
		if m.ID == cfg.UI.Mode {
			defNum = fmt.Sprint(i + 1)
		}
	}
	fmt.Fprintf(out, "Choose mode (1–%d)", len(knownModes))
	choice, err := prompt(defNum)
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownModes) {
		idx = 1
	}
	cfg.UI.Mode = knownModes[idx-1].ID
	fmt.Fprintf(out, "  Using mode: %s\n", cfg.UI.Mode)

	// Step 3: Transcript
	fmt.Fprintln(out, "\n--- Step 3: Transcript ---")
	fmt.Fprint(out, "Record chat sessions to a local database? (y/n)")
	if cfg.Transcript.Enabled, err = yes(cfg.Transcript.Enabled); err != nil {
		return err
	}
	if cfg.Transcript.Enabled {
		fmt.Fprint(out, "Database path")
		p, err := prompt(cfg.Transcript.DBPath)
		if err != nil {
			return err
		}
		cfg.Transcript.DBPath = p
	}

	// Step 4: Telegram
	fmt.Fprintln(out, "\n--- Step 4: Telegram ---")
	fmt.Fprint(out, "Enable the Telegram bot? (y/n)")
	if cfg.Channels.Telegram.Enabled, err = yes(cfg.Channels.Telegram.Enabled); err != nil {
		return err
	}
	if cfg.Channels.Telegram.Enabled {
		fmt.Fprint(out, "Telegram bot token (from @BotFather), or ${ENV_VAR}")
		tok, err := prompt(cfg.Channels.Telegram.Token)
		if err != nil {
			return err
		}
		cfg.Channels.Telegram.Token = tok
		fmt.Fprint(out, "Allowed Telegram user IDs, comma separated (empty = anyone)")
		ids, err := prompt(strings.Join(cfg.Channels.Telegram.AllowFrom, ","))
		if err != nil {
			return err
		}
		cfg.Channels.Telegram.AllowFrom = nil
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Channels.Telegram.AllowFrom = append(cfg.Channels.Telegram.AllowFrom, id)
			}
		}
	}

	// Save
	config.Normalize(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: run 'papernav chat', or 'papernav telegram' for the bot.")
	return nil
}
