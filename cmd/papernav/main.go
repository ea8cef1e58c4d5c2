package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"papernav/internal/channel"
	"papernav/internal/config"
	"papernav/internal/document"
	"papernav/internal/domain"
	"papernav/internal/logging"
	"papernav/internal/provider"
	"papernav/internal/session"
	"papernav/internal/transcript"
	"papernav/internal/ui"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version     = "0.1.0"
	logger      = zap.NewNop()
	configPath  string // overridable via --config flag
	backendFlag string // overridable via --backend flag
)

func main() {
	root := &cobra.Command{
		Use:           "papernav",
		Short:         "papernav: chat with a PDF",
		Long:          "papernav uploads a PDF to a document Q&A backend and lets you ask questions about it from the terminal or Telegram.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.papernav/config.yaml)")
	root.PersistentFlags().StringVar(&backendFlag, "backend", "", "backend base URL (overrides backend.baseURL)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(uploadCmd())
	root.AddCommand(askCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(telegramCmd())
	root.AddCommand(configCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", cfgPath)
			return nil
		},
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist, and applies the --backend override.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Defaults()
		config.Normalize(cfg)
	case err != nil:
		return nil, fmt.Errorf("load config: %w", err)
	}

	if backendFlag != "" {
		cfg.Backend.BaseURL = backendFlag
		config.Normalize(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("--backend: %w", err)
		}
	}
	return cfg, nil
}

// initLogger replaces the package logger. console adds a stderr sink next to
// the configured log file.
func initLogger(cfg *config.Config, console bool) error {
	opts := logging.Options{Level: cfg.General.LogLevel, File: cfg.General.LogFile}
	if console {
		opts.Console = logging.Stderr()
	}
	l, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logger = l
	return nil
}

// setup loads the config and builds a console logger for one-shot commands.
func setup() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := initLogger(cfg, true); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newBackend(cfg *config.Config) *provider.Backend {
	return provider.NewBackend(provider.BackendConfig{
		BaseURL:    cfg.Backend.BaseURL,
		UploadPath: cfg.Backend.UploadPath,
		AskPath:    cfg.Backend.AskPath,
		Timeout:    time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})
}

// openTranscript opens the transcript store, or returns nil when disabled.
func openTranscript(cfg *config.Config) (domain.TranscriptStore, error) {
	if !cfg.Transcript.Enabled {
		return nil, nil
	}
	store, err := transcript.NewSQLiteStore(cfg.Transcript.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("transcript store: %w", err)
	}
	return store, nil
}

// sessionFactory starts sessions against svc, recording them when store is set.
func sessionFactory(svc domain.DocumentService, store domain.TranscriptStore, channelName string) func() *session.Session {
	var rec *transcript.Recorder
	if store != nil {
		rec = transcript.NewRecorder(store, channelName, logger)
	}
	return func() *session.Session {
		s := session.New(session.Config{Service: svc, Logger: logger})
		if rec != nil {
			rec.Attach(s)
		}
		return s
	}
}

func maxUploadBytes(cfg *config.Config) int64 {
	return int64(cfg.Upload.MaxSizeMB) << 20
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func chatCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat about a PDF",
		Long:  "Opens the full-screen chat when attached to a terminal, or a line-oriented REPL otherwise (see ui.mode).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, mode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "auto | tui | plain (overrides ui.mode)")
	return cmd
}

func runChat(cmd *cobra.Command, mode string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mode == "" {
		mode = cfg.UI.Mode
	}
	switch mode {
	case "auto":
		mode = "plain"
		if isTerminal(os.Stdin) && isTerminal(os.Stdout) {
			mode = "tui"
		}
	case "tui", "plain":
	default:
		return fmt.Errorf("unknown mode %q (want auto, tui or plain)", mode)
	}

	// The screen belongs to bubbletea in TUI mode.
	if err := initLogger(cfg, mode != "tui"); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openTranscript(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	backend := newBackend(cfg)
	if err := backend.Healthy(ctx); err != nil {
		logger.Warn("backend not reachable", zap.String("url", backend.BaseURL()), zap.Error(err))
	}

	if mode == "tui" {
		return ui.Run(ctx, ui.Config{
			NewSession:   sessionFactory(backend, store, "tui"),
			MaxBytes:     maxUploadBytes(cfg),
			Markdown:     cfg.UI.Markdown,
			GlamourStyle: cfg.UI.GlamourStyle,
			Logger:       logger,
		})
	}

	cli := channel.NewCLI(channel.CLIConfig{
		Logger:     logger,
		In:         cmd.InOrStdin(),
		Out:        cmd.OutOrStdout(),
		NewSession: sessionFactory(backend, store, "cli"),
		MaxBytes:   maxUploadBytes(cfg),
		Spinner:    isTerminal(os.Stdout),
	})
	defer cli.Stop()
	return cli.Start(ctx)
}

// oneShot opens pdf in a fresh session and uploads it. The session's
// transcript is printed to out as it changes.
func oneShot(ctx context.Context, cfg *config.Config, out io.Writer, pdf string) (*session.Session, func(), error) {
	store, err := openTranscript(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if store != nil {
			store.Close()
		}
	}

	s := sessionFactory(newBackend(cfg), store, "cli")()
	s.Observe(session.ObserverFunc(func(_ *session.Session, c session.Change) {
		if (c.Kind == session.Appended && !c.Provisional) || c.Kind == session.Replaced {
			printMessage(out, c.Message)
		}
	}))

	doc, err := document.Open(pdf, maxUploadBytes(cfg))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := s.SelectDocument(doc); err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := s.SubmitUpload(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return s, cleanup, nil
}

func printMessage(out io.Writer, m domain.Message) {
	switch m.Sender {
	case domain.SenderSystem:
		fmt.Fprintf(out, "* %s\n", m.Text)
	case domain.SenderBot:
		fmt.Fprintln(out, m.Text)
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <pdf>",
		Short: "Upload a PDF to the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, cleanup, err := oneShot(ctx, cfg, cmd.OutOrStdout(), args[0])
			if err != nil {
				return userError(err)
			}
			cleanup()
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ask --file <pdf> <question...>",
		Short: "Upload a PDF and ask one question about it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, cleanup, err := oneShot(ctx, cfg, cmd.OutOrStdout(), file)
			if err != nil {
				return userError(err)
			}
			defer cleanup()

			if _, err := s.Ask(ctx, strings.Join(args, " ")); err != nil {
				return userError(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "PDF to upload before asking")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// userError turns session rejections into readable messages. Backend
// failures have already been printed as part of the transcript.
func userError(err error) error {
	var verr *domain.ValidationError
	var rerr *domain.RequestError
	switch {
	case errors.As(err, &verr):
		return errors.New(verr.Reason)
	case errors.Is(err, domain.ErrEmptyInput):
		return errors.New("question is empty")
	case errors.As(err, &rerr):
		return fmt.Errorf("backend %s failed: %w", rerr.Op, err)
	}
	return err
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			_, statErr := os.Stat(cfgPath)
			fmt.Fprintf(out, "config:     %s (loaded: %t)\n", cfgPath, statErr == nil)
			fmt.Fprintf(out, "backend:    %s\n", cfg.Backend.BaseURL)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := newBackend(cfg).Healthy(ctx); err != nil {
				fmt.Fprintf(out, "healthy:    no (%v)\n", err)
			} else {
				fmt.Fprintf(out, "healthy:    yes\n")
			}

			if cfg.Transcript.Enabled {
				fmt.Fprintf(out, "transcript: %s\n", cfg.Transcript.DBPath)
			} else {
				fmt.Fprintf(out, "transcript: disabled\n")
			}
			fmt.Fprintf(out, "telegram:   %t\n", cfg.Channels.Telegram.Enabled)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. backend.baseURL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. backend.timeoutSeconds 120)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				// First write creates the file from defaults.
				cfg = config.Defaults()
			case err != nil:
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", args[0], args[1], cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.ListPaths(config.Sanitize(cfg)), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
