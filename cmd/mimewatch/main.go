package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mimewatch/internal/config"
	"mimewatch/internal/dispatch"
	"mimewatch/internal/handler"
	"mimewatch/internal/logging"
	"mimewatch/internal/match"
	"mimewatch/internal/pattern"
	"mimewatch/internal/sniff"
	"mimewatch/internal/status"
	"mimewatch/internal/watcher"
)

const statusFlushInterval = 5 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "mimewatch",
		Short:         "Run handler chains for files matched by glob, regex or content type",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath, logLevel, logFormat string
	root.PersistentFlags().StringVar(&cfgPath, "config", "mimewatch.yaml", "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text|json)")
	newLogger := func() *slog.Logger {
		return logging.NewWithOutput(os.Stdout, logging.ParseLevel(logLevel), logFormat)
	}

	root.AddCommand(runCmd(&cfgPath, newLogger))
	root.AddCommand(validateCmd(&cfgPath))
	root.AddCommand(initCmd())
	root.AddCommand(statusCmd(&cfgPath))
	root.AddCommand(simulateCmd(&cfgPath, newLogger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ResolvePaths(); err != nil {
		return config.Config{}, err
	}
	m := match.New()
	for _, w := range cfg.Watches {
		if err := m.Compile(w.Rules); err != nil {
			return config.Config{}, fmt.Errorf("watch %s: %w", w.Path, err)
		}
	}
	return cfg, nil
}

func runCmd(cfgPath *string, newLogger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start watching",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			logger := newLogger()
			store := status.NewStore(cfg.Global.StateDir)
			release, err := store.AcquireInstance()
			if err != nil {
				return err
			}
			defer release()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			tracker := status.NewTracker()
			d := dispatch.New(cfg.Global, tracker, logger)
			go flushStatus(ctx, store, tracker, logger)

			super := watcher.NewSupervisor(cfg, logger, d)
			logger.Info("starting mimewatch",
				"watches", len(cfg.Watches),
				"delay", cfg.Global.Delay.Duration(),
				"max_attempts", cfg.Global.MaxAttempts,
				"delay_exit_code", cfg.Global.DelayExitCode,
				"dry_run", cfg.Global.DryRun)
			runErr := super.Run(ctx)
			if err := store.Save(tracker.Snapshot()); err != nil {
				logger.Warn("cannot save status", "err", err)
			}
			logger.Info("stopped")
			return runErr
		},
	}
}

func flushStatus(ctx context.Context, store *status.Store, tracker *status.Tracker, logger *slog.Logger) {
	ticker := time.NewTicker(statusFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Save(tracker.Snapshot()); err != nil {
				logger.Warn("cannot save status", "err", err)
			}
		}
	}
}

func validateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			rules := 0
			for _, w := range cfg.Watches {
				rules += len(w.Rules)
			}
			fmt.Printf("config OK: %d watches, %d rules\n", len(cfg.Watches), rules)
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write sample config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "mimewatch.yaml"
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func statusCmd(cfgPath *string) *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show counters saved by the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateDir == "" {
				cfg, err := config.Load(*cfgPath)
				if err == nil {
					_ = cfg.ResolvePaths()
					stateDir = cfg.Global.StateDir
				} else {
					stateDir = config.DefaultStateDir()
				}
			}
			f, err := status.NewStore(stateDir).Load()
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Println("no status recorded yet in", stateDir)
					return nil
				}
				return err
			}
			printStatus(f)
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "state directory (defaults to config global.state_dir)")
	return cmd
}

func printStatus(f status.File) {
	bold := color.New(color.Bold).SprintFunc()
	good := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	fmt.Printf("pid %d, updated %s\n", f.PID, f.Updated.Format(time.RFC3339))
	for _, key := range status.Keys(f.Counters) {
		c := f.Counters[key]
		fmt.Println(bold(key))
		if c.EventsSeen > 0 {
			fmt.Printf("  events %d, in flight %d\n", c.EventsSeen, c.InFlight)
		}
		fmt.Printf("  %s %d  %s %d  %s %d  %s %d  %s %d\n",
			good("handled"), c.Handled,
			warn("exhausted"), c.Exhausted,
			warn("gave up"), c.GaveUp,
			warn("no match"), c.NoMatch,
			bad("config errors"), c.ConfigErrors)
		if c.LastOutcome != "" {
			fmt.Printf("  last %s %s at %s\n", c.LastOutcome, c.LastPath, c.LastRun.Format(time.RFC3339))
		}
		if c.LastError != "" {
			fmt.Printf("  last error: %s\n", bad(c.LastError))
		}
	}
}

func simulateCmd(cfgPath *string, newLogger func() *slog.Logger) *cobra.Command {
	var watchPath string
	var filePath string
	var contentType string
	var execute bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a file through rule matching and, optionally, its handler chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			w := pickWatch(cfg.Watches, watchPath)
			if w == nil {
				return fmt.Errorf("watch not found: %s", watchPath)
			}
			if filePath == "" {
				return fmt.Errorf("--file is required")
			}
			abs, err := filepath.Abs(filePath)
			if err != nil {
				return err
			}

			var det sniff.Detector = sniff.Magic{}
			if contentType != "" {
				det = sniff.Static(contentType)
			}
			ct, err := det.Detect(abs)
			if err != nil {
				fmt.Printf("content type: unknown (%v)\n", err)
			} else {
				fmt.Printf("content type: %s\n", ct)
			}
			for i, r := range w.Rules {
				kind, _, _ := pattern.Classify(r.Pattern)
				fmt.Printf("rule %d: %-6s %s\n", i, kind, r.Pattern)
			}

			out, err := match.New().Match(w.Rules, match.Input{Path: abs, ContentType: ct})
			if err != nil {
				return err
			}
			if !out.Matched {
				fmt.Println("no rule matched")
				return nil
			}
			fmt.Printf("matched rule %d (%s)\n", out.Index, out.Rule.Pattern)
			if !execute {
				for i, h := range out.Rule.Handlers {
					fmt.Printf("handler %d: %s\n", i, h)
				}
				return nil
			}

			exec := handler.NewExecutor(cfg.Global, newLogger())
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			res, err := exec.Execute(ctx, out.Rule.Handlers, abs, os.Stdout)
			if err != nil {
				return err
			}
			fmt.Printf("outcome: %s (attempts %d, invocations %d)\n", res.Outcome, res.Attempts, res.Invocations)
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&watchPath, "watch", "", "watch path to use (defaults to first)")
	cmd.Flags().StringVar(&filePath, "file", "", "file path for the simulated event")
	cmd.Flags().StringVar(&contentType, "type", "", "content type to assume instead of detecting it")
	cmd.Flags().BoolVar(&execute, "execute", false, "actually run the handler chain")
	return cmd
}

func pickWatch(watches []config.Watch, path string) *config.Watch {
	if len(watches) == 0 {
		return nil
	}
	if path == "" {
		return &watches[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	for i := range watches {
		if filepath.Clean(watches[i].Path) == filepath.Clean(abs) {
			return &watches[i]
		}
	}
	return nil
}

const sampleConfig = `global:
  delay: 5m
  max_attempts: 5
  delay_exit_code: 75
  debounce_ms: 200
  backend: fsnotify
  dry_run: false

watches:
  - path: ./incoming
    recursive: true
    events: [create, modify, move]
    ignore: ["**/.*", "**/*.part"]
    rules:
      - pattern: "*.pdf"
        handlers:
          - "lp %%"
          - "mv %% ./failed/"
      - pattern: "/\\.tmp$/"
        handlers:
          - "rm -f %%"
      - pattern: "image/*"
        handlers:
          - "convert-thumbnail %%"
      - pattern: "text/*"
        handlers:
          - "index-text %% >> ./index.log"
`
