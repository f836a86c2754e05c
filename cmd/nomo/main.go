package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nomo/internal/config"
	"nomo/internal/engine"
	"nomo/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	// Logger
	logger *zap.Logger

	// Opened by PersistentPreRunE for every command that needs state.
	eng *engine.Engine
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nomo",
	Short: "nomo - offline-first progression and economy engine",
	Long: `nomo keeps coins, experience, daily streaks and the shop inventory
consistent on this device and reconciles them with the settlement server
whenever it is reachable.

Every change is applied locally first and queued for settlement. Run
"nomo sync" to settle now, or "nomo daemon" to keep syncing in the background.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return openEngine()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeEngine()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.nomo/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Network operation timeout")

	registerCommands(rootCmd)
}

func main() {
	err := rootCmd.Execute()
	// PersistentPostRunE is skipped when a command fails.
	if cerr := closeEngine(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	return os.Getwd()
}

func openEngine() error {
	if eng != nil {
		closeEngine()
	}
	ws, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath(ws)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := logging.Initialize(ws, engine.LoggingSettings(cfg.Logging)); err != nil {
		logger.Warn("File logging disabled", zap.Error(err))
	}
	if err := logging.InitAudit(); err != nil {
		logger.Warn("Audit trail disabled", zap.Error(err))
	}

	eng, err = engine.Open(cfg, ws, engine.WithConfigPath(path))
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	logger.Debug("Engine opened",
		zap.String("workspace", ws),
		zap.String("config", path),
		zap.String("backend", cfg.Storage.Backend))
	return nil
}

func closeEngine() error {
	var err error
	if eng != nil {
		err = eng.Close()
		eng = nil
	}
	logging.CloseAudit()
	logging.CloseAll()
	if logger != nil {
		_ = logger.Sync()
	}
	return err
}

// signalContext is cancelled by SIGINT/SIGTERM or after d when d > 0.
func signalContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		cancel()
		stop()
	}
}
