// Package main is the CLI entry point for netgate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eliteGoblin/focusd/netgate/internal/config"
	"github.com/eliteGoblin/focusd/netgate/internal/daemon"
	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/internal/infra"
	"github.com/eliteGoblin/focusd/netgate/internal/metrics"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// callPollInterval is how often the daemon checks the store for telephony hook updates.
const callPollInterval = 250 * time.Millisecond

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netgate",
	Short: "Foreground-gated per-app network access",
	Long: `netgate blocks network access of selected applications unless they are
in the foreground. Platform services and communication apps are never blocked,
and during a phone call interception is suspended entirely.`,
	Version:      Version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running engine",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status",
	Long:  `Shows whether the engine is running, the current foreground app, call state and block counts.`,
	RunE:  runStatus,
}

var protectedCmd = &cobra.Command{
	Use:   "protected",
	Short: "List protected services",
	Long:  `Shows the curated catalogs of services that are never blocked.`,
	RunE:  runProtected,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning the engine
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	dataDir     string
	configPath  string
	metricsAddr string
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "State directory (default depends on execution mode)")
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Config file (default <data-dir>/config.yaml)")
	daemonCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	startCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(protectedCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

// execMode resolves the state directory, honouring --data-dir.
func execMode() *infra.ExecModeConfig {
	mode := infra.DetectExecMode()
	if dataDir != "" {
		return infra.NewExecModeConfigWithDir(mode.Mode, dataDir)
	}
	return mode
}

func runStart(cmd *cobra.Command, args []string) error {
	mode := execMode()
	if err := mode.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	pm := infra.NewProcessManager()
	statusFile := infra.NewStatusFile(mode.StatusPath(), pm)
	if st, err := statusFile.Live(); err == nil {
		fmt.Printf("netgate is already running (pid %d)\n", st.PID)
		return nil
	}

	// the daemon must find the same store, so pin the data dir explicitly
	daemonArgs := []string{"--data-dir", mode.DataDir}
	if metricsAddr != "" {
		daemonArgs = append(daemonArgs, "--metrics-addr", metricsAddr)
	}
	pid, err := daemon.StartDaemon(daemonArgs...)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Wait for the engine to publish its first status
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st, err := statusFile.Live(); err == nil && st.PID == pid {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Println("\n=== netgate Started ===")
	fmt.Printf("Mode: %s\n", mode.Mode)
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("Data: %s\n", mode.DataDir)
	if !mode.IsRoot {
		fmt.Println("Warning: not running as root, interception will fail to establish")
	}
	fmt.Println("=======================")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	mode := execMode()
	pm := infra.NewProcessManager()
	statusFile := infra.NewStatusFile(mode.StatusPath(), pm)

	st, err := statusFile.Live()
	if errors.Is(err, domain.ErrNotRunning) {
		fmt.Println("netgate is not running")
		return nil
	}
	if err != nil {
		return err
	}

	if err := pm.Terminate(st.PID); err != nil {
		return fmt.Errorf("failed to stop pid %d: %w", st.PID, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for pm.IsRunning(st.PID) && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if pm.IsRunning(st.PID) {
		return fmt.Errorf("pid %d did not exit", st.PID)
	}
	fmt.Println("netgate stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	mode := execMode()
	statusFile := infra.NewStatusFile(mode.StatusPath(), infra.NewProcessManager())

	st, err := statusFile.Live()
	if err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}

	if jsonOutput {
		if st == nil {
			st = &domain.EngineStatus{TunnelState: domain.TunnelUninitialized}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Println("\n=== netgate Status ===")
	if st == nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'netgate start' to enable app control.")
		return nil
	}

	fmt.Printf("Status: RUNNING (pid %d)\n", st.PID)
	fmt.Printf("%s\n\n", st.Text)
	foreground := st.Foreground
	if foreground == "" {
		foreground = "-"
	}
	fmt.Printf("Foreground: %s\n", foreground)
	fmt.Printf("Call state: %s\n", st.CallState)
	fmt.Printf("Tunnel:     %s\n", st.TunnelState)
	if st.Emergency {
		fmt.Println("Emergency:  yes (interception released)")
	}
	fmt.Printf("Selected:   %d (blocked %d, bypassed %d)\n", st.Selected, st.Blocked, st.Bypassed)
	if st.Failures > 0 {
		fmt.Printf("Failures:   %d consecutive\n", st.Failures)
	}
	for _, d := range st.Degraded {
		fmt.Printf("Degraded:   %s\n", d)
	}
	fmt.Printf("Updated:    %s ago\n", time.Since(st.UpdatedAt).Round(time.Second))
	fmt.Println("======================")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	mode := execMode()
	if err := mode.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if configPath == "" {
		configPath = mode.ConfigPath()
	}

	cfgManager := config.NewManager(configPath)
	if err := cfgManager.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := cfgManager.Get()
	if metricsAddr != "" {
		cfg.Daemon.MetricsAddr = metricsAddr
	}

	logger := createLogger(mode.LogPath(), cfg.Level(), cfg.Daemon.LogRotation)
	defer func() { _ = logger.Sync() }()

	serviceConfig, err := cfg.ServiceConfig()
	if err != nil {
		return err
	}

	// Initialize infrastructure
	key, err := infra.EnsureKey(infra.KeyProviderFor(mode))
	if err != nil {
		return fmt.Errorf("failed to load store key: %w", err)
	}
	store, err := infra.NewEncryptedStore(mode.StorePath(), key)
	if err != nil {
		return err
	}
	defer store.Close()

	pm := infra.NewProcessManager()
	statusFile := infra.NewStatusFile(mode.StatusPath(), pm)
	catalog := infra.NewProcessCatalog(cfg.Protection.SystemUIDThreshold)

	var recorder metrics.Recorder = metrics.Noop()
	if cfg.Daemon.MetricsAddr != "" {
		prom := metrics.NewPromRecorder()
		srv, err := metrics.NewService(cfg.Daemon.MetricsAddr, prom.Registry())
		if err != nil {
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		defer srv.Close()
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", srv.Addr().String()))
		recorder = prom
	}

	svc := daemon.NewService(serviceConfig, daemon.Deps{
		Catalog:     catalog,
		Usage:       infra.NewProcessUsageSource(cfg.Protection.SystemUIDThreshold),
		Telephony:   infra.NewStoreTelephonySource(store, callPollInterval, logger.Named("telephony")),
		Selection:   store,
		Interceptor: infra.NewLinuxInterceptor(infra.DefaultInterceptorConfig(), catalog, logger.Named("interceptor")),
		Status:      statusFile,
		Metrics:     recorder,
	}, logger)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("engine started",
		zap.Int("pid", pm.GetCurrentPID()),
		zap.String("mode", string(mode.Mode)),
		zap.String("config", cfgManager.Path()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGUSR1 {
			logger.Debug("selection change notification")
			svc.SelectionChanged()
			continue
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		break
	}

	return svc.Stop()
}

func createLogger(path string, level zapcore.Level, rotation config.LogRotation) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		// Fallback to stdout if file logging fails
		return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stdout), level))
	}

	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(out), level)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.AddSync(out)))
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("netgate %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
