// Package main provides the go-backend-launcher CLI entry point.
//
// go-backend-launcher starts a separately packaged backend service (by
// default java -jar backend.jar), waits until it is reachable and keeps it
// supervised until the launcher quits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-backend-launcher/internal/app"
	"github.com/randomizedcoder/go-backend-launcher/internal/config"
	"github.com/randomizedcoder/go-backend-launcher/internal/logging"
	"github.com/randomizedcoder/go-backend-launcher/internal/metrics"
	"github.com/randomizedcoder/go-backend-launcher/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-backend-launcher
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before config loading)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-backend-launcher %s\n", version)
			return 0
		}
	}

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Printf("go-backend-launcher %s\n", version)
		return 0
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n", err)
		return 1
	}

	// The terminal presenter owns the screen; diagnostics modes never use it.
	interactive := cfg.TUIEnabled && !cfg.PrintCmd && !cfg.Check

	logger, closeLog, err := newLogger(cfg, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()
	logging.SetDefault(logger)

	opts := app.Options{Version: version}
	if !interactive {
		opts.Output = os.Stdout
	}
	a, err := app.New(cfg, logger, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Handle -print-cmd mode
	if cfg.PrintCmd {
		fmt.Println("# Backend command that would be run:")
		fmt.Println()
		fmt.Println(a.CommandString())
		return 0
	}

	// Handle -check mode
	if cfg.Check {
		if result := a.Preflight(); !result.Passed {
			fmt.Fprintf(os.Stderr, "Preflight failed: %s\n", result.Summary())
			return 1
		}
		return 0
	}

	logger.Info("starting",
		"version", version,
		"backend", a.CommandString(),
		"health", a.Supervisor().Endpoint(),
		"tui", interactive,
		"keep_alive", cfg.KeepAlive,
		"metrics_addr", cfg.MetricsAddr,
	)

	ctx := context.Background()
	if interactive {
		err = runTUI(ctx, a, cfg, logger)
	} else {
		printBanner(cfg, a)
		err = a.Run(ctx, app.NewHeadless(logger, a))
	}

	if cfg.MetricsDump != "" {
		if dumpErr := metrics.DumpToFile(cfg.MetricsDump, a.Gatherer()); dumpErr != nil {
			logger.Warn("metrics_dump_failed", "path", cfg.MetricsDump, "error", dumpErr)
		} else {
			logger.Info("metrics_dumped", "path", cfg.MetricsDump)
		}
	}

	a.PrintExitSummary(os.Stdout)

	if err != nil {
		logger.Error("launcher_failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", app.FatalStartupMessage, err)
		return 1
	}
	return 0
}

// runTUI runs the terminal presenter on this goroutine and the app beside
// it. Whichever ends first brings the other down.
func runTUI(ctx context.Context, a *app.App, cfg *config.Config, logger *slog.Logger) error {
	presenter := tui.NewPresenter(
		tui.New(tui.Config{
			Controls:       a,
			StartupTimeout: cfg.StartupTimeout,
		}),
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx, presenter) }()

	if err := presenter.Run(); err != nil {
		logger.Warn("tui_failed", "error", err)
	}
	a.RequestQuit()
	return <-errCh
}

// newLogger builds the logger for the selected mode. While the terminal
// presenter is active logs go to -log-file or nowhere.
func newLogger(cfg *config.Config, interactive bool) (*slog.Logger, func(), error) {
	noop := func() {}

	if cfg.LogFile == "" {
		if interactive {
			return logging.Discard(), noop, nil
		}
		return logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel, cfg.Verbose), noop, nil
	}

	f, err := logging.OpenLogFile(cfg.LogFile)
	if err != nil {
		return nil, noop, err
	}
	var w io.Writer = f
	if !interactive {
		w = io.MultiWriter(os.Stderr, f)
	}
	return logging.NewLogger(w, cfg.LogFormat, cfg.LogLevel, cfg.Verbose), func() { f.Close() }, nil
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, a *app.App) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       go-backend-launcher                         ║")
	fmt.Println("║         Backend Process Supervision with Health Gating            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Backend:     %s\n", a.CommandString())
	fmt.Printf("  Health:      %s (%s)\n", a.Supervisor().Endpoint(), cfg.HealthMode)
	fmt.Printf("  Startup:     %s deadline, %s settle\n", cfg.StartupTimeout, cfg.SettleDelay)
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop (SIGHUP relaunches).")
	fmt.Println()
}
