package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/SimplyPrint/sign-agent/internal/api"
	"github.com/SimplyPrint/sign-agent/internal/config"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/service"
	"github.com/SimplyPrint/sign-agent/internal/settings"
	"github.com/SimplyPrint/sign-agent/internal/tray"
)

var runFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "no-tray",
		Usage: "run without system tray (headless mode)",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Usage: "log debug messages",
	},
}

func main() {
	app := &cli.App{
		Name:  "sign-agent",
		Usage: "Local signing service for smart cards and software keystores",
		Description: "Environment variables:\n" +
			"   SIGN_AGENT_PORT            Port to listen on (default: 32146)\n" +
			"   SIGN_AGENT_HOST            Host to bind to (default: 127.0.0.1)\n" +
			"   SIGN_AGENT_DATA_DIR        Registry location (default: user config dir)\n" +
			"   SIGN_AGENT_PLATFORM_URL    Signing platform base URL (optional)\n" +
			"   SIGN_AGENT_ALLOWED_ORIGINS Web origins allowed to call the agent (default: platform origin)\n" +
			"   SIGN_AGENT_P12             PKCS#12 keystore file (optional)",
		Flags:  runFlags,
		Action: runAgent,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the agent (default)",
				Flags:  runFlags,
				Action: runAgent,
			},
			{
				Name:  "install",
				Usage: "Install auto-start at login",
				Action: func(*cli.Context) error {
					if err := service.New().Install(); err != nil {
						return fmt.Errorf("failed to install service: %w", err)
					}
					fmt.Println("Auto-start service installed successfully")
					return nil
				},
			},
			{
				Name:  "uninstall",
				Usage: "Remove auto-start at login",
				Action: func(*cli.Context) error {
					if err := service.New().Uninstall(); err != nil {
						return fmt.Errorf("failed to uninstall service: %w", err)
					}
					fmt.Println("Auto-start service removed successfully")
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(*cli.Context) error {
					printVersion()
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "sign-agent: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("sign-agent %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

func runAgent(cCtx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := logging.LevelInfo
	if cCtx.Bool("log-debug") {
		level = logging.LevelDebug
	}
	logging.Init(1000, level)
	logging.Info(logging.CatSystem, "Sign Agent starting", map[string]any{
		"version": api.Version,
		"config":  cfg.String(),
	})

	if _, err := settings.Load(); err != nil {
		logging.Warn(logging.CatSystem, "Failed to load settings, using defaults", map[string]any{
			"error": err.Error(),
		})
	}
	if logging.InitSentry(api.Version, settings.IsCrashReportingEnabled()) {
		defer logging.FlushSentry(2 * time.Second)
	}
	defer logging.RecoverAndLog("main", true)

	a, err := newAgent(cCtx.Context, cfg)
	if err != nil {
		logging.CaptureError(err, "startup", nil)
		return err
	}

	useTray := !cCtx.Bool("no-tray") && tray.IsSupported()
	if !useTray {
		if cCtx.Bool("no-tray") {
			logging.Info(logging.CatSystem, "Running in headless mode (no system tray)", nil)
		} else {
			logging.Info(logging.CatSystem, "System tray not supported on this platform, running headless", nil)
		}
	}
	return a.run(cCtx.Context, useTray)
}
