// feedscan watches a feed mixer hopper and labels what is loaded into it.
//
// Usage:
//
//	feedscan scan                 # camera session + operator API on :8080
//	feedscan serve                # classification service on :3000
//	feedscan classify silage.jpg  # label one file and exit
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/teslashibe/go-feedscan/internal/config"
	"github.com/teslashibe/go-feedscan/internal/log"
	"github.com/teslashibe/go-feedscan/pkg/camera"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "feedscan",
		Usage:   "Feed material recognition for mixer hoppers",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Sources: cli.EnvVars("FEEDSCAN_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to .env file",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			newScanCommand(),
			newServeCommand(),
			newClassifyCommand(),
		},
	}
}

// loadConfig resolves the configuration and installs the global logger.
func loadConfig(cmd *cli.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"), cmd.String("env-file"))
	if err != nil {
		return cfg, nil, err
	}
	if cmd.Bool("debug") {
		cfg.LogLevel = "debug"
	}

	logger := log.Setup(log.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	return cfg, logger, nil
}

// constraintsFor turns the camera section into acquisition constraints.
func constraintsFor(c config.CameraConfig) (camera.Constraints, error) {
	cons := camera.DefaultConstraints()
	if c.Preset != "" {
		p := camera.GetPreset(c.Preset)
		if p == nil {
			return cons, fmt.Errorf("unknown camera preset %q (have %v)", c.Preset, camera.PresetNames())
		}
		cons = *p
	}
	if c.Width > 0 && c.Height > 0 {
		cons.Width, cons.Height = c.Width, c.Height
	}
	cons.Device = c.Device

	if errs := cons.Validate(); len(errs) > 0 {
		return cons, fmt.Errorf("invalid camera settings: %v", errs)
	}
	return cons, nil
}
