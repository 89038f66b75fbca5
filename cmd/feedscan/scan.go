package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/teslashibe/go-feedscan/internal/config"
	"github.com/teslashibe/go-feedscan/pkg/camera"
	"github.com/teslashibe/go-feedscan/pkg/camera/gocvcam"
	"github.com/teslashibe/go-feedscan/pkg/dispatch"
	"github.com/teslashibe/go-feedscan/pkg/session"
	"github.com/teslashibe/go-feedscan/pkg/web"
)

const shutdownTimeout = 5 * time.Second

func newScanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Run a camera session with the operator control API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "service-url",
				Usage: "Classification service base URL",
			},
			&cli.StringFlag{
				Name:  "device",
				Usage: "Camera device index or stream URL",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Live scan interval",
			},
			&cli.BoolFlag{
				Name:  "live",
				Usage: "Start live scanning once the camera is up",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "Control API port",
			},
			&cli.StringFlag{
				Name:  "static",
				Usage: "Directory with an operator UI to serve at /",
			},
		},
		Action: runScan,
	}
}

func runScan(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	cons, err := constraintsFor(cfg.Camera)
	if err != nil {
		return err
	}

	m := newMachine(cfg, cons, logger)
	defer m.Close()

	srv := web.NewServer(m, cfg.Web.Port,
		web.WithLogger(logger),
		web.WithStaticDir(cfg.Web.StaticDir),
		web.WithDebug(cmd.Bool("debug")),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// A missing camera is not fatal; the operator can still upload files.
	if err := m.ToCamera(ctx); err != nil {
		logger.Warn("camera unavailable, upload mode still works", "error", err)
	} else if cfg.Scan.StartLive {
		if err := m.SetLive(true); err != nil {
			logger.Warn("could not start live scan", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func applyScanFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("service-url") {
		cfg.Service.URL = cmd.String("service-url")
	}
	if cmd.IsSet("device") {
		cfg.Camera.Device = cmd.String("device")
	}
	if cmd.IsSet("interval") {
		cfg.Scan.Interval = cmd.Duration("interval")
	}
	if cmd.IsSet("live") {
		cfg.Scan.StartLive = cmd.Bool("live")
	}
	if cmd.IsSet("port") {
		cfg.Web.Port = cmd.String("port")
	}
	if cmd.IsSet("static") {
		cfg.Web.StaticDir = cmd.String("static")
	}
}

// newMachine wires the camera, classifier and dispatcher into a session.
func newMachine(cfg config.Config, cons camera.Constraints, logger *slog.Logger) *session.Machine {
	cam := camera.NewSession(gocvcam.New(), logger)
	classifier := dispatch.NewHTTPClassifier(cfg.Service.URL,
		dispatch.WithTimeout(cfg.Service.Timeout),
		dispatch.WithClassifierLogger(logger),
	)
	d := dispatch.New(classifier, dispatch.WithLogger(logger))

	return session.New(cam, d,
		session.WithConstraints(cons),
		session.WithInterval(cfg.Scan.Interval),
		session.WithQualities(cfg.Scan.LiveQuality, cfg.Scan.ManualQuality),
		session.WithLogger(logger),
	)
}
