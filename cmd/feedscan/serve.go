package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/teslashibe/go-feedscan/pkg/analyzer"
	"github.com/teslashibe/go-feedscan/pkg/inference"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the classification service (POST /api/analyze)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "port",
				Usage: "Listen port",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Vision model",
			},
			&cli.StringFlag{
				Name:  "fallback-model",
				Usage: "Model tried when the primary fails",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("port") {
		cfg.Analyzer.Port = cmd.String("port")
	}
	if cmd.IsSet("model") {
		cfg.Analyzer.Model = cmd.String("model")
	}
	if cmd.IsSet("fallback-model") {
		cfg.Analyzer.FallbackModel = cmd.String("fallback-model")
	}
	if err := cfg.ValidateAnalyzer(); err != nil {
		return err
	}

	models := []string{cfg.Analyzer.Model}
	if cfg.Analyzer.FallbackModel != "" {
		models = append(models, cfg.Analyzer.FallbackModel)
	}

	providers := make([]inference.Provider, 0, len(models))
	for _, model := range models {
		client, err := inference.NewClient(
			inference.WithBaseURL(cfg.Analyzer.BaseURL),
			inference.WithAPIKey(cfg.Analyzer.APIKey),
			inference.WithModel(model),
			inference.WithMaxTokens(cfg.Analyzer.MaxTokens),
			inference.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		providers = append(providers, client)
	}
	chain, err := inference.NewChainWithLogger(logger, providers...)
	if err != nil {
		return err
	}

	svc := analyzer.New(chain,
		analyzer.WithLogger(logger),
		analyzer.WithMaxTokens(cfg.Analyzer.MaxTokens),
	)
	srv := analyzer.NewServer(svc, cfg.Analyzer.Port, cmd.Bool("debug"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

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
