package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/teslashibe/go-feedscan/pkg/camera"
	"github.com/teslashibe/go-feedscan/pkg/session"
)

func newClassifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Label one image file and print the result",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "service-url",
				Usage: "Classification service base URL",
			},
		},
		Action: runClassify,
	}
}

func runClassify(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("usage: feedscan classify <file>")
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("service-url") {
		cfg.Service.URL = cmd.String("service-url")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// The session starts in upload mode; the camera is never opened.
	m := newMachine(cfg, camera.DefaultConstraints(), logger)
	defer m.Close()

	done := make(chan session.State, 1)
	unsubscribe := m.Subscribe(func(st session.State) {
		if st.Busy || (st.LastResult == nil && st.LastError == nil) {
			return
		}
		select {
		case done <- st:
		default:
		}
	})
	defer unsubscribe()

	if err := m.FileSelected(ctx, data); err != nil {
		return err
	}

	select {
	case st := <-done:
		if st.LastError != nil {
			return st.LastError
		}
		fmt.Println(st.Result())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
