package main

import (
	"github.com/fxnlabs/hwrt/internal/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write the built-in config to a file",
		ArgsUsage: "[path]",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				path = "config.yaml"
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			appLogger(c).Info("Wrote config", zap.String("path", path))
			return nil
		},
	}
}
