// Command zns-send dispatches one recipient file from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "zns-send",
		Usage:   "Send ZNS template messages to a recipient file",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "Path to the YAML config (missing file means defaults and env)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "send",
				Usage: "Send the template to every recipient in the file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Required: true,
						Usage:    "Recipient CSV: local path, file:// or s3://bucket/key",
					},
					&cli.StringFlag{
						Name:     "template",
						Aliases:  []string{"t"},
						Required: true,
						Usage:    "ZNS template id",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Pace and report as usual without calling ZNS",
					},
					&cli.StringFlag{
						Name:  "results",
						Usage: "Write per-recipient results as JSON to this path",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runSend(ctx, sendOptions{
						configPath:  cmd.String("config"),
						source:      cmd.String("file"),
						templateID:  cmd.String("template"),
						dryRun:      cmd.Bool("dry-run"),
						resultsPath: cmd.String("results"),
					}, os.Stdout, os.Stderr)
				},
			},
			{
				Name:  "validate",
				Usage: "Parse the recipient file and report problems without sending",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Required: true,
						Usage:    "Recipient CSV: local path, file:// or s3://bucket/key",
					},
					&cli.StringFlag{
						Name:     "template",
						Aliases:  []string{"t"},
						Required: true,
						Usage:    "ZNS template id",
					},
					&cli.IntFlag{
						Name:  "sample",
						Value: 3,
						Usage: "Number of parsed jobs to print",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runValidate(ctx, cmd.String("config"), cmd.String("file"), cmd.String("template"), int(cmd.Int("sample")), os.Stdout)
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
