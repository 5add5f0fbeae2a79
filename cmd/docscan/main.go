// docscan is the command-line front end of the scan pipeline.
//
// It runs the same crop -> transcode -> OCR -> title pipeline as the worker,
// builds PDFs from text or page images, submits jobs to the worker queue and
// manages a user's scan history.
//
// Usage:
//
//	docscan scan receipt.jpg --crop 0.05,0.05,0.9,0.9
//	docscan scan receipt.jpg --user u1 --save
//	docscan pdf images page1.jpg page2.jpg -o scan.pdf --size Letter
//	docscan pdf text notes.txt -o notes.pdf --title "Meeting notes"
//	docscan enqueue receipt.jpg --user u1
//	docscan history list --user u1
//	docscan history search --user u1 "invoice march" --semantic
//
// Configuration comes from the environment (and .env.docscan), the same as
// the worker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/docscan-worker/internal/app"
	"github.com/adverant/nexus/docscan-worker/internal/config"
)

type globalOptions struct {
	envFile string
	jsonOut bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "docscan",
		Short:         "Scan documents, extract text and manage scan history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				// A missing env file is fine; the environment may be set already.
				_ = godotenv.Load(opts.envFile)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env.docscan", "environment file to load")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newScanCommand(opts),
		newPDFCommand(opts),
		newEnqueueCommand(opts),
		newHistoryCommand(opts),
	)
	return root
}

// buildApp loads configuration and wires the services a command needs.
func buildApp(ctx context.Context, withHistory bool) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	services, err := app.Build(ctx, cfg, withHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return services, nil
}
