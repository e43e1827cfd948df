// Command ztguard runs the threat scoring engine.
// Usage:
//
//	ztguard serve [-config ztguard.yaml] [-listen :8080]
//	ztguard scan [-config ztguard.yaml] URL...
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raysh454/ztguard/internal/app"
	"github.com/raysh454/ztguard/internal/cli"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/scanner"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ztguard:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	args, err := cli.ParseArgs(argv)
	if err != nil {
		return err
	}
	cfg, err := app.LoadConfig(args.ConfigPath)
	if err != nil {
		return err
	}
	if args.ListenAddr != "" {
		cfg.Server.ListenAddr = args.ListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args.Command {
	case cli.CommandServe:
		logger := logging.NewLogger(os.Stdout, "ztguard", logging.ParseLevel(cfg.LogLevel))
		a, err := app.NewApplication(ctx, cfg, logger)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	case cli.CommandScan:
		// records go to stdout, logs to stderr
		logger := logging.NewLogger(os.Stderr, "ztguard", logging.ParseLevel(cfg.LogLevel))
		return scan(ctx, cfg, logger, args.URLs)
	}
	return nil
}

func scan(ctx context.Context, cfg *app.Config, logger logging.Logger, urls []string) error {
	eng, err := app.NewEngine(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	items, err := eng.Scanner.ScanBatch(ctx, urls, scanner.Request{UserAgent: "ztguard-cli"})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
