// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Command docqa administers tenants, documents and stores from the shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/leseb/docqa/pkg/app"
	"github.com/leseb/docqa/pkg/core/config"
	"github.com/leseb/docqa/pkg/observability/logging"
)

const usage = `Usage: docqa [-config file] [-v] <command> [arguments]

Commands:
  tenants                          list tenants with state and document count
  create <tenant>                  create an empty tenant
  upload <tenant> <file.pdf>...    copy PDFs into a tenant
  ingest <tenant>                  rebuild the tenant's store
  query [-k n] <tenant> <text>     show the best matching chunks
  answer <tenant> <question>       answer using the configured completion backend
  runs [-n limit] <tenant>         show ingestion history
  delete-store <tenant>            remove the tenant's store, keep documents
  delete-tenant <tenant>           remove the tenant entirely
  clear-stores                     remove every tenant's store
  reset -yes                       remove all tenants, stores and history
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("docqa", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("v", false, "Log to stderr")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, fs.Arg(0))
	}

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}

	logger := logging.Discard()
	if *verbose {
		cfg.Logging.Output = os.Stderr
		logger = logging.New(cfg.Logging)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return cmd(ctx, &cli{app: a, out: out}, fs.Args()[1:])
}
