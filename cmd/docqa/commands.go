// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/leseb/docqa/pkg/app"
	"github.com/leseb/docqa/pkg/ingest"
)

type command func(ctx context.Context, c *cli, args []string) error

var commands = map[string]command{
	"tenants":       listTenants,
	"create":        createTenant,
	"upload":        upload,
	"ingest":        ingestTenant,
	"query":         query,
	"answer":        answerQuestion,
	"runs":          runs,
	"delete-store":  deleteStore,
	"delete-tenant": deleteTenant,
	"clear-stores":  clearStores,
	"reset":         reset,
}

type cli struct {
	app *app.App
	out io.Writer
}

func (c *cli) ok(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(c.out, "✓ "+format+"\n", args...)
}

func (c *cli) warn(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(c.out, format+"\n", args...)
}

// oneTenant checks that args is exactly a tenant name.
func oneTenant(args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage
	}
	return args[0], nil
}

func listTenants(ctx context.Context, c *cli, args []string) error {
	tenants, err := c.app.Manager.ListTenants(ctx)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		c.warn("No tenants")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tSTATE\tDOCUMENTS")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", t.Name, t.State, t.Documents)
	}
	return tw.Flush()
}

func createTenant(ctx context.Context, c *cli, args []string) error {
	tn, err := oneTenant(args)
	if err != nil {
		return err
	}
	if err := c.app.Manager.CreateTenant(ctx, tn); err != nil {
		return err
	}
	c.ok("Created tenant %s", tn)
	return nil
}

func upload(ctx context.Context, c *cli, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	tn := args[0]
	for _, path := range args[1:] {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		if err := c.app.Manager.PutDocument(ctx, tn, name, content); err != nil {
			return err
		}
		c.ok("Uploaded %s (%d bytes)", name, len(content))
	}
	return nil
}

func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

var stageLabels = map[ingest.Stage]string{
	ingest.StageLoading:   " Loading documents...",
	ingest.StageEmbedding: " Embedding chunks...",
}

func ingestTenant(ctx context.Context, c *cli, args []string) error {
	tn, err := oneTenant(args)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	var stage ingest.Stage
	progress := func(e ingest.Event) {
		switch e.Stage {
		case ingest.StageLoading, ingest.StageEmbedding:
			if stage != e.Stage {
				if bar != nil {
					_ = bar.Finish()
					fmt.Fprintln(c.out)
				}
				stage = e.Stage
				bar = newProgressBar(c.out, e.Total, stageLabels[e.Stage])
			}
			_ = bar.Set(e.Done)
		case ingest.StageLoaded:
			if bar != nil {
				_ = bar.Set(e.Done)
			}
		case ingest.StageDone:
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(c.out)
			}
		}
	}

	rep, err := c.app.Pipeline.IngestWithProgress(ctx, tn, progress)
	if err != nil {
		return err
	}
	for _, f := range rep.Failures {
		c.warn("Skipped %s: %s", f.Source, f.Error)
	}
	if rep.Truncated {
		c.warn("Chunk limit reached, dropped %d chunks", rep.Dropped)
	}
	c.ok("Learned %d documents into %d chunks in %s", rep.Documents-len(rep.Failures), rep.Chunks, rep.Duration.Round(time.Millisecond))
	return nil
}

func query(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	k := fs.Int("k", 0, "number of results")
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		return errUsage
	}
	tn, text := fs.Arg(0), strings.Join(fs.Args()[1:], " ")

	results, err := c.app.Retrieval.Query(ctx, tn, text, *k)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		c.warn("No results")
		return nil
	}
	header := color.New(color.FgCyan)
	for i, r := range results {
		header.Fprintf(c.out, "%d. %s p.%d (score %.3f)\n", i+1, r.Source, r.Page, r.Score)
		fmt.Fprintf(c.out, "%s\n\n", r.Text)
	}
	return nil
}

func answerQuestion(ctx context.Context, c *cli, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	if c.app.Answer == nil {
		return fmt.Errorf("no completion backend configured (set answer.backend)")
	}
	ans, err := c.app.Answer.Answer(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, ans.Text)
	color.New(color.FgCyan).Fprintf(c.out, "\n(model %s, %d sources)\n", ans.Model, len(ans.Sources))
	return nil
}

func runs(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("n", 10, "number of runs")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	tn := fs.Arg(0)
	if err := c.app.Manager.CheckTenant(ctx, "runs", tn); err != nil {
		return err
	}
	list, err := c.app.History.List(ctx, tn, *limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		c.warn("No runs")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tDOCUMENTS\tCHUNKS\tERROR")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.Documents, r.Chunks, r.Error)
	}
	return tw.Flush()
}

func deleteStore(ctx context.Context, c *cli, args []string) error {
	tn, err := oneTenant(args)
	if err != nil {
		return err
	}
	if err := c.app.Manager.DeleteStore(ctx, tn); err != nil {
		return err
	}
	c.ok("Deleted store of %s", tn)
	return nil
}

func deleteTenant(ctx context.Context, c *cli, args []string) error {
	tn, err := oneTenant(args)
	if err != nil {
		return err
	}
	if err := c.app.Manager.DeleteTenant(ctx, tn); err != nil {
		return err
	}
	c.ok("Deleted tenant %s", tn)
	return nil
}

func clearStores(ctx context.Context, c *cli, args []string) error {
	n, err := c.app.Manager.ClearAllStores(ctx)
	if err != nil {
		return err
	}
	c.ok("Deleted %d stores", n)
	return nil
}

func reset(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	yes := fs.Bool("yes", false, "confirm")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if !*yes {
		return fmt.Errorf("reset removes every tenant; pass -yes to confirm")
	}
	if err := c.app.Manager.Reset(ctx); err != nil {
		return err
	}
	c.ok("Reset all data")
	return nil
}
