package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragdex/internal/config"
	"github.com/kailas-cloud/ragdex/internal/domain"
	logpkg "github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/transport/fetch"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

var (
	askURLs   []string
	askStream bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question] [file...]",
	Short: "Ingest files and answer one question",
	Long: `Ingests the given files (and --url pages) into a fresh in-memory corpus,
answers the question and prints the answer followed by its citations.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVar(&askURLs, "url", nil, "web page to ingest (repeatable)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	env := resolveEnv()
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the answer; keep logs quiet unless asked for.
	level := cfg.Logging.Level
	if level == "" || level == "debug" || level == "info" {
		level = "warn"
	}
	logger, err := logpkg.NewLogger(env, level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	question, files := args[0], args[1:]
	if err := ingestFiles(ctx, cmd, a.pipeline, files); err != nil {
		return err
	}
	if len(askURLs) > 0 {
		f := fetch.New(fetch.Config{
			Timeout:   time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
			UserAgent: cfg.Fetch.UserAgent,
			MaxBytes:  cfg.Fetch.MaxBytes,
			Rate:      cfg.Fetch.RequestsPerSecond,
			Burst:     cfg.Fetch.Burst,
		}, logger)
		if err := ingestURLs(ctx, cmd, a.pipeline, f, askURLs); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if askStream {
		return streamAnswer(ctx, out, a.pipeline, question)
	}

	ans, err := a.pipeline.Query(ctx, question)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	fmt.Fprintln(out, ans.Answer)
	printCitations(out, ans.Chunks)
	return nil
}

func ingestFiles(ctx context.Context, cmd *cobra.Command, p *pipeline.Service, files []string) error {
	for _, path := range files {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := p.AddDocument(ctx, data, filepath.Base(path), pipeline.IngestOptions{})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		cmd.PrintErrf("ingested %s: %s, %d chunks\n", res.Filename, res.Status, res.ChunksCreated)
	}
	return nil
}

func ingestURLs(ctx context.Context, cmd *cobra.Command, p *pipeline.Service, f *fetch.Fetcher, urls []string) error {
	for _, raw := range urls {
		target, err := f.Check(ctx, raw)
		if err != nil {
			return fmt.Errorf("url %s: %w", raw, err)
		}
		text, err := f.FetchText(ctx, target)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", target, err)
		}
		res, err := p.AddText(ctx, text, target, domain.SourceTypeURL, pipeline.IngestOptions{Mode: pipeline.ModeURL})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", target, err)
		}
		cmd.PrintErrf("ingested %s: %s, %d chunks\n", target, res.Status, res.ChunksCreated)
	}
	return nil
}

func streamAnswer(ctx context.Context, out io.Writer, p *pipeline.Service, question string) error {
	var citations []pipeline.Citation
	err := p.QueryStream(ctx, question, func(ev pipeline.StreamEvent) error {
		switch ev.Type {
		case pipeline.EventChunks:
			citations = ev.Chunks
		case pipeline.EventToken:
			_, err := io.WriteString(out, ev.Token)
			return err
		case pipeline.EventDone:
			fmt.Fprintln(out)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("query: %w", err)
	}
	printCitations(out, citations)
	return nil
}

func printCitations(out io.Writer, citations []pipeline.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for _, c := range citations {
		fmt.Fprintf(out, "  [%s:%d] score %d\n", c.Source, c.Index, c.Score)
	}
}
