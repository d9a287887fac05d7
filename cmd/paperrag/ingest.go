package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/paperrag/internal/app"
	"github.com/dshills/paperrag/internal/jobs"
	"github.com/dshills/paperrag/internal/pipeline"
)

var ingestTimeout time.Duration

var ingestCmd = &cobra.Command{
	Use:   "ingest <paper-id> [file]",
	Short: "Ingest one paper and wait for it to finish",
	Long: `Downloads, parses and indexes a paper. With a file argument the paper is
read from that PDF or markdown file instead of the configured source.

A paper that is already completed is not ingested again.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "maximum time to wait for the job")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	paperID := args[0]

	var opts []app.Option
	if len(args) == 2 {
		opts = append(opts, app.WithDownloader(pipeline.StaticDownloader{paperID: args[1]}))
	}

	a, err := openApp(cmd.Context(), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	req, err := a.Pipeline.RequestIngestion(cmd.Context(), paperID)
	if err != nil {
		return fmt.Errorf("ingestion request failed: %w", err)
	}
	if req.Method == pipeline.MethodAlreadyCompleted {
		cmd.Printf("%s already ingested\n", paperID)
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	job, err := a.Pipeline.Wait(ctx, paperID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s", ingestTimeout)
		}
		return err
	}
	if job.Status != jobs.StatusCompleted {
		return fmt.Errorf("ingestion of %s failed: %s", paperID, job.Error)
	}

	paper, err := a.Storage.GetPaper(cmd.Context(), paperID)
	if err != nil {
		return err
	}
	cmd.Printf("Ingested %s: %q, %d chunks\n", paperID, paper.Title, paper.ChunkCount)
	return nil
}
