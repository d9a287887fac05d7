package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/paperrag/internal/app"
)

var papersJSON bool

var papersCmd = &cobra.Command{
	Use:   "papers",
	Short: "List papers and their ingestion status",
	Args:  cobra.NoArgs,
	RunE:  runPapers,
}

func init() {
	papersCmd.Flags().BoolVar(&papersJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(papersCmd)
}

type paperRow struct {
	PaperID    string `json:"paper_id"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

func runPapers(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := app.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	papers, err := store.ListPapers(cmd.Context())
	if err != nil {
		return fmt.Errorf("list papers: %w", err)
	}

	rows := make([]paperRow, 0, len(papers))
	for _, p := range papers {
		rows = append(rows, paperRow{
			PaperID:    p.PaperID,
			Title:      p.Title,
			Status:     string(p.Status),
			ChunkCount: p.ChunkCount,
			Error:      p.ErrorMessage,
		})
	}

	if papersJSON {
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}
	if len(rows) == 0 {
		cmd.Println("No papers ingested.")
		return nil
	}
	for _, r := range rows {
		cmd.Printf("  %-20s %-10s %5d  %s\n", r.PaperID, r.Status, r.ChunkCount, r.Title)
		if r.Error != "" {
			cmd.Printf("  %-20s error: %s\n", "", r.Error)
		}
	}
	return nil
}
