package main

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/paperrag/internal/figures"
	"github.com/dshills/paperrag/internal/searcher"
	"github.com/dshills/paperrag/pkg/types"
)

var (
	queryTopK    int
	queryPapers  []string
	querySection string
	queryMode    string
	queryFigures bool
	queryJSON    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search indexed papers",
	Long: `Runs hybrid retrieval over indexed chunks. Dense and sparse rankings are
fused with reciprocal rank fusion unless --mode selects one of them.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "n", 0, "number of results (default search.default_top_k)")
	queryCmd.Flags().StringSliceVarP(&queryPapers, "paper", "p", nil, "restrict to paper IDs")
	queryCmd.Flags().StringVarP(&querySection, "section", "s", "", "restrict to a section type, e.g. methods")
	queryCmd.Flags().StringVar(&queryMode, "mode", string(searcher.SearchModeHybrid), "hybrid, dense or sparse")
	queryCmd.Flags().BoolVar(&queryFigures, "render-figures", false, "inline referenced figures as images")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	resp, err := a.Searcher.Search(ctx, searcher.SearchRequest{
		Query:    args[0],
		PaperIDs: queryPapers,
		Section:  querySection,
		TopK:     queryTopK,
		Mode:     searcher.SearchMode(queryMode),
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	results := resp.Results
	if queryFigures {
		for i := range results {
			results[i].Content, err = figures.Render(ctx, a.Storage, results[i].Metadata.PaperID, results[i].Content)
			if err != nil {
				return fmt.Errorf("render figures: %w", err)
			}
		}
	}

	if queryJSON {
		data, err := json.MarshalIndent(map[string]any{"results": results}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printResults(cmd, results)
	return nil
}

func printResults(cmd *cobra.Command, results []types.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, r := range results {
		md := r.Metadata
		title := md.SectionTitle
		if title == "" {
			title = md.Section
		}
		cmd.Printf("  [%d] %s / %s (%.4f)\n", i+1, md.PaperID, title, r.Score)
		if len(md.Figures) > 0 {
			cmd.Printf("      Figures: %s\n", strings.Join(md.Figures, ", "))
		}
		cmd.Printf("      %s\n\n", snippet(r.Content, 240))
	}
}

// snippet flattens whitespace and cuts at a rune boundary
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
