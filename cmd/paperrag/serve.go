package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/paperrag/internal/httpapi"
	"github.com/dshills/paperrag/internal/mcp"
	"github.com/dshills/paperrag/internal/storage"
)

var serveHTTPAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server on stdio.

When http.addr is configured (or --http is given) an ops server also
listens there with /healthz, /jobs and /metrics.

MCP client configuration:
  {
    "mcpServers": {
      "paperrag": {
        "command": "/path/to/paperrag",
        "args": ["serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "ops HTTP listen address (overrides http.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("paperrag v%s starting...", version)
	log.Printf("Build Mode: %s, Driver: %s, Vector Extension: %v",
		storage.BuildMode, storage.DriverName, storage.VectorExtensionAvailable)

	server, err := mcp.NewServer(mcp.Deps{
		Storage:  a.Storage,
		Jobs:     a.Jobs,
		Ingester: a.Pipeline,
		Searcher: a.Searcher,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	errChan := make(chan error, 2)

	addr := a.Config.HTTP.Addr
	if serveHTTPAddr != "" {
		addr = serveHTTPAddr
	}
	var ops *httpapi.Server
	if addr != "" {
		ops = httpapi.NewServer(addr, httpapi.Deps{
			Storage:  a.Storage,
			Jobs:     a.Jobs,
			Ingester: a.Pipeline,
			Metrics:  a.Metrics.Handler(),
		})
		go func() {
			if err := ops.Start(); err != nil {
				errChan <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		log.Println("MCP server ready, listening on stdio...")
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	case err = <-errChan:
	}

	if ops != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if serr := ops.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.Canceled) {
			log.Printf("ops server shutdown: %v", serr)
		}
	}

	log.Println("Server stopped")
	return err
}
