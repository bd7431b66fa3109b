package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/talentsift/talentsift/internal/api"
	"github.com/talentsift/talentsift/internal/config"
	"github.com/talentsift/talentsift/internal/engine"
	"github.com/talentsift/talentsift/internal/index"
	"github.com/talentsift/talentsift/internal/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the resume index over HTTP (foreground)",
	Long: `Serve the resume index over HTTP.

Endpoints:
  POST /search  {"query": "...", "top_k": 5}
  POST /build   {"mode": "full"|"incremental"}
  GET  /status

If server.token is configured, all endpoints require a matching
Authorization: Bearer header.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

		eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel); err != nil {
			return err
		}

		builder, err := newBuilder(cfg, eng)
		if err != nil {
			return err
		}
		qe := newQueryEngine(cfg, eng, true)
		defer qe.Close()

		// Fast path: load the persisted index if one exists. A missing or
		// stale index is not fatal; /search answers 409 until /build runs.
		if err := qe.Load(cfg.Index.Path); err != nil {
			printWarning("Index not loaded: %v", err)
			printStep("POST /build will create it")
		} else {
			meta, _ := qe.Meta()
			printSuccess("Index loaded: %d documents", meta.DocumentCount)
		}

		rebuild := func(buildCtx context.Context, mode index.Mode) (index.BuildReport, error) {
			qe.SetBuilding()
			report, buildErr := builder.Build(buildCtx, mode)
			// Reload whatever snapshot is current; after a failed build
			// that is still the previous one.
			if loadErr := qe.Load(cfg.Index.Path); loadErr != nil && buildErr == nil {
				buildErr = loadErr
			}
			return report, buildErr
		}

		handler := api.NewHandler(api.Deps{
			Searcher: qe,
			Rebuild:  rebuild,
			Token:    cfg.Server.Token,
		})

		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
		srv := &http.Server{Addr: addr, Handler: handler}

		errCh := make(chan error, 1)
		go func() {
			fmt.Fprintf(os.Stderr, "talentsift listening on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the resume index to MCP clients over stdio",
	Long: `Serve the resume index to MCP clients over stdio.

Exposes two tools: search_resumes(query, limit) and index_status().
Intended to be launched by an MCP-capable agent, not interactively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		// Logs must stay off stdout: stdout carries the MCP protocol.
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

		eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel); err != nil {
			return err
		}

		qe := newQueryEngine(cfg, eng, true)
		defer qe.Close()
		if err := qe.Load(cfg.Index.Path); err != nil {
			if !errors.Is(err, search.ErrNotReady) && !errors.Is(err, search.ErrModelMismatch) {
				return err
			}
			// Serve anyway; search_resumes reports the not-ready state.
			slog.Warn("index not loaded", "error", err)
		}

		stdioSrv := server.NewStdioServer(api.NewMCPServer(qe))
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}
