// Package main provides the mcp-server CLI: a standalone process exposing
// an MCP server's tools, resources, and prompts over stdio, HTTP, or
// WebSocket, wrapped in the hardened request pipeline (rate limiting,
// authentication, authorization, metrics).
//
// Usage:
//
//	mcp-server --http --http-port 8080
//	mcp-server --stdio
//	mcp-server --websocket --ws-port 8765
//
// With no mode flag, the server defaults to HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/mcp/builtin"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// serverFlags holds every flag the root command accepts, mirroring spec
// §6's CLI surface exactly.
type serverFlags struct {
	stdio     bool
	httpMode  bool
	websocket bool
	host      string
	httpPort  int
	wsPort    int
	rootPath  string
	debug     bool
}

func buildRootCmd() *cobra.Command {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Standalone MCP server process",
		Long: `mcp-server exposes registered tools, resources, and prompts over the
Model Context Protocol, behind a hardened pipeline of rate limiting,
authentication, authorization, and metrics collection.

Transports: stdio, HTTP, WebSocket. No-mode default is HTTP.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.stdio, "stdio", false, "Serve over stdio")
	cmd.Flags().BoolVar(&flags.httpMode, "http", false, "Serve over HTTP (default if no mode flag given)")
	cmd.Flags().BoolVar(&flags.websocket, "websocket", false, "Serve over WebSocket")
	cmd.Flags().StringVar(&flags.host, "host", "0.0.0.0", "Host to bind HTTP/WebSocket listeners to")
	cmd.Flags().IntVar(&flags.httpPort, "http-port", 8080, "HTTP listener port")
	cmd.Flags().IntVar(&flags.wsPort, "ws-port", 8765, "WebSocket listener port")
	cmd.Flags().StringVar(&flags.rootPath, "root-path", ".", "Root path passed to domain tool contracts")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	return cmd
}

func run(ctx context.Context, flags serverFlags) error {
	if flags.debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	// No-mode default is HTTP.
	if !flags.stdio && !flags.httpMode && !flags.websocket {
		flags.httpMode = true
	}

	core := mcp.NewServerCore("mcp-server", version, slog.Default())
	builtin.RegisterAll(core)

	reg := prometheus.NewRegistry()
	metrics := mcp.NewMetrics(reg)
	limiter := mcp.NewRateLimiter(mcp.DefaultRateLimitConfig())
	authz := mcp.NewAuthorizer(mcp.NewNoneProvider(), &mcp.SlogAuditSink{Logger: slog.Default()})
	hardened := mcp.NewHardenedServer(core, limiter, authz, metrics, mcp.DefaultHardenedConfig(), slog.Default())

	slog.Info("mcp-server starting",
		"version", version, "commit", commit,
		"stdio", flags.stdio, "http", flags.httpMode, "websocket", flags.websocket,
		"root_path", flags.rootPath,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	runTransport := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	if flags.stdio {
		transport := mcp.NewStdioServerTransport(hardened, "stdio", os.Stdin, os.Stdout, slog.Default())
		runTransport(func() error { return transport.Serve(ctx) })
	}

	if flags.httpMode {
		addr := fmt.Sprintf("%s:%d", flags.host, flags.httpPort)
		runTransport(func() error { return serveHTTP(ctx, hardened, reg, addr) })
	}

	if flags.websocket {
		addr := fmt.Sprintf("%s:%d", flags.host, flags.wsPort)
		runTransport(func() error { return serveWebSocket(ctx, hardened, addr) })
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			slog.Error("mcp-server exited with error", "error", err)
			return err
		}
	}
	slog.Info("mcp-server stopped gracefully")
	return nil
}

// serveHTTP layers the Prometheus exposition endpoint over the HTTP
// transport's own mux and runs it with its own listener, so a bind failure
// surfaces before any transport goroutine starts.
func serveHTTP(ctx context.Context, hardened *mcp.HardenedServer, reg *prometheus.Registry, addr string) error {
	transport := mcp.NewHTTPServerTransport(hardened, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", transport.Mux())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(listener) }()

	slog.Info("http transport listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func serveWebSocket(ctx context.Context, hardened *mcp.HardenedServer, addr string) error {
	transport := mcp.NewWSServerTransport(hardened, slog.Default())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}

	httpServer := &http.Server{Handler: transport, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(listener) }()

	slog.Info("websocket transport listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
