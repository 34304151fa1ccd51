package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mwieland/graphmail/internal/auth"
	"github.com/mwieland/graphmail/internal/cache"
	"github.com/mwieland/graphmail/internal/graph"
	"github.com/mwieland/graphmail/internal/instrumentation"
	"github.com/mwieland/graphmail/internal/mail"
	"github.com/mwieland/graphmail/internal/resources"
	"github.com/mwieland/graphmail/internal/server"
	"github.com/mwieland/graphmail/internal/tools/mail_tools"
)

// ServeConfig collects the serve command settings after flags and
// environment variables have been merged.
type ServeConfig struct {
	Transport string
	HTTPAddr  string
	Debug     bool

	ClientID  string
	TenantID  string
	TokenFile string

	SearchTTL       time.Duration
	ConversationTTL time.Duration
	BodyTTL         time.Duration
	AttachmentsTTL  time.Duration
	CacheMaxEntries int

	MaxParallel    int
	RequestTimeout time.Duration
	HTTPTimeout    time.Duration

	MetricsEnabled bool
	MetricsAddr    string
}

func newServeCmd() *cobra.Command {
	var cfg ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server that provides Microsoft 365
mail reading tools for AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport

Authentication:
  The server reuses the token saved by 'graphmail login'. Provide the same
  application (client) ID via --client-id or the GRAPH_CLIENT_ID env var so
  expired tokens can be refreshed. Without it the server starts, but tools
  fail once the cached token expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyServeEnv(cmd, &cfg)
			return runServe(cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cfg.Transport, "transport", "stdio", "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().StringVar(&cfg.ClientID, "client-id", "", "Microsoft Entra application (client) ID used for token refresh. Can also use GRAPH_CLIENT_ID env var.")
	cmd.Flags().StringVar(&cfg.TenantID, "tenant-id", "common", "Microsoft Entra tenant ID or 'common'. Can also use GRAPH_TENANT_ID env var.")
	cmd.Flags().StringVar(&cfg.TokenFile, "token-file", "", "Path of the token cache file (default: XDG cache dir). Can also use GRAPHMAIL_TOKEN_FILE env var.")
	cmd.Flags().DurationVar(&cfg.SearchTTL, "search-ttl", mail.DefaultSearchTTL, "Cache retention for search results")
	cmd.Flags().DurationVar(&cfg.ConversationTTL, "conversation-ttl", mail.DefaultConversationTTL, "Cache retention for conversations")
	cmd.Flags().DurationVar(&cfg.BodyTTL, "body-ttl", mail.DefaultBodyTTL, "Cache retention for message bodies")
	cmd.Flags().DurationVar(&cfg.AttachmentsTTL, "attachments-ttl", mail.DefaultAttachmentsTTL, "Cache retention for attachment listings")
	cmd.Flags().IntVar(&cfg.CacheMaxEntries, "cache-max-entries", 0, "Maximum number of cache entries, 0 for unbounded")
	cmd.Flags().IntVar(&cfg.MaxParallel, "max-parallel", 0, "Maximum concurrent provider requests for bulk operations (default: 5)")
	cmd.Flags().DurationVar(&cfg.RequestTimeout, "request-timeout", 0, "Per-item timeout for bulk operations, 0 to disable")
	cmd.Flags().DurationVar(&cfg.HTTPTimeout, "http-timeout", graph.DefaultTimeout, "Timeout for a single provider HTTP request")
	cmd.Flags().BoolVar(&cfg.MetricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port (non-stdio transports only). Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// applyServeEnv fills settings from environment variables when the
// corresponding flag was not set explicitly.
func applyServeEnv(cmd *cobra.Command, cfg *ServeConfig) {
	if !cmd.Flags().Changed("client-id") {
		if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
			cfg.ClientID = v
		}
	}
	if !cmd.Flags().Changed("tenant-id") {
		if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
			cfg.TenantID = v
		}
	}
	if !cmd.Flags().Changed("token-file") {
		if v := os.Getenv("GRAPHMAIL_TOKEN_FILE"); v != "" {
			cfg.TokenFile = v
		}
	}
	if !cmd.Flags().Changed("metrics-enabled") {
		if v := os.Getenv("METRICS_ENABLED"); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				cfg.MetricsEnabled = parsed
			}
		}
	}
	if !cmd.Flags().Changed("metrics-addr") {
		if v := os.Getenv("METRICS_ADDR"); v != "" {
			cfg.MetricsAddr = v
		}
	}
}

func runServe(cfg ServeConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Logs go to stderr; stdout belongs to the stdio transport.
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("instrumentation shutdown failed", "error", err)
		}
	}()

	serverContext, err := buildServerContext(shutdownCtx, cfg, logger, provider)
	if err != nil {
		return err
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("server context shutdown failed", "error", err)
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("graphmail", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)

	if err := mail_tools.RegisterMailTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register mail tools: %w", err)
	}

	if err := resources.RegisterUserResources(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register resources: %w", err)
	}

	// Start metrics server if enabled and not in stdio mode
	var metricsServer *server.MetricsServer
	if cfg.Transport != "stdio" && cfg.MetricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server listening", "addr", metricsServer.Addr())

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		}()
	}

	switch cfg.Transport {
	case "stdio":
		return runStdioServer(mcpSrv)
	case "streamable-http":
		return runStreamableHTTPServer(shutdownCtx, mcpSrv, cfg.HTTPAddr, logger)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", cfg.Transport)
	}
}

// buildServerContext wires the token store, Graph client, response cache,
// and mail facade.
func buildServerContext(ctx context.Context, cfg ServeConfig, logger *slog.Logger, provider *instrumentation.Provider) (*server.ServerContext, error) {
	tokenPath := cfg.TokenFile
	if tokenPath == "" {
		tokenPath = auth.DefaultTokenPath()
	}
	tokenCache := auth.NewFileCache(tokenPath)

	initial, err := tokenCache.Load()
	if err != nil {
		if !errors.Is(err, auth.ErrNoCachedToken) {
			return nil, fmt.Errorf("failed to load token cache: %w", err)
		}
		logger.Warn("no cached token found, run 'graphmail login' to sign in", "path", tokenPath)
	}

	var refresher auth.Refresher
	if cfg.ClientID != "" {
		refresher = auth.NewOAuthRefresher(cfg.ClientID, cfg.TenantID)
	} else {
		logger.Warn("no client ID configured, expired tokens cannot be refreshed")
	}

	tokens := auth.NewStore(initial, refresher,
		auth.WithPersister(tokenCache),
		auth.WithLogger(logger),
		auth.WithMetrics(provider.Metrics()),
	)

	clientOpts := graph.DefaultOptions()
	clientOpts.Timeout = cfg.HTTPTimeout
	clientOpts.Logger = logger
	client := graph.NewClient(tokens, clientOpts)

	responseCache := cache.New(cache.Options{MaxEntries: cfg.CacheMaxEntries})

	svc := mail.NewService(client, responseCache, mail.Config{
		SearchTTL:         cfg.SearchTTL,
		ConversationTTL:   cfg.ConversationTTL,
		BodyTTL:           cfg.BodyTTL,
		AttachmentsTTL:    cfg.AttachmentsTTL,
		MaxParallel:       cfg.MaxParallel,
		PerRequestTimeout: cfg.RequestTimeout,
	}, logger, provider.Metrics())

	return server.NewServerContext(ctx, svc, tokens, provider.Metrics()), nil
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runStreamableHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, addr string, logger *slog.Logger) error {
	httpServer := mcpserver.NewStreamableHTTPServer(mcpSrv)

	logger.Info("streamable HTTP server starting", "addr", addr, "endpoint", "/mcp")

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	return nil
}
