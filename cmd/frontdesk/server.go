package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/frontdesk/internal/api"
	"github.com/kalambet/frontdesk/internal/config"
	"github.com/kalambet/frontdesk/internal/escalation"
	"github.com/kalambet/frontdesk/internal/knowledge"
	"github.com/kalambet/frontdesk/internal/matcher"
	"github.com/kalambet/frontdesk/internal/metrics"
	"github.com/kalambet/frontdesk/internal/notify"
	"github.com/kalambet/frontdesk/internal/storage"
	"github.com/kalambet/frontdesk/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the frontdesk server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running frontdesk server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show frontdesk status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "frontdesk.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	store, err := storage.OpenBackend(ctx, cfg.Storage.Driver, cfg.Storage.DataDir, cfg.Storage.PostgresDSN,
		storage.WithEscalationWindow(cfg.Escalation.Window),
		storage.WithQueryTimeout(cfg.Storage.QueryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// app is the wired server: store, engine, notifier, sweeper and the HTTP and
// MCP surfaces over them.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    storage.Backend
	metrics  *metrics.Metrics
	hub      *api.Hub
	notifier *notify.Async
	closers  []func() error
	engine   *escalation.Engine
	sweeper  *sweeper.Sweeper
	handler  http.Handler
	mcp      *server.MCPServer
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: store}

	next, closeNext, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	if closeNext != nil {
		a.closers = append(a.closers, closeNext)
	}
	a.notifier = notify.NewAsync(next, cfg.Notify.Timeout, logger)

	a.metrics = metrics.New("frontdesk")
	if err := a.metrics.RegisterPendingGauge("frontdesk", a.pendingCount); err != nil {
		a.Close()
		return nil, fmt.Errorf("registering pending gauge: %w", err)
	}

	a.hub = api.NewHub(logger)
	a.engine = escalation.New(store, store, matcher.Default,
		escalation.WithNotifier(a.notifier),
		escalation.WithEvents(a.hub),
		escalation.WithMetrics(a.metrics),
		escalation.WithLogger(logger),
	)
	a.sweeper = sweeper.New(a.engine, cfg.Escalation.SweepInterval,
		sweeper.WithMetrics(a.metrics),
		sweeper.WithLogger(logger),
	)

	var limiter *api.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, a.metrics)
	}
	a.handler = api.NewHandler(api.Deps{
		Engine:  a.engine,
		Metrics: a.metrics,
		Hub:     a.hub,
		Limiter: limiter,
		Token:   cfg.Server.APIToken,
	})
	a.mcp = api.NewMCPServer(api.MCPDeps{Engine: a.engine, Version: version})
	return a, nil
}

func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) (notify.Notifier, func() error, error) {
	switch cfg.Backend {
	case config.NotifyWebhook:
		opts := []notify.WebhookOption{notify.WithHTTPTimeout(cfg.Timeout)}
		if cfg.WebhookToken != "" {
			opts = append(opts, notify.WithBearerToken(cfg.WebhookToken))
		}
		return notify.NewWebhook(cfg.WebhookURL, opts...), nil, nil
	case config.NotifyRedis:
		r := notify.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel)
		return r, r.Close, nil
	case config.NotifyLog, "":
		return notify.Log{Logger: logger}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}

func (a *app) pendingCount() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := a.store.CountHelpRequests(ctx, storage.StatusPending)
	if err != nil {
		a.logger.Warn("counting pending requests", "error", err)
		return math.NaN()
	}
	return float64(n)
}

// seed loads the configured seed file, or the built-in salon facts when the
// knowledge base is empty and no file is configured.
func (a *app) seed(ctx context.Context) error {
	var entries []knowledge.Entry
	switch {
	case a.cfg.Knowledge.SeedFile != "":
		loaded, err := knowledge.LoadFile(a.cfg.Knowledge.SeedFile)
		if err != nil {
			return err
		}
		entries = loaded
	default:
		existing, err := a.store.ListKnowledge(ctx, 1, 0)
		if err != nil {
			return fmt.Errorf("checking knowledge base: %w", err)
		}
		if len(existing) > 0 {
			return nil
		}
		entries = knowledge.DefaultSalon()
	}

	res, err := knowledge.Seed(ctx, a.store, entries)
	if err != nil {
		return fmt.Errorf("seeding knowledge base: %w", err)
	}
	a.logger.Info("knowledge base seeded", "inserted", res.Inserted, "skipped", res.Skipped)
	return nil
}

// Close releases everything newApp opened. Pending caller texts are flushed
// before the store is closed.
func (a *app) Close() error {
	if a.hub != nil {
		a.hub.Close()
	}
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "frontdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, supervisor routes are unauthenticated")
	}

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("frontdesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("frontdesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing: %v\n", err)
		}
	}()

	if err := a.seed(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "frontdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.sweeper.Run(gctx)
		return nil
	})
	if withMCP {
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			stdio := server.NewStdioServer(a.mcp)
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		// Live streams are hijacked connections; Shutdown does not wait for them.
		a.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("frontdesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop frontdesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to frontdesk (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	reportStatus(ctx, client, cfg)
	return nil
}

func reportStatus(ctx context.Context, client *apiClient, cfg config.Config) {
	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		if pending, err := client.listHelpRequests(ctx, string(storage.StatusPending)); err == nil {
			printStatus("Pending requests", "%d", len(pending))
		}
		if top, err := client.mostUsed(ctx, 1); err == nil && len(top) > 0 {
			printStatus("Most used", "%s (%d)", top[0].Question, top[0].UsageCount)
		}
	}

	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Notifier", "%s", cfg.Notify.Backend)
	printStatus("Escalation window", "%s", cfg.Escalation.Window)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
}
