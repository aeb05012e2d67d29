// Package main implements a GitHub App bot that assigns issues and pull requests
// round-robin from each repository's configured rotation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/auto-assign/pkg/assign"
	"github.com/codeGROOVE-dev/auto-assign/pkg/cache"
	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/github"
	"github.com/codeGROOVE-dev/auto-assign/pkg/resolver"
	"github.com/codeGROOVE-dev/auto-assign/pkg/rotation"
	"github.com/codeGROOVE-dev/auto-assign/pkg/storage"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"
	"github.com/codeGROOVE-dev/auto-assign/pkg/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

var (
	// GitHub App authentication flags.
	appID        = flag.String("app-id", "", "GitHub App ID for authentication")
	appKeyPath   = flag.String("app-key-path", "", "Path to GitHub App private key file")
	appKeySecret = flag.String("app-key-secret", "", "Google Secret Manager secret holding the GitHub App private key")

	// Behavior flags.
	dryRun           = flag.Bool("dry-run", false, "Compute rotations without saving them or assigning anyone")
	configCache      = flag.Duration("config-cache", 5*time.Minute, "Cache duration for repository configuration files")
	conflictAttempts = flag.Uint("conflict-attempts", 5, "Attempts to save a rotation that changed concurrently")
	useSprinkler     = flag.Bool("sprinkler", false, "Also receive pull request events over the sprinkler websocket")
	refreshDelay     = flag.Duration("refresh-delay", 5*time.Minute, "Delay between installation refreshes for sprinkler monitors")
	webhookSecret    = flag.String("webhook-secret", "", "Secret used to verify webhook signatures")
)

const (
	handledTTL      = 24 * time.Hour
	freshPRWindow   = time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "GitHub App bot that assigns issues and pull requests from a rotating team queue.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_ID               - GitHub App ID\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY              - GitHub App private key content\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY_SECRET       - Secret name in Google Secret Manager for private key\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY_PATH         - Path to GitHub App private key file\n")
		fmt.Fprintf(os.Stderr, "  WEBHOOK_SECRET              - Webhook signature secret\n")
		fmt.Fprintf(os.Stderr, "  STORAGE_TYPE                - memory, disk, or postgres (default: disk)\n")
		fmt.Fprintf(os.Stderr, "  QUEUE_DIR                   - Directory for the disk store\n")
		fmt.Fprintf(os.Stderr, "  DATABASE_URL, DB_*          - Postgres connection settings\n")
		fmt.Fprintf(os.Stderr, "  PORT                        - HTTP server port (default: 8080)\n")
	}
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Environment from a local .env file, if any. Real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		slog.Error("Bot exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	client, err := github.New(ctx, github.Config{
		UseAppAuth:   true,
		AppID:        *appID,
		AppKeyPath:   *appKeyPath,
		AppKeySecret: *appKeySecret,
		HTTPTimeout:  30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	storeCfg := storage.FromEnv()
	store, cleanup, err := storage.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", storeCfg.Type, err)
	}
	defer cleanup()

	loader := github.NewConfigLoader(client, *configCache)
	defer loader.Close()

	bot := newBot(client, assign.New(loader, store, github.NewAssigner(client), assign.Options{
		ConflictAttempts: *conflictAttempts,
		DryRun:           *dryRun,
		Files:            client,
	}))
	defer bot.handled.Close()
	if p, ok := store.(pinger); ok {
		bot.store = p
	}

	secret := *webhookSecret
	if secret == "" {
		secret = os.Getenv("WEBHOOK_SECRET")
	}
	if secret == "" {
		slog.Warn("No webhook secret configured, signatures will not be verified")
	}
	hook := webhook.New(bot, webhook.Options{Invalidator: loader, Secret: secret})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      bot.router(hook),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", port, "storage", storeCfg.Type, "dry_run", *dryRun)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if *useSprinkler {
		go bot.runSprinklers(ctx, *refreshDelay)
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// gitHub is the subset of the GitHub client the bot uses directly.
type gitHub interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*types.Item, error)
	TokenForOwner(ctx context.Context, owner string) (string, error)
	ListAppInstallations(ctx context.Context) ([]string, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Bot runs assignment for webhook deliveries and sprinkler events.
type Bot struct {
	gh                gitHub
	service           webhook.Service
	store             pinger // optional storage health check
	metrics           *MetricsCollector
	handled           *cache.Cache[time.Time] // item refs already processed
	sprinklerMonitors map[string]*sprinklerMonitor
	monitorsMu        sync.Mutex
}

func newBot(gh gitHub, svc webhook.Service) *Bot {
	return &Bot{
		gh:                gh,
		service:           svc,
		metrics:           NewMetricsCollector(),
		handled:           cache.New[time.Time](handledTTL),
		sprinklerMonitors: make(map[string]*sprinklerMonitor),
	}
}

// Handle runs the assignment service and records metrics. It satisfies webhook.Service.
func (b *Bot) Handle(ctx context.Context, item *types.Item) (*assign.Result, error) {
	b.metrics.RecordSeen(item)
	result, err := b.service.Handle(ctx, item)
	if err != nil {
		b.metrics.RecordFailure()
		return result, err
	}
	b.handled.Set(item.Ref(), time.Now())
	switch {
	case result.Skipped:
		b.metrics.RecordSkipped()
	case result.Decision.Action == rotation.AssignNext:
		b.metrics.RecordAssigned(item)
	}
	return result, nil
}

// processSinglePR fetches a pull request and runs assignment for it once.
//
// Sprinkler events do not say what happened to the pull request, so only ones that look
// newly opened are handled: nobody assigned or requested yet, and created within
// freshPRWindow. Later activity on an assigned pull request must not demote its assignees.
func (b *Bot) processSinglePR(ctx context.Context, owner, repo string, number int) error {
	ref := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	if _, done := b.handled.Get(ref); done {
		slog.Debug("Pull request already processed", "component", "bot", "item", ref)
		return nil
	}

	pr, err := b.gh.PullRequest(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("failed to fetch PR: %w", err)
	}
	if pr.State != "" && pr.State != "open" {
		slog.Debug("Skipping closed pull request", "component", "bot", "item", ref, "state", pr.State)
		return nil
	}
	if len(pr.Assignees) > 0 || len(pr.Reviewers) > 0 {
		slog.Debug("Skipping pull request that already has assignees or reviewers", "component", "bot", "item", ref,
			"assignees", pr.Assignees, "reviewers", pr.Reviewers)
		return nil
	}
	if !pr.CreatedAt.IsZero() && time.Since(pr.CreatedAt) > freshPRWindow {
		slog.Debug("Skipping pull request opened before the event window", "component", "bot", "item", ref, "created_at", pr.CreatedAt)
		return nil
	}

	_, err = b.Handle(ctx, pr)
	return err
}

// permanent reports whether retrying an invocation cannot help.
func permanent(err error) bool {
	return errors.Is(err, config.ErrConfigLoad) ||
		errors.Is(err, resolver.ErrTeamResolution) ||
		errors.Is(err, assign.ErrAssignment) ||
		errors.Is(err, github.ErrNotFound)
}

func (b *Bot) router(hook *webhook.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	hook.Register(r)
	r.Get("/_-_/health", b.handleHealth)
	r.Get("/_-_/sprinkler", b.handleSprinklerStatus)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("Auto Assign Bot\n/webhook - GitHub webhook endpoint\n/_-_/health - Health status\n/_-_/sprinkler - Event monitor status\n")); err != nil {
			slog.Warn("Failed to write response", "error", err)
		}
	})
	return r
}

func (b *Bot) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := b.metrics.Stats()
	status := "ok"
	statusCode := http.StatusOK

	if b.store != nil {
		if err := b.store.Ping(r.Context()); err != nil {
			slog.Warn("Storage health check failed", "component", "health", "error", err)
			status = "storage unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	response := fmt.Sprintf("%s - %d owners, %d items seen, %d assigned, %d skipped, %d failed (last: %s)\n",
		status, stats.Owners, stats.Seen, stats.Assigned, stats.Skipped, stats.Failed,
		stats.LastEvent.Format(time.RFC3339))

	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(response)); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// MetricsCollector tracks metrics for the health endpoint.
type MetricsCollector struct {
	uniqueOwners  map[string]bool
	uniqueSeen    map[string]bool
	uniqueAssigns map[string]bool
	lastEvent     time.Time
	skipped       int64
	failed        int64
	mu            sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		uniqueOwners:  make(map[string]bool),
		uniqueSeen:    make(map[string]bool),
		uniqueAssigns: make(map[string]bool),
	}
}

// RecordSeen records an item reaching the assignment service.
func (m *MetricsCollector) RecordSeen(item *types.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uniqueOwners[item.Owner] = true
	m.uniqueSeen[item.Ref()] = true
	m.lastEvent = time.Now()
}

// RecordAssigned records an item that received an assignment.
func (m *MetricsCollector) RecordAssigned(item *types.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uniqueAssigns[item.Ref()] = true
}

// RecordSkipped records an invocation short-circuited by a skip keyword.
func (m *MetricsCollector) RecordSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

// RecordFailure records a failed invocation.
func (m *MetricsCollector) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

// Stats represents collected metrics.
type Stats struct {
	LastEvent time.Time
	Owners    int
	Seen      int
	Assigned  int
	Skipped   int64
	Failed    int64
}

// Stats returns the current statistics.
func (m *MetricsCollector) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		LastEvent: m.lastEvent,
		Owners:    len(m.uniqueOwners),
		Seen:      len(m.uniqueSeen),
		Assigned:  len(m.uniqueAssigns),
		Skipped:   m.skipped,
		Failed:    m.failed,
	}
}
