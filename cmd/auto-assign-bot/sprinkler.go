package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sprinkler/pkg/client"
)

const (
	eventChannelSize     = 100
	eventDedupWindow     = 5 * time.Second
	eventMapMaxSize      = 1000
	eventMapCleanupAge   = 1 * time.Hour
	sprinklerMaxRetries  = 3
	sprinklerMaxDelay    = 10 * time.Second
	maxReconnectAttempts = 100
	reconnectBackoff     = 30 * time.Second
	maxReconnectBackoff  = 5 * time.Minute
)

// sprinklerMonitor manages the websocket event subscription for a single owner.
type sprinklerMonitor struct {
	lastConnectedAt   time.Time
	lastEventAt       time.Time
	bot               *Bot
	client            *client.Client
	eventChan         chan string          // pull request URLs awaiting processing
	lastEventMap      map[string]time.Time // last event per URL, for dedupe
	stopChan          chan struct{}
	org               string
	reconnectAttempts int
	mu                sync.RWMutex
	isRunning         bool
	isConnected       bool
	isStopped         bool
}

func newSprinklerMonitor(bot *Bot, org string) *sprinklerMonitor {
	return &sprinklerMonitor{
		bot:          bot,
		org:          org,
		eventChan:    make(chan string, eventChannelSize),
		lastEventMap: make(map[string]time.Time),
		stopChan:     make(chan struct{}),
	}
}

// runSprinklers keeps one monitor per installed owner until ctx is done.
func (b *Bot) runSprinklers(ctx context.Context, refreshDelay time.Duration) {
	defer b.stopSprinklers()

	for {
		b.updateSprinklerMonitors(ctx)

		timer := time.NewTimer(refreshDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// updateSprinklerMonitors starts monitors for new installations and stops removed ones.
func (b *Bot) updateSprinklerMonitors(ctx context.Context) {
	orgs, err := b.gh.ListAppInstallations(ctx)
	if err != nil {
		slog.Warn("Failed to list installations for sprinkler update", "component", "sprinkler", "error", err)
		return
	}

	current := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		current[org] = true
	}

	b.monitorsMu.Lock()
	defer b.monitorsMu.Unlock()

	for org, monitor := range b.sprinklerMonitors {
		if !current[org] {
			slog.Info("Stopping sprinkler for removed installation", "component", "sprinkler", "org", org)
			monitor.stop()
			delete(b.sprinklerMonitors, org)
		}
	}

	for _, org := range orgs {
		if _, exists := b.sprinklerMonitors[org]; exists {
			continue
		}
		monitor := newSprinklerMonitor(b, org)
		monitor.start(ctx)
		b.sprinklerMonitors[org] = monitor
	}
}

func (b *Bot) stopSprinklers() {
	b.monitorsMu.Lock()
	defer b.monitorsMu.Unlock()
	for org, monitor := range b.sprinklerMonitors {
		monitor.stop()
		delete(b.sprinklerMonitors, org)
	}
}

func (b *Bot) handleSprinklerStatus(w http.ResponseWriter, _ *http.Request) {
	b.monitorsMu.Lock()
	statuses := make([]map[string]any, 0, len(b.sprinklerMonitors))
	for _, monitor := range b.sprinklerMonitors {
		statuses = append(statuses, monitor.healthStatus())
	}
	b.monitorsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"monitors": statuses}); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// start begins monitoring pull request events for this owner.
func (sm *sprinklerMonitor) start(ctx context.Context) {
	sm.mu.Lock()
	if sm.isRunning {
		sm.mu.Unlock()
		return
	}
	sm.isRunning = true
	sm.isStopped = false
	sm.mu.Unlock()

	go sm.processEvents(ctx)
	go sm.manageConnection(ctx)
	slog.Info("Started sprinkler monitor", "component", "sprinkler", "org", sm.org)
}

// manageConnection restarts the client when it gives up. The sprinkler client
// already reconnects internally, so this only handles fatal exits.
func (sm *sprinklerMonitor) manageConnection(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Connection manager panic", "component", "sprinkler", "org", sm.org, "panic", r)
		}
	}()

	for {
		sm.mu.RLock()
		stopped := sm.isStopped
		sm.mu.RUnlock()
		if stopped || ctx.Err() != nil {
			return
		}

		backoff := 5 * time.Second
		if err := sm.connectWebSocket(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			sm.mu.Lock()
			sm.reconnectAttempts++
			attempts := sm.reconnectAttempts
			sm.mu.Unlock()

			if attempts >= maxReconnectAttempts {
				slog.Error("Max reconnection attempts reached, giving up", "component", "sprinkler", "org", sm.org, "attempts", attempts)
				return
			}
			backoff = min(reconnectBackoff*time.Duration(attempts), maxReconnectBackoff)
			slog.Warn("WebSocket client gave up, will restart after backoff",
				"component", "sprinkler",
				"org", sm.org,
				"attempt", attempts,
				"backoff", backoff,
				"error", err)
		} else {
			sm.mu.Lock()
			sm.reconnectAttempts = 0
			sm.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case <-time.After(backoff):
		}
	}
}

// connectWebSocket runs one client until it exits.
func (sm *sprinklerMonitor) connectWebSocket(ctx context.Context) error {
	cfg := client.Config{
		ServerURL:    "wss://" + client.DefaultServerAddress + "/ws",
		Organization: sm.org,
		TokenProvider: func() (string, error) {
			token, err := sm.bot.gh.TokenForOwner(ctx, sm.org)
			if err != nil {
				return "", fmt.Errorf("failed to get token: %w", err)
			}
			return token, nil
		},
		EventTypes:     []string{"pull_request"},
		UserEventsOnly: false,
		Verbose:        false,
		NoReconnect:    false,
		OnConnect: func() {
			sm.mu.Lock()
			sm.isConnected = true
			sm.lastConnectedAt = time.Now()
			sm.mu.Unlock()
			slog.Info("WebSocket connected", "component", "sprinkler", "org", sm.org)
		},
		OnDisconnect: func(err error) {
			sm.mu.Lock()
			wasConnected := sm.isConnected
			sm.isConnected = false
			sm.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) && wasConnected {
				slog.Warn("WebSocket disconnected", "component", "sprinkler", "org", sm.org, "error", err)
			}
		},
		OnEvent: sm.handleEvent,
	}

	wsClient, err := client.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	sm.mu.Lock()
	sm.client = wsClient
	sm.mu.Unlock()

	startTime := time.Now()
	if err := wsClient.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("WebSocket client stopped with error",
			"component", "sprinkler",
			"org", sm.org,
			"uptime", time.Since(startTime).Round(time.Second),
			"error", err)
		return err
	}
	return nil
}

// handleEvent queues pull request URLs for this owner, deduplicating bursts.
func (sm *sprinklerMonitor) handleEvent(event client.Event) {
	if event.Type != "pull_request" || event.URL == "" {
		return
	}

	ref, err := parsePRURL(event.URL)
	if err != nil {
		slog.Warn("Ignoring event with unparseable URL", "component", "sprinkler", "url", event.URL, "error", err)
		return
	}
	if ref.owner != sm.org {
		slog.Debug("Ignoring event for different owner", "component", "sprinkler", "event_owner", ref.owner, "monitor_owner", sm.org)
		return
	}

	sm.mu.Lock()
	now := time.Now()
	if last, ok := sm.lastEventMap[event.URL]; ok && now.Sub(last) < eventDedupWindow {
		sm.mu.Unlock()
		return
	}
	sm.lastEventMap[event.URL] = now
	sm.lastEventAt = now
	if len(sm.lastEventMap) > eventMapMaxSize {
		cutoff := now.Add(-eventMapCleanupAge)
		for u, ts := range sm.lastEventMap {
			if ts.Before(cutoff) {
				delete(sm.lastEventMap, u)
			}
		}
	}
	sm.mu.Unlock()

	select {
	case sm.eventChan <- event.URL:
	default:
		slog.Warn("Event channel full, dropping event", "component", "sprinkler", "url", event.URL)
	}
}

func (sm *sprinklerMonitor) processEvents(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event processor panic", "component", "sprinkler", "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case prURL := <-sm.eventChan:
			sm.processEvent(ctx, prURL)
		}
	}
}

// processEvent runs assignment for one pull request, retrying transient failures.
func (sm *sprinklerMonitor) processEvent(ctx context.Context, prURL string) {
	startTime := time.Now()
	ref, err := parsePRURL(prURL)
	if err != nil {
		slog.Warn("Failed to parse PR URL", "component", "sprinkler", "url", prURL, "error", err)
		return
	}

	err = retry.Do(func() error {
		return sm.bot.processSinglePR(ctx, ref.owner, ref.repo, ref.number)
	},
		retry.Attempts(sprinklerMaxRetries),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(sprinklerMaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !permanent(err) }),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retrying PR processing", "component", "sprinkler", "attempt", n+1, "url", prURL, "error", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		slog.Error("Failed to process PR",
			"component", "sprinkler",
			"url", prURL,
			"elapsed", time.Since(startTime).Round(time.Millisecond),
			"error", err)
		return
	}

	slog.Info("Processed PR event",
		"component", "sprinkler",
		"url", prURL,
		"elapsed", time.Since(startTime).Round(time.Millisecond))
}

func (sm *sprinklerMonitor) stop() {
	sm.mu.Lock()
	if !sm.isRunning {
		sm.mu.Unlock()
		return
	}
	sm.isRunning = false
	sm.isStopped = true
	wsClient := sm.client
	sm.mu.Unlock()

	close(sm.stopChan)
	if wsClient != nil {
		wsClient.Stop()
	}
	slog.Info("Event monitor stopped", "component", "sprinkler", "org", sm.org)
}

func (sm *sprinklerMonitor) healthStatus() map[string]any {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := map[string]any{
		"org":                sm.org,
		"is_running":         sm.isRunning,
		"is_connected":       sm.isConnected,
		"reconnect_attempts": sm.reconnectAttempts,
	}
	if !sm.lastConnectedAt.IsZero() {
		status["last_connected_at"] = sm.lastConnectedAt
	}
	if !sm.lastEventAt.IsZero() {
		status["last_event_at"] = sm.lastEventAt
	}
	return status
}

type prRef struct {
	owner  string
	repo   string
	number int
}

// parsePRURL extracts owner, repo, and number from https://github.com/owner/repo/pull/123.
func parsePRURL(raw string) (*prRef, error) {
	parts := strings.Split(strings.TrimSuffix(raw, "/"), "/")
	const minParts = 7
	if len(parts) < minParts || parts[2] != "github.com" || parts[5] != "pull" {
		return nil, fmt.Errorf("invalid GitHub PR URL format: %s", raw)
	}
	number, err := strconv.Atoi(parts[6])
	if err != nil || number <= 0 {
		return nil, fmt.Errorf("invalid PR number in URL: %s", raw)
	}
	return &prRef{owner: parts[3], repo: parts[4], number: number}, nil
}
