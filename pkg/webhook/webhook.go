// Package webhook receives GitHub webhook deliveries and runs assignment for them.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/auto-assign/pkg/assign"
	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/resolver"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"

	"github.com/go-chi/chi/v5"
)

const maxPayloadBytes = 25 << 20 // GitHub caps deliveries at 25 MB

var (
	pullRequestActions = []string{"opened", "reopened", "ready_for_review"}
	issueActions       = []string{"opened", "reopened"}
)

// Service runs one assignment invocation.
type Service interface {
	Handle(ctx context.Context, item *types.Item) (*assign.Result, error)
}

// ConfigInvalidator drops cached configuration for a repository.
type ConfigInvalidator interface {
	Invalidate(owner, repo string)
}

// Options configures a Handler.
type Options struct {
	Invalidator ConfigInvalidator // optional; notified when a push changes the config file
	Secret      string            // webhook secret; empty disables signature checks
}

// Handler serves GitHub webhook deliveries.
type Handler struct {
	service Service
	opts    Options
}

// New creates a Handler.
func New(svc Service, opts Options) *Handler {
	return &Handler{service: svc, opts: opts}
}

// Register mounts the webhook endpoint on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhook", h.ServeHTTP)
}

// ServeHTTP handles a single delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read body")
		return
	}

	if h.opts.Secret != "" && !validSignature(h.opts.Secret, body, r.Header.Get("X-Hub-Signature-256")) {
		slog.Warn("Rejected webhook with invalid signature", "component", "webhook", "delivery", r.Header.Get("X-GitHub-Delivery"))
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	log := slog.With("component", "webhook", "event", event, "delivery", r.Header.Get("X-GitHub-Delivery"))

	switch event {
	case "ping":
		respondJSON(w, http.StatusOK, map[string]any{"status": "pong"})
	case "pull_request":
		var ev pullRequestEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid pull_request payload")
			return
		}
		if !slices.Contains(pullRequestActions, ev.Action) {
			respondJSON(w, http.StatusOK, map[string]any{"status": "ignored", "action": ev.Action})
			return
		}
		h.run(w, r, log, ev.toItem())
	case "issues":
		var ev issuesEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid issues payload")
			return
		}
		if !slices.Contains(issueActions, ev.Action) {
			respondJSON(w, http.StatusOK, map[string]any{"status": "ignored", "action": ev.Action})
			return
		}
		h.run(w, r, log, ev.Issue.toItem(ev.Repository, types.KindIssue))
	case "push":
		var ev pushEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid push payload")
			return
		}
		if h.opts.Invalidator != nil && ev.touches(config.Path) {
			log.Info("Configuration changed, dropping cached copy", "repo", ev.Repository.FullName)
			h.opts.Invalidator.Invalidate(ev.Repository.owner(), ev.Repository.Name)
		}
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		respondJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
	}
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, log *slog.Logger, item *types.Item) {
	if item.RepositoryURL == "" || item.Owner == "" || item.Repository == "" || item.Number == 0 {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "payload is missing repository or number")
		return
	}

	result, err := h.service.Handle(r.Context(), item)
	if err != nil {
		status, code := statusFor(err)
		log.Error("Assignment failed", "item", item.Ref(), "status", status, "error", err)
		respondError(w, status, code, err.Error())
		return
	}

	if result.Skipped {
		respondJSON(w, http.StatusOK, map[string]any{"status": "skipped", "keyword": result.SkipKeyword})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"team":     result.Target.Team.Name,
		"action":   result.Decision.Action,
		"selected": result.Decision.Selected,
		"order":    result.Decision.Order,
	})
}

// statusFor maps invocation failures to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, config.ErrConfigLoad):
		return http.StatusUnprocessableEntity, "CONFIG"
	case errors.Is(err, resolver.ErrTeamResolution):
		return http.StatusUnprocessableEntity, "TEAM"
	case errors.Is(err, assign.ErrAssignment):
		return http.StatusBadGateway, "ASSIGNMENT"
	case errors.Is(err, assign.ErrChangedFiles):
		return http.StatusBadGateway, "UPSTREAM"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// validSignature checks a sha256=<hex> HMAC signature header.
func validSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("sha256=%x", mac.Sum(nil))
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("Failed to write response", "component", "webhook", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: errorPayload{Code: code, Message: message}})
}
