// Package assign runs one assignment invocation for an issue or pull request.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
	"github.com/codeGROOVE-dev/auto-assign/pkg/resolver"
	"github.com/codeGROOVE-dev/auto-assign/pkg/roster"
	"github.com/codeGROOVE-dev/auto-assign/pkg/rotation"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"

	"github.com/codeGROOVE-dev/retry"
)

var (
	// ErrAssignment wraps failures reported by the Assigner.
	ErrAssignment = errors.New("external assignment failed")
	// ErrChangedFiles wraps failures listing a pull request's changed files.
	ErrChangedFiles = errors.New("listing changed files failed")
)

// Conflict retry defaults.
const (
	defaultConflictAttempts = 5
	conflictRetryDelay      = 50 * time.Millisecond
	conflictMaxDelay        = time.Second
	defaultFilesTimeout     = 8 * time.Second
)

// ConfigLoader fetches the configuration that applies to an item.
type ConfigLoader interface {
	LoadConfig(ctx context.Context, item *types.Item) (*config.Config, error)
}

// Assigner asks the host platform to assign members to an item.
type Assigner interface {
	Assign(ctx context.Context, item *types.Item, assignAs string, members []string) error
}

// FileLister lists the paths changed by a pull request.
type FileLister interface {
	ChangedFiles(ctx context.Context, owner, repo string, number int) ([]string, error)
}

// Options tunes a Service.
type Options struct {
	// ConflictAttempts bounds how often a load-decide-save cycle is recomputed after
	// losing a compare-and-swap race. Zero means the default.
	ConflictAttempts uint
	// DryRun computes decisions without saving them or assigning anyone.
	DryRun bool
	// Files lists changed paths for pull requests that arrive without them. It is only
	// consulted when no label decides the team and some team is owned by path.
	Files FileLister
	// FilesTimeout bounds the changed file listing. Zero means the default.
	FilesTimeout time.Duration
}

// Service ties configuration, rotation storage, and the assigner together.
type Service struct {
	loader   ConfigLoader
	store    queue.Store
	assigner Assigner
	opts     Options
}

// New creates a Service.
func New(loader ConfigLoader, store queue.Store, assigner Assigner, opts Options) *Service {
	if opts.ConflictAttempts == 0 {
		opts.ConflictAttempts = defaultConflictAttempts
	}
	if opts.FilesTimeout <= 0 {
		opts.FilesTimeout = defaultFilesTimeout
	}
	return &Service{loader: loader, store: store, assigner: assigner, opts: opts}
}

// Result describes what an invocation did.
type Result struct {
	SkipKeyword string
	Target      resolver.Target
	Changes     roster.Changes
	Decision    rotation.Decision
	Version     int64 // stored record version after the save, zero when nothing was saved
	Skipped     bool
	DryRun      bool
}

// Handle processes one item.
//
// The rotation is saved before the assigner is called, so an assignment failure still
// leaves the rotation advanced. Such failures are returned wrapped in ErrAssignment
// together with the result.
func (s *Service) Handle(ctx context.Context, item *types.Item) (*Result, error) {
	cfg, err := s.loader.LoadConfig(ctx, item)
	if err != nil {
		if errors.Is(err, config.ErrConfigLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", config.ErrConfigLoad, err)
	}
	if cfg == nil {
		return nil, config.ErrConfigLoad
	}

	if kw, skip := cfg.SkipFor(item.Labels); skip {
		slog.Info("Skips adding reviewers", "component", "assign", "item", item.Ref(), "keyword", kw)
		return &Result{Skipped: true, SkipKeyword: kw}, nil
	}

	target, err := s.resolve(ctx, cfg, item)
	if err != nil {
		return nil, err
	}

	result := &Result{Target: target, DryRun: s.opts.DryRun}
	if err := s.rotate(ctx, cfg, item, result); err != nil {
		return nil, err
	}

	if result.Decision.Action != rotation.AssignNext || s.opts.DryRun {
		return result, nil
	}

	if err := s.assigner.Assign(ctx, item, cfg.AssignAs, result.Decision.Selected); err != nil {
		slog.Error("Failed to assign after rotation advanced",
			"component", "assign",
			"item", item.Ref(),
			"team", target.Team.Name,
			"selected", result.Decision.Selected,
			"error", err)
		return result, fmt.Errorf("%w for %s: %w", ErrAssignment, item.Ref(), err)
	}

	slog.Info("Assigned next in rotation",
		"component", "assign",
		"item", item.Ref(),
		"team", target.Team.Name,
		"selected", result.Decision.Selected,
		"order", result.Decision.Order)
	return result, nil
}

// resolve finds the owning team, listing changed files first when only path rules can decide.
func (s *Service) resolve(ctx context.Context, cfg *config.Config, item *types.Item) (resolver.Target, error) {
	target, err := resolver.Resolve(cfg, item)
	if err == nil || !errors.Is(err, resolver.ErrTeamResolution) || !s.needsFiles(cfg, item) {
		return target, err
	}

	filesCtx, cancel := context.WithTimeout(ctx, s.opts.FilesTimeout)
	defer cancel()
	files, err := s.opts.Files.ChangedFiles(filesCtx, item.Owner, item.Repository, item.Number)
	if err != nil {
		return resolver.Target{}, fmt.Errorf("%w for %s: %w", ErrChangedFiles, item.Ref(), err)
	}
	item.ChangedFiles = files
	return resolver.Resolve(cfg, item)
}

func (s *Service) needsFiles(cfg *config.Config, item *types.Item) bool {
	if s.opts.Files == nil || item.Kind != types.KindPullRequest || item.ChangedFiles != nil || item.RepositoryURL == "" {
		return false
	}
	for _, t := range cfg.Teams {
		if len(t.Paths) > 0 {
			return true
		}
	}
	return false
}

// rotate runs load, sync, decide, and save for the resolved team, recomputing from a
// fresh load whenever the save loses a race against another invocation for the same key.
func (s *Service) rotate(ctx context.Context, cfg *config.Config, item *types.Item, result *Result) error {
	key := result.Target.Key

	err := retry.Do(
		func() error {
			rec, err := s.store.Load(ctx, key)
			if err != nil {
				return err
			}

			var persisted []string
			if rec.Found {
				persisted = rec.Order
			}
			r, changes := roster.SyncReport(result.Target.Team.Reviewers, persisted)
			for _, m := range changes.Added {
				slog.Info("Team member added", "component", "assign", "key", key.String(), "member", m)
			}
			for _, m := range changes.Removed {
				slog.Info("Team member removed", "component", "assign", "key", key.String(), "member", m)
			}

			decision := rotation.Decide(r, item.Assignees, cfg.NumberOfReviewers)
			result.Changes = changes
			result.Decision = decision

			if s.opts.DryRun {
				slog.Info("Would save rotation (dry-run)", "component", "assign", "key", key.String(), "order", decision.Order)
				return nil
			}

			version, err := s.store.Save(ctx, key, decision.Order, rec.Version)
			if err != nil {
				return err
			}
			result.Version = version
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.opts.ConflictAttempts),
		retry.Delay(conflictRetryDelay),
		retry.MaxDelay(conflictMaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(conflictRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, queue.ErrConflict)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Rotation changed concurrently, recomputing", "component", "assign", "key", key.String(), "attempt", n+1, "error", err)
		}),
	)
	if errors.Is(err, queue.ErrConflict) {
		return fmt.Errorf("%w for %s: %w", queue.ErrWrite, key, err)
	}
	return err
}
