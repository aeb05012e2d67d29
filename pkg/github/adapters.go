package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/auto-assign/pkg/cache"
	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"
)

type assignmentAPI interface {
	AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error
	AddReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error
}

// Assigner applies rotation selections to GitHub issues and pull requests.
type Assigner struct {
	api assignmentAPI
}

// NewAssigner returns an Assigner backed by api.
func NewAssigner(api assignmentAPI) *Assigner {
	return &Assigner{api: api}
}

// Assign adds members as assignees, requested reviewers, or both.
// Issues cannot have reviewers, so they always receive assignees.
func (a *Assigner) Assign(ctx context.Context, item *types.Item, assignAs string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	if item.Kind == types.KindIssue {
		assignAs = config.AssignAsAssignee
	}

	switch assignAs {
	case config.AssignAsReviewer:
		return a.api.AddReviewers(ctx, item.Owner, item.Repository, item.Number, members)
	case config.AssignAsBoth:
		// Attempt both so one rejected request does not hide the other.
		return errors.Join(
			a.api.AddAssignees(ctx, item.Owner, item.Repository, item.Number, members),
			a.api.AddReviewers(ctx, item.Owner, item.Repository, item.Number, members),
		)
	default:
		return a.api.AddAssignees(ctx, item.Owner, item.Repository, item.Number, members)
	}
}

type fileAPI interface {
	ConfigFile(ctx context.Context, owner, repo, path string) ([]byte, error)
}

// ConfigLoader fetches and parses a repository's configuration file,
// caching parsed results per repository.
type ConfigLoader struct {
	api   fileAPI
	cache *cache.Cache[*config.Config]
}

// NewConfigLoader creates a loader. A non-positive ttl disables caching.
func NewConfigLoader(api fileAPI, ttl time.Duration) *ConfigLoader {
	return &ConfigLoader{api: api, cache: cache.New[*config.Config](ttl)}
}

// LoadConfig returns the configuration for the item's repository.
func (l *ConfigLoader) LoadConfig(ctx context.Context, item *types.Item) (*config.Config, error) {
	key := item.Owner + "/" + item.Repository
	if cfg, ok := l.cache.Get(key); ok {
		slog.Debug("Using cached configuration", "component", "config", "repo", key)
		return cfg, nil
	}

	data, err := l.api.ConfigFile(ctx, item.Owner, item.Repository, config.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfigLoad, err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}

	l.cache.Set(key, cfg)
	return cfg, nil
}

// Invalidate drops the cached configuration for a repository.
func (l *ConfigLoader) Invalidate(owner, repo string) {
	l.cache.Delete(owner + "/" + repo)
}

// Close stops the cache sweeper.
func (l *ConfigLoader) Close() {
	l.cache.Close()
}
