// Package resolver maps an issue or pull request to the team whose rotation it belongs to.
package resolver

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/queue"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"
)

// ErrTeamResolution is returned when no configured team owns the item.
var ErrTeamResolution = errors.New("no matching team found")

// Target is the rotation an item resolved to.
type Target struct {
	Key  queue.Key
	Team config.Team
	Rule string // "single", "label", or "path"
}

// Resolve finds the owning team for item.
//
// A configuration with a single team always resolves to it. Otherwise teams are tried in
// order, first by label and then by changed path; the first match wins.
func Resolve(cfg *config.Config, item *types.Item) (Target, error) {
	if item.RepositoryURL == "" {
		return Target{}, fmt.Errorf("%w: item has no repository URL", ErrTeamResolution)
	}

	team, rule, ok := match(cfg, item)
	if !ok {
		return Target{}, fmt.Errorf("%w for %s", ErrTeamResolution, item.Ref())
	}

	return Target{
		Key:  queue.Key{Repository: repositoryKey(cfg, item), Team: team.Name},
		Team: team,
		Rule: rule,
	}, nil
}

func match(cfg *config.Config, item *types.Item) (config.Team, string, bool) {
	if len(cfg.Teams) == 1 {
		return cfg.Teams[0], "single", true
	}

	for _, t := range cfg.Teams {
		for _, l := range t.Labels {
			if slices.Contains(item.Labels, l) {
				return t, "label", true
			}
		}
	}

	for _, t := range cfg.Teams {
		for _, pattern := range t.Paths {
			for _, file := range item.ChangedFiles {
				if pathMatches(pattern, file) {
					return t, "path", true
				}
			}
		}
	}

	return config.Team{}, "", false
}

// pathMatches reports whether file is covered by pattern. Patterns ending in "/" match
// everything beneath that directory; other patterns are globs tried against the full path
// and the base name.
func pathMatches(pattern, file string) bool {
	pattern = strings.TrimPrefix(pattern, "/")
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(file, pattern)
	}
	if ok, err := path.Match(pattern, file); err == nil && ok {
		return true
	}
	ok, err := path.Match(pattern, path.Base(file))
	return err == nil && ok
}

func repositoryKey(cfg *config.Config, item *types.Item) string {
	if cfg.Scope == config.ScopeOrganization {
		return queue.RepositoryKey(item.OwnerURL())
	}
	return queue.RepositoryKey(item.RepositoryURL)
}
