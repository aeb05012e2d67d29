// Package config parses the repository's auto-assign configuration file.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Path is where the configuration file lives in a repository.
const Path = ".github/auto_assign.yml"

// DefaultTeam names the team built from the legacy top-level teamMembers list.
const DefaultTeam = "default"

// Scope values.
const (
	ScopeRepository   = "repository"
	ScopeOrganization = "organization"
)

// AssignAs values.
const (
	AssignAsAssignee = "assignee"
	AssignAsReviewer = "reviewer"
	AssignAsBoth     = "both"
)

// ErrConfigLoad is returned when the configuration cannot be fetched or parsed.
var ErrConfigLoad = errors.New("the configuration file failed to load")

// Team is one rotation group.
type Team struct {
	Name string `yaml:"name"`
	// Reviewers is the ordered member list. A nil list means the team declares no members
	// and its stored rotation is used unchanged.
	Reviewers []string `yaml:"reviewers"`
	Labels    []string `yaml:"labels,omitempty"`
	Paths     []string `yaml:"paths,omitempty"`
}

// Config models .github/auto_assign.yml.
type Config struct {
	Scope             string   `yaml:"scope,omitempty"`
	AssignAs          string   `yaml:"assignAs,omitempty"`
	Teams             []Team   `yaml:"teams"`
	SkipKeywords      []string `yaml:"skipKeywords,omitempty"`
	TeamMembers       []string `yaml:"teamMembers,omitempty"`
	NumberOfReviewers int      `yaml:"numberOfReviewers,omitempty"`
}

// Parse decodes and validates a configuration file, applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scope == "" {
		c.Scope = ScopeRepository
	}
	if c.AssignAs == "" {
		c.AssignAs = AssignAsAssignee
	}
	if c.NumberOfReviewers <= 0 {
		c.NumberOfReviewers = 1
	}
	if len(c.Teams) == 0 && c.TeamMembers != nil {
		c.Teams = []Team{{Name: DefaultTeam, Reviewers: c.TeamMembers}}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Scope {
	case ScopeRepository, ScopeOrganization:
	default:
		return fmt.Errorf("unknown scope %q", c.Scope)
	}

	switch c.AssignAs {
	case AssignAsAssignee, AssignAsReviewer, AssignAsBoth:
	default:
		return fmt.Errorf("unknown assignAs %q", c.AssignAs)
	}

	if len(c.Teams) == 0 {
		return errors.New("no teams configured")
	}

	seen := make(map[string]bool, len(c.Teams))
	for i, t := range c.Teams {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("team %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate team %q", t.Name)
		}
		seen[t.Name] = true
		if slices.Contains(t.Reviewers, "") {
			return fmt.Errorf("team %q has an empty reviewer", t.Name)
		}
	}

	if slices.Contains(c.SkipKeywords, "") {
		return errors.New("skipKeywords contains an empty keyword")
	}
	return nil
}

// SkipFor reports whether any label contains a skip keyword, and which keyword matched.
// Matching is a case-sensitive substring test.
func (c *Config) SkipFor(labels []string) (string, bool) {
	for _, label := range labels {
		for _, kw := range c.SkipKeywords {
			if strings.Contains(label, kw) {
				return kw, true
			}
		}
	}
	return "", false
}

// Team returns the team with the given name.
func (c *Config) Team(name string) (Team, bool) {
	for _, t := range c.Teams {
		if t.Name == name {
			return t, true
		}
	}
	return Team{}, false
}
