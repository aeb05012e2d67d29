package config

import (
	"errors"
	"slices"
	"testing"
)

func TestParse_Teams(t *testing.T) {
	data := []byte(`
scope: organization
assignAs: both
numberOfReviewers: 2
skipKeywords: [wip, "do not assign"]
teams:
  - name: backend
    reviewers: [alice, bob, carol]
    labels: [backend]
    paths: [server/, "*.go"]
  - name: docs
    reviewers: [dave]
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Scope != ScopeOrganization {
		t.Errorf("Scope = %q", cfg.Scope)
	}
	if cfg.AssignAs != AssignAsBoth {
		t.Errorf("AssignAs = %q", cfg.AssignAs)
	}
	if cfg.NumberOfReviewers != 2 {
		t.Errorf("NumberOfReviewers = %d", cfg.NumberOfReviewers)
	}
	if len(cfg.Teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(cfg.Teams))
	}

	backend, ok := cfg.Team("backend")
	if !ok {
		t.Fatal("backend team missing")
	}
	if !slices.Equal(backend.Reviewers, []string{"alice", "bob", "carol"}) {
		t.Errorf("Reviewers = %v", backend.Reviewers)
	}
	if !slices.Equal(backend.Paths, []string{"server/", "*.go"}) {
		t.Errorf("Paths = %v", backend.Paths)
	}
	if _, ok := cfg.Team("missing"); ok {
		t.Error("expected missing team lookup to fail")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("teams:\n  - name: core\n    reviewers: [a]\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scope != ScopeRepository {
		t.Errorf("Scope = %q, want %q", cfg.Scope, ScopeRepository)
	}
	if cfg.AssignAs != AssignAsAssignee {
		t.Errorf("AssignAs = %q, want %q", cfg.AssignAs, AssignAsAssignee)
	}
	if cfg.NumberOfReviewers != 1 {
		t.Errorf("NumberOfReviewers = %d, want 1", cfg.NumberOfReviewers)
	}
}

func TestParse_LegacyTeamMembers(t *testing.T) {
	cfg, err := Parse([]byte("teamMembers: [x, y, z]\nskipKeywords: [wip]\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	team, ok := cfg.Team(DefaultTeam)
	if !ok {
		t.Fatal("expected default team")
	}
	if !slices.Equal(team.Reviewers, []string{"x", "y", "z"}) {
		t.Errorf("Reviewers = %v", team.Reviewers)
	}
}

func TestParse_ReviewersPresence(t *testing.T) {
	cfg, err := Parse([]byte(`
teams:
  - name: absent
  - name: empty
    reviewers: []
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	absent, _ := cfg.Team("absent")
	if absent.Reviewers != nil {
		t.Errorf("expected nil reviewers for absent list, got %#v", absent.Reviewers)
	}
	empty, _ := cfg.Team("empty")
	if empty.Reviewers == nil || len(empty.Reviewers) != 0 {
		t.Errorf("expected empty non-nil reviewers, got %#v", empty.Reviewers)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "teams: [unclosed"},
		{"no teams", "skipKeywords: [wip]"},
		{"empty file", ""},
		{"unknown scope", "scope: galaxy\nteams: [{name: a, reviewers: [x]}]"},
		{"unknown assignAs", "assignAs: robot\nteams: [{name: a, reviewers: [x]}]"},
		{"unnamed team", "teams: [{reviewers: [x]}]"},
		{"duplicate team", "teams: [{name: a, reviewers: [x]}, {name: a, reviewers: [y]}]"},
		{"empty reviewer", "teams: [{name: a, reviewers: [x, \"\"]}]"},
		{"empty skip keyword", "skipKeywords: [\"\"]\nteams: [{name: a, reviewers: [x]}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, ErrConfigLoad) {
				t.Errorf("expected ErrConfigLoad, got %v", err)
			}
		})
	}
}

func TestConfig_SkipFor(t *testing.T) {
	cfg := &Config{SkipKeywords: []string{"wip", "hold"}}

	tests := []struct {
		name    string
		labels  []string
		want    string
		wantHit bool
	}{
		{"no labels", nil, "", false},
		{"unrelated labels", []string{"bug", "backend"}, "", false},
		{"exact match", []string{"wip"}, "wip", true},
		{"substring match", []string{"status: on-hold"}, "hold", true},
		{"case sensitive", []string{"WIP"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hit := cfg.SkipFor(tt.labels)
			if got != tt.want || hit != tt.wantHit {
				t.Errorf("SkipFor(%v) = %q, %v; want %q, %v", tt.labels, got, hit, tt.want, tt.wantHit)
			}
		})
	}

	if _, hit := (&Config{}).SkipFor([]string{"wip"}); hit {
		t.Error("config without keywords should never skip")
	}
}
