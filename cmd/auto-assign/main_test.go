package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    types.Kind
		want    ref
		wantErr bool
	}{
		{name: "pr url", raw: "https://github.com/o/r/pull/123", kind: types.KindPullRequest, want: ref{"o", "r", 123}},
		{name: "pr url trailing slash", raw: "https://github.com/o/r/pull/7/", kind: types.KindPullRequest, want: ref{"o", "r", 7}},
		{name: "http url", raw: "http://github.com/o/r/pull/5", kind: types.KindPullRequest, want: ref{"o", "r", 5}},
		{name: "issue url", raw: "https://github.com/o/r/issues/9", kind: types.KindIssue, want: ref{"o", "r", 9}},
		{name: "shorthand", raw: "o/r#42", kind: types.KindIssue, want: ref{"o", "r", 42}},
		{name: "issue url as pr", raw: "https://github.com/o/r/issues/9", kind: types.KindPullRequest, wantErr: true},
		{name: "pr url as issue", raw: "https://github.com/o/r/pull/9", kind: types.KindIssue, wantErr: true},
		{name: "other host", raw: "https://gitlab.com/o/r/pull/1", kind: types.KindPullRequest, wantErr: true},
		{name: "bad number", raw: "o/r#abc", kind: types.KindPullRequest, wantErr: true},
		{name: "zero", raw: "o/r#0", kind: types.KindPullRequest, wantErr: true},
		{name: "missing repo", raw: "o#1", kind: types.KindPullRequest, wantErr: true},
		{name: "too short", raw: "https://github.com/o/r", kind: types.KindPullRequest, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRef(tt.raw, tt.kind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRef(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseRef(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLoadLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auto_assign.yml")
	if err := os.WriteFile(path, []byte("teams:\n  - name: core\n    reviewers: [a, b]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	loader, err := loadLocalConfig(path)
	if err != nil {
		t.Fatalf("loadLocalConfig: %v", err)
	}
	cfg, err := loader.LoadConfig(context.Background(), &types.Item{})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Teams) != 1 || cfg.Teams[0].Name != "core" {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := loadLocalConfig(filepath.Join(dir, "missing.yml")); !errors.Is(err, config.ErrConfigLoad) {
		t.Errorf("missing file error = %v, want ErrConfigLoad", err)
	}
}
