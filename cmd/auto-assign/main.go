// Package main implements a CLI tool that runs the rotation for a single GitHub issue or pull request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/auto-assign/pkg/assign"
	"github.com/codeGROOVE-dev/auto-assign/pkg/config"
	"github.com/codeGROOVE-dev/auto-assign/pkg/github"
	"github.com/codeGROOVE-dev/auto-assign/pkg/resolver"
	"github.com/codeGROOVE-dev/auto-assign/pkg/rotation"
	"github.com/codeGROOVE-dev/auto-assign/pkg/storage"
	"github.com/codeGROOVE-dev/auto-assign/pkg/types"

	"github.com/joho/godotenv"
)

var (
	prURL       = flag.String("pr", "", "Pull request URL (e.g., https://github.com/owner/repo/pull/123 or owner/repo#123)")
	issueURL    = flag.String("issue", "", "Issue URL (e.g., https://github.com/owner/repo/issues/123 or owner/repo#123)")
	configPath  = flag.String("config", "", "Local configuration file to use instead of the repository's")
	dryRun      = flag.Bool("dry-run", false, "Compute the rotation without saving it or assigning anyone")
	showQueue   = flag.Bool("show-queue", false, "Print the stored rotation for the item's team and exit")
	verbose     = flag.Bool("v", false, "Verbose output with detailed diagnostics")
	configCache = flag.Duration("config-cache", time.Minute, "Cache duration for repository configuration files")
)

// ref identifies an issue or pull request.
type ref struct {
	owner  string
	repo   string
	number int
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s (-pr|-issue) <URL> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Assigns the next team member in rotation to a GitHub issue or pull request.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -pr https://github.com/owner/repo/pull/123 -dry-run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -issue owner/repo#45\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pr owner/repo#123 -config auto_assign.yml -show-queue\n", os.Args[0])
	}
	flag.Parse()

	if (*prURL == "") == (*issueURL == "") {
		flag.Usage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Environment from a local .env file, if any. Real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Could not load .env file", "error", err)
	}

	if err := run(context.Background()); err != nil {
		slog.Error("Failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	kind, raw := types.KindPullRequest, *prURL
	if *issueURL != "" {
		kind, raw = types.KindIssue, *issueURL
	}
	target, err := parseRef(raw, kind)
	if err != nil {
		return fmt.Errorf("invalid %s reference: %w", kind, err)
	}

	// The token comes from GITHUB_TOKEN or the gh CLI.
	client, err := github.New(ctx, github.Config{
		UseAppAuth:  false,
		HTTPTimeout: 30 * time.Second,
	})
	if err != nil {
		slog.Info("Make sure you have the gh CLI installed and authenticated (run: gh auth login)")
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	slog.Info("Fetching item", "owner", target.owner, "repo", target.repo, "number", target.number)
	var item *types.Item
	if kind == types.KindIssue {
		item, err = client.Issue(ctx, target.owner, target.repo, target.number)
	} else {
		item, err = client.PullRequest(ctx, target.owner, target.repo, target.number)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", kind, err)
	}
	printItem(item)

	var loader assign.ConfigLoader
	if *configPath != "" {
		fl, err := loadLocalConfig(*configPath)
		if err != nil {
			return err
		}
		loader = fl
	} else {
		gl := github.NewConfigLoader(client, *configCache)
		defer gl.Close()
		loader = gl
	}

	store, cleanup, err := storage.Open(ctx, storage.FromEnv())
	if err != nil {
		return fmt.Errorf("failed to open rotation store: %w", err)
	}
	defer cleanup()

	if *showQueue {
		cfg, err := loader.LoadConfig(ctx, item)
		if err != nil {
			return err
		}
		t, err := resolver.Resolve(cfg, item)
		if err != nil {
			return err
		}
		rec, err := store.Load(ctx, t.Key)
		if err != nil {
			return err
		}
		fmt.Printf("🔁 Team %q (matched by %s)\n", t.Team.Name, t.Rule)
		if !rec.Found {
			fmt.Println("   No stored rotation yet")
			return nil
		}
		fmt.Printf("   Version: %d\n", rec.Version)
		printOrder(rec.Order)
		return nil
	}

	svc := assign.New(loader, store, github.NewAssigner(client), assign.Options{DryRun: *dryRun, Files: client})
	result, err := svc.Handle(ctx, item)
	if result != nil {
		printResult(result)
	}
	if err != nil {
		if errors.Is(err, assign.ErrAssignment) {
			fmt.Println("⚠️  The rotation advanced but the assignment failed")
		}
		return err
	}
	return nil
}

// localLoader serves a configuration read from disk for every item.
type localLoader struct {
	cfg *config.Config
}

func (l localLoader) LoadConfig(context.Context, *types.Item) (*config.Config, error) {
	return l.cfg, nil
}

func loadLocalConfig(path string) (localLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return localLoader{}, fmt.Errorf("%w: %w", config.ErrConfigLoad, err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return localLoader{}, err
	}
	return localLoader{cfg: cfg}, nil
}

func printItem(item *types.Item) {
	fmt.Printf("\n📋 %s: %s\n", item.Kind, item.Ref())
	fmt.Printf("   Title: %s\n", item.Title)
	fmt.Printf("   Author: %s\n", item.Author)
	fmt.Printf("   State: %s\n", item.State)
	if item.Draft {
		fmt.Printf("   Draft: yes\n")
	}
	if len(item.Labels) > 0 {
		fmt.Printf("   Labels: %s\n", strings.Join(item.Labels, ", "))
	}
	if len(item.Assignees) > 0 {
		fmt.Printf("   Current assignees: %s\n", strings.Join(item.Assignees, ", "))
	}
	fmt.Println()
}

func printResult(r *assign.Result) {
	if r.Skipped {
		fmt.Printf("⏭️  Skipped: label matches skip keyword %q\n", r.SkipKeyword)
		return
	}
	fmt.Printf("🔁 Team %q (matched by %s)\n", r.Target.Team.Name, r.Target.Rule)
	if len(r.Changes.Added) > 0 {
		fmt.Printf("   Joined: %s\n", strings.Join(r.Changes.Added, ", "))
	}
	if len(r.Changes.Removed) > 0 {
		fmt.Printf("   Left: %s\n", strings.Join(r.Changes.Removed, ", "))
	}

	switch r.Decision.Action {
	case rotation.AssignNext:
		verb := "Assigned"
		if r.DryRun {
			verb = "Would assign"
		}
		fmt.Printf("✅ %s: %s\n", verb, strings.Join(r.Decision.Selected, ", "))
	case rotation.Demote:
		fmt.Printf("↩️  Already assigned, moved to the back: %s\n", strings.Join(r.Decision.Demoted, ", "))
	default:
		fmt.Println("❌ Nobody to assign")
	}
	printOrder(r.Decision.Order)
	if r.Version > 0 {
		fmt.Printf("   Stored version: %d\n", r.Version)
	}
}

func printOrder(order []string) {
	fmt.Println("   Rotation order:")
	for i, id := range order {
		fmt.Printf("   %d. @%s\n", i+1, id)
	}
}

// parseRef parses an issue or pull request URL, or owner/repo#123 shorthand.
func parseRef(raw string, kind types.Kind) (ref, error) {
	// Handle shorthand: owner/repo#123
	if strings.Contains(raw, "#") && !strings.Contains(raw, "://") {
		repoPath, num, _ := strings.Cut(raw, "#")
		parts := strings.Split(repoPath, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return ref{}, errors.New("invalid repository path (expected owner/repo)")
		}
		n, err := parseNumber(num)
		if err != nil {
			return ref{}, err
		}
		return ref{owner: parts[0], repo: parts[1], number: n}, nil
	}

	// Handle full URL: https://github.com/owner/repo/pull/123
	rest, ok := strings.CutPrefix(raw, "https://github.com/")
	if !ok {
		rest, ok = strings.CutPrefix(raw, "http://github.com/")
	}
	if !ok {
		return ref{}, errors.New("invalid URL format (use: https://github.com/owner/repo/pull/123 or owner/repo#123)")
	}
	segment := "pull"
	if kind == types.KindIssue {
		segment = "issues"
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) < 4 || parts[2] != segment {
		return ref{}, fmt.Errorf("invalid GitHub %s URL format", kind)
	}
	n, err := parseNumber(parts[3])
	if err != nil {
		return ref{}, err
	}
	return ref{owner: parts[0], repo: parts[1], number: n}, nil
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid number: %d", n)
	}
	return n, nil
}
