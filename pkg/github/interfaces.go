package github

import (
	"context"
	"net/http"

	"github.com/codeGROOVE-dev/auto-assign/pkg/types"
)

// HTTPDoer provides an interface for making HTTP requests.
// This allows us to mock HTTP calls in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API defines the GitHub operations the assignment bot relies on.
type API interface {
	Token(ctx context.Context) (string, error)
	TokenForOwner(ctx context.Context, owner string) (string, error)
	ListAppInstallations(ctx context.Context) ([]string, error)

	ConfigFile(ctx context.Context, owner, repo, path string) ([]byte, error)
	PullRequest(ctx context.Context, owner, repo string, number int) (*types.Item, error)
	Issue(ctx context.Context, owner, repo string, number int) (*types.Item, error)
	ChangedFiles(ctx context.Context, owner, repo string, number int) ([]string, error)

	AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error
	AddReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error
}
