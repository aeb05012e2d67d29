package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/auto-assign/pkg/types"
)

const (
	perPageLimit = 100 // GitHub API per_page limit
	maxFilePages = 30  // GitHub stops listing pull request files at 3000
)

// ErrNotFound is returned when a repository resource does not exist.
var ErrNotFound = errors.New("not found")

type login struct {
	Login string `json:"login"`
}

type label struct {
	Name string `json:"name"`
}

func logins(users []login) []string {
	if len(users) == 0 {
		return nil
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Login)
	}
	return out
}

func labelNames(labels []label) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Name)
	}
	return out
}

// repositoryURL trims an item's html URL back to its repository, e.g.
// https://github.com/o/r/pull/3 -> https://github.com/o/r.
func repositoryURL(htmlURL, marker string) string {
	if i := strings.LastIndex(htmlURL, marker); i > 0 {
		return htmlURL[:i]
	}
	return htmlURL
}

// ConfigFile fetches a file from the repository's default branch.
// It returns ErrNotFound if the file does not exist.
func (c *Client) ConfigFile(ctx context.Context, owner, repo, path string) ([]byte, error) {
	slog.Info("Fetching configuration file", "component", "api", "owner", owner, "repo", repo, "path", path)
	apiPath := fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(owner), url.PathEscape(repo), strings.TrimPrefix(path, "/"))
	resp, err := c.get(ctx, owner, apiPath)
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s in %s/%s: %w", path, owner, repo, ErrNotFound)
	default:
		return nil, statusError("failed to get "+path, resp)
	}

	var content struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return nil, fmt.Errorf("failed to decode contents of %s: %w", path, err)
	}
	if content.Type != "" && content.Type != "file" {
		return nil, fmt.Errorf("%s is a %s, not a file", path, content.Type)
	}
	if content.Encoding != "base64" {
		return []byte(content.Content), nil
	}

	// GitHub wraps base64 content at 60 columns.
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 contents of %s: %w", path, err)
	}
	return data, nil
}

// PullRequest fetches a pull request, including the paths of its changed files.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*types.Item, error) {
	slog.Info("Fetching pull request", "component", "api", "owner", owner, "repo", repo, "pr", number)
	resp, err := c.get(ctx, owner, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number))
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("pull request %s/%s#%d: %w", owner, repo, number, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("failed to get pull request", resp)
	}

	var pr struct {
		CreatedAt          time.Time `json:"created_at"`
		UpdatedAt          time.Time `json:"updated_at"`
		User               login     `json:"user"`
		Title              string    `json:"title"`
		State              string    `json:"state"`
		HTMLURL            string    `json:"html_url"`
		Labels             []label   `json:"labels"`
		Assignees          []login   `json:"assignees"`
		RequestedReviewers []login   `json:"requested_reviewers"`
		Base               struct {
			Repo struct {
				HTMLURL string `json:"html_url"`
			} `json:"repo"`
		} `json:"base"`
		Number int  `json:"number"`
		Draft  bool `json:"draft"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode pull request: %w", err)
	}

	repoURL := pr.Base.Repo.HTMLURL
	if repoURL == "" {
		repoURL = repositoryURL(pr.HTMLURL, "/pull/")
	}

	files, err := c.ChangedFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get changed files: %w", err)
	}

	return &types.Item{
		Kind:          types.KindPullRequest,
		RepositoryURL: repoURL,
		Owner:         owner,
		Repository:    repo,
		Number:        pr.Number,
		Title:         pr.Title,
		State:         pr.State,
		Author:        pr.User.Login,
		Draft:         pr.Draft,
		CreatedAt:     pr.CreatedAt,
		UpdatedAt:     pr.UpdatedAt,
		Labels:        labelNames(pr.Labels),
		Assignees:     logins(pr.Assignees),
		Reviewers:     logins(pr.RequestedReviewers),
		ChangedFiles:  files,
	}, nil
}

// Issue fetches an issue.
func (c *Client) Issue(ctx context.Context, owner, repo string, number int) (*types.Item, error) {
	slog.Info("Fetching issue", "component", "api", "owner", owner, "repo", repo, "issue", number)
	resp, err := c.get(ctx, owner, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number))
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("issue %s/%s#%d: %w", owner, repo, number, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("failed to get issue", resp)
	}

	var issue struct {
		CreatedAt   time.Time       `json:"created_at"`
		UpdatedAt   time.Time       `json:"updated_at"`
		PullRequest json.RawMessage `json:"pull_request"`
		User        login           `json:"user"`
		Title       string          `json:"title"`
		State       string          `json:"state"`
		HTMLURL     string          `json:"html_url"`
		Labels      []label         `json:"labels"`
		Assignees   []login         `json:"assignees"`
		Number      int             `json:"number"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("failed to decode issue: %w", err)
	}
	if len(issue.PullRequest) > 0 {
		// The issues endpoint also serves pull requests; fetch the full record.
		return c.PullRequest(ctx, owner, repo, number)
	}

	return &types.Item{
		Kind:          types.KindIssue,
		RepositoryURL: repositoryURL(issue.HTMLURL, "/issues/"),
		Owner:         owner,
		Repository:    repo,
		Number:        issue.Number,
		Title:         issue.Title,
		State:         issue.State,
		Author:        issue.User.Login,
		CreatedAt:     issue.CreatedAt,
		UpdatedAt:     issue.UpdatedAt,
		Labels:        labelNames(issue.Labels),
		Assignees:     logins(issue.Assignees),
	}, nil
}

// ChangedFiles returns the paths touched by a pull request.
func (c *Client) ChangedFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var paths []string
	for page := 1; page <= maxFilePages; page++ {
		batch, err := c.changedFilesPage(ctx, owner, repo, number, page)
		if err != nil {
			return nil, err
		}
		paths = append(paths, batch...)
		if len(batch) < perPageLimit {
			break
		}
	}
	return paths, nil
}

func (c *Client) changedFilesPage(ctx context.Context, owner, repo string, number, page int) ([]string, error) {
	apiPath := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d", owner, repo, number, perPageLimit, page)
	resp, err := c.get(ctx, owner, apiPath)
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("failed to list changed files", resp)
	}

	var files []struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode changed files: %w", err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Filename)
	}
	return paths, nil
}

// AddAssignees adds assignees to an issue or pull request.
func (c *Client) AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) error {
	resp, err := c.post(ctx, owner, fmt.Sprintf("/repos/%s/%s/issues/%d/assignees", owner, repo, number),
		map[string]any{"assignees": assignees})
	if err != nil {
		return fmt.Errorf("failed to add assignees: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return statusError("failed to add assignees", resp)
	}

	slog.Info("Added assignees", "component", "api", "owner", owner, "repo", repo, "number", number, "assignees", assignees)
	return nil
}

// AddReviewers requests reviews on a pull request.
func (c *Client) AddReviewers(ctx context.Context, owner, repo string, number int, reviewers []string) error {
	resp, err := c.post(ctx, owner, fmt.Sprintf("/repos/%s/%s/pulls/%d/requested_reviewers", owner, repo, number),
		map[string]any{"reviewers": reviewers})
	if err != nil {
		return fmt.Errorf("failed to add reviewers: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return statusError("failed to add reviewers", resp)
	}

	slog.Info("Added reviewers to PR", "component", "api", "owner", owner, "repo", repo, "pr", number, "reviewers", reviewers)
	return nil
}
