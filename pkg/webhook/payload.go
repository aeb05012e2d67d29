package webhook

import (
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/auto-assign/pkg/types"
)

type user struct {
	Login string `json:"login"`
}

type label struct {
	Name string `json:"name"`
}

type repository struct {
	Owner    user   `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// item carries the fields shared by the pull_request and issue objects.
type item struct {
	UpdatedAt time.Time `json:"updated_at"`
	Assignee  *user     `json:"assignee"`
	User      user      `json:"user"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Labels    []label   `json:"labels"`
	Assignees []user    `json:"assignees"`
	Number    int       `json:"number"`
}

type pullRequest struct {
	RequestedReviewers []user `json:"requested_reviewers"`
	item
	Draft bool `json:"draft"`
}

type pullRequestEvent struct {
	PullRequest pullRequest `json:"pull_request"`
	Repository  repository  `json:"repository"`
	Action      string      `json:"action"`
}

type issuesEvent struct {
	Issue      item       `json:"issue"`
	Repository repository `json:"repository"`
	Action     string     `json:"action"`
}

type pushEvent struct {
	Repository repository `json:"repository"`
	Ref        string     `json:"ref"`
	Commits    []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

func (p pushEvent) touches(path string) bool {
	for _, c := range p.Commits {
		if slices.Contains(c.Added, path) || slices.Contains(c.Modified, path) || slices.Contains(c.Removed, path) {
			return true
		}
	}
	return false
}

func (r repository) owner() string {
	if r.Owner.Login != "" {
		return r.Owner.Login
	}
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// assignees merges the assignee list with the legacy single assignee field.
func (i item) assignees() []string {
	var out []string
	for _, u := range i.Assignees {
		if u.Login != "" && !slices.Contains(out, u.Login) {
			out = append(out, u.Login)
		}
	}
	if i.Assignee != nil && i.Assignee.Login != "" && !slices.Contains(out, i.Assignee.Login) {
		out = append(out, i.Assignee.Login)
	}
	return out
}

func (i item) toItem(repo repository, kind types.Kind) *types.Item {
	var labels []string
	for _, l := range i.Labels {
		labels = append(labels, l.Name)
	}
	return &types.Item{
		Kind:          kind,
		RepositoryURL: repo.HTMLURL,
		Owner:         repo.owner(),
		Repository:    repo.Name,
		Number:        i.Number,
		Title:         i.Title,
		State:         i.State,
		Author:        i.User.Login,
		UpdatedAt:     i.UpdatedAt,
		Labels:        labels,
		Assignees:     i.assignees(),
	}
}

func (e pullRequestEvent) toItem() *types.Item {
	it := e.PullRequest.toItem(e.Repository, types.KindPullRequest)
	it.Draft = e.PullRequest.Draft
	for _, u := range e.PullRequest.RequestedReviewers {
		it.Reviewers = append(it.Reviewers, u.Login)
	}
	return it
}
