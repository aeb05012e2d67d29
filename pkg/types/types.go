// Package types contains shared data structures used across the assignment system.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes issues from pull requests.
type Kind string

const (
	KindIssue       Kind = "issue"
	KindPullRequest Kind = "pull_request"
)

// Item is an issue or pull request that may need an assignee.
type Item struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RepositoryURL string // canonical html URL, e.g. https://github.com/owner/repo
	Owner         string
	Repository    string
	Title         string
	State         string
	Author        string
	Kind          Kind
	Labels        []string
	Assignees     []string
	Reviewers     []string
	ChangedFiles  []string // paths, pull requests only
	Number        int
	Draft         bool
}

// OwnerURL returns the canonical URL of the repository owner.
func (i *Item) OwnerURL() string {
	if idx := strings.LastIndex(strings.TrimSuffix(i.RepositoryURL, "/"), "/"); idx > 0 {
		return i.RepositoryURL[:idx]
	}
	return i.RepositoryURL
}

// Ref returns owner/repo#number for logging.
func (i *Item) Ref() string {
	return fmt.Sprintf("%s/%s#%d", i.Owner, i.Repository, i.Number)
}
