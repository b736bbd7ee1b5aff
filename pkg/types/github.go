package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ItemKind distinguishes pull requests from issues
type ItemKind string

const (
	KindPullRequest ItemKind = "pr"
	KindIssue       ItemKind = "issue"
)

// ParseItemKind maps the front-end "type" field to an ItemKind, defaulting to issues
func ParseItemKind(s string) ItemKind {
	if strings.EqualFold(s, "pr") || strings.EqualFold(s, "pull_request") {
		return KindPullRequest
	}
	return KindIssue
}

// Plural returns the human-readable plural used in prompts
func (k ItemKind) Plural() string {
	if k == KindPullRequest {
		return "Pull Requests"
	}
	return "Issues"
}

// Singular returns the short label used in prompts
func (k ItemKind) Singular() string {
	if k == KindPullRequest {
		return "PR"
	}
	return "Issue"
}

// User is the GitHub account that authored an item
type User struct {
	Login string `json:"login"`
}

// Label is a GitHub label attached to an item
type Label struct {
	Name string `json:"name"`
}

// Item is an issue or pull request as listed by the GitHub REST API
type Item struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Body      string    `json:"body,omitempty"`
	User      *User     `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Comments  int       `json:"comments"`
	HTMLURL   string    `json:"html_url"`
	Labels    []Label   `json:"labels,omitempty"`

	PullRequest *PullRequestLinks `json:"pull_request,omitempty"` // set when the issue is a PR
}

// PullRequestLinks marks an issues-API item as a pull request
type PullRequestLinks struct {
	HTMLURL string `json:"html_url,omitempty"`
}

// IsPullRequest reports whether the item is a pull request
func (i *Item) IsPullRequest() bool {
	return i.PullRequest != nil
}

// Author returns the author login or "unknown"
func (i *Item) Author() string {
	if i.User == nil || i.User.Login == "" {
		return "unknown"
	}
	return i.User.Login
}

// LabelNames returns label names in order; never nil
func (i *Item) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// Repo identifies a GitHub repository
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// String returns owner/name
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the repo is unset
func (r Repo) IsZero() bool {
	return r.Owner == "" || r.Name == ""
}

// ParseRepo parses "owner/name"
func ParseRepo(fullName string) (Repo, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(fullName), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repository name %q (expected owner/name)", fullName)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

var repoURLPattern = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`)

// RepoFromURL extracts the repository from an item html_url
func RepoFromURL(htmlURL string) (Repo, bool) {
	m := repoURLPattern.FindStringSubmatch(htmlURL)
	if m == nil {
		return Repo{}, false
	}
	return Repo{Owner: m[1], Name: m[2]}, true
}

// File is a file changed by a pull request
type File struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
}

// Commit is a commit on a pull request
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// Review is a submitted pull request review
type Review struct {
	Author      string    `json:"author"`
	State       string    `json:"state"`
	Body        string    `json:"body,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Comment is an issue comment or an inline review comment (Path set)
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path,omitempty"`
}
