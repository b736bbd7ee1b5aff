// Package github is a read-only GitHub REST client for the chat tools.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/FeelPulse/repostalker/internal/logger"
	"github.com/FeelPulse/repostalker/pkg/types"
)

const perPage = 100

// Options configures the client
type Options struct {
	BaseURL    string        // empty = https://api.github.com/
	Token      string        // optional
	Timeout    time.Duration // per HTTP request
	HTTPClient *http.Client  // overrides Timeout when set
}

// Client wraps go-github and projects responses into pkg/types
type Client struct {
	gh  *gh.Client
	log *logger.Logger
}

// New creates a client
func New(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	client := gh.NewClient(httpClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}

	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{gh: client, log: logger.Named("github")}, nil
}

// IsNotFound reports whether err is a GitHub 404
func IsNotFound(err error) bool {
	var resp *gh.ErrorResponse
	return errors.As(err, &resp) && resp.Response != nil && resp.Response.StatusCode == http.StatusNotFound
}

func ts(t gh.Timestamp) time.Time {
	return t.Time
}

// GetIssue fetches an issue or pull request by number. A missing item
// returns (nil, nil).
func (c *Client) GetIssue(ctx context.Context, repo types.Repo, number int) (*types.Item, error) {
	issue, _, err := c.gh.Issues.Get(ctx, repo.Owner, repo.Name, number)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s#%d: %w", repo, number, err)
	}

	item := &types.Item{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		State:     issue.GetState(),
		Body:      issue.GetBody(),
		CreatedAt: ts(issue.GetCreatedAt()),
		UpdatedAt: ts(issue.GetUpdatedAt()),
		Comments:  issue.GetComments(),
		HTMLURL:   issue.GetHTMLURL(),
	}
	if login := issue.GetUser().GetLogin(); login != "" {
		item.User = &types.User{Login: login}
	}
	for _, l := range issue.Labels {
		item.Labels = append(item.Labels, types.Label{Name: l.GetName()})
	}
	if issue.IsPullRequest() {
		item.PullRequest = &types.PullRequestLinks{HTMLURL: issue.GetPullRequestLinks().GetHTMLURL()}
	}

	c.log.With("repo", repo).Debug("fetched item #%d", number)
	return item, nil
}

// ListPullRequestFiles returns the files changed by a pull request (first page)
func (c *Client) ListPullRequestFiles(ctx context.Context, repo types.Repo, number int) ([]types.File, error) {
	files, _, err := c.gh.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, &gh.ListOptions{PerPage: perPage})
	if err != nil {
		return nil, fmt.Errorf("list files for %s#%d: %w", repo, number, err)
	}

	result := make([]types.File, 0, len(files))
	for _, f := range files {
		result = append(result, types.File{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Changes:   f.GetChanges(),
			Patch:     f.GetPatch(),
		})
	}
	return result, nil
}

// ListPullRequestCommits returns the commits on a pull request (first page)
func (c *Client) ListPullRequestCommits(ctx context.Context, repo types.Repo, number int) ([]types.Commit, error) {
	commits, _, err := c.gh.PullRequests.ListCommits(ctx, repo.Owner, repo.Name, number, &gh.ListOptions{PerPage: perPage})
	if err != nil {
		return nil, fmt.Errorf("list commits for %s#%d: %w", repo, number, err)
	}

	result := make([]types.Commit, 0, len(commits))
	for _, rc := range commits {
		commit := rc.GetCommit()
		author := commit.GetAuthor().GetName()
		if login := rc.GetAuthor().GetLogin(); login != "" {
			author = login
		}
		result = append(result, types.Commit{
			SHA:     rc.GetSHA(),
			Message: commit.GetMessage(),
			Author:  author,
			Date:    ts(commit.GetAuthor().GetDate()),
		})
	}
	return result, nil
}

// ListReviews returns submitted reviews on a pull request
func (c *Client) ListReviews(ctx context.Context, repo types.Repo, number int) ([]types.Review, error) {
	reviews, _, err := c.gh.PullRequests.ListReviews(ctx, repo.Owner, repo.Name, number, &gh.ListOptions{PerPage: perPage})
	if err != nil {
		return nil, fmt.Errorf("list reviews for %s#%d: %w", repo, number, err)
	}

	result := make([]types.Review, 0, len(reviews))
	for _, r := range reviews {
		result = append(result, types.Review{
			Author:      r.GetUser().GetLogin(),
			State:       r.GetState(),
			Body:        r.GetBody(),
			SubmittedAt: ts(r.GetSubmittedAt()),
		})
	}
	return result, nil
}

// ListIssueComments returns conversation comments on an issue or pull request
func (c *Client) ListIssueComments(ctx context.Context, repo types.Repo, number int) ([]types.Comment, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	comments, _, err := c.gh.Issues.ListComments(ctx, repo.Owner, repo.Name, number, opts)
	if err != nil {
		return nil, fmt.Errorf("list comments for %s#%d: %w", repo, number, err)
	}

	result := make([]types.Comment, 0, len(comments))
	for _, cm := range comments {
		result = append(result, types.Comment{
			Author:    cm.GetUser().GetLogin(),
			Body:      cm.GetBody(),
			CreatedAt: ts(cm.GetCreatedAt()),
		})
	}
	return result, nil
}

// ListReviewComments returns inline review comments on a pull request
func (c *Client) ListReviewComments(ctx context.Context, repo types.Repo, number int) ([]types.Comment, error) {
	opts := &gh.PullRequestListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	comments, _, err := c.gh.PullRequests.ListComments(ctx, repo.Owner, repo.Name, number, opts)
	if err != nil {
		return nil, fmt.Errorf("list review comments for %s#%d: %w", repo, number, err)
	}

	result := make([]types.Comment, 0, len(comments))
	for _, cm := range comments {
		result = append(result, types.Comment{
			Author:    cm.GetUser().GetLogin(),
			Body:      cm.GetBody(),
			CreatedAt: ts(cm.GetCreatedAt()),
			Path:      cm.GetPath(),
		})
	}
	return result, nil
}

// GetFileContent returns the decoded content of a file at ref (empty = default branch)
func (c *Client) GetFileContent(ctx context.Context, repo types.Repo, path, ref string) (string, error) {
	var opts *gh.RepositoryContentGetOptions
	if ref != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: ref}
	}

	file, _, _, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, opts)
	if err != nil {
		return "", fmt.Errorf("get %s in %s: %w", path, repo, err)
	}
	if file == nil {
		return "", fmt.Errorf("%s in %s is a directory", path, repo)
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return content, nil
}
