package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/FeelPulse/repostalker/pkg/types"
)

const (
	maxPatchChars   = 500
	maxContentChars = 4000
)

// PRSource fetches pull request metadata from GitHub
type PRSource interface {
	ListPullRequestFiles(ctx context.Context, repo types.Repo, number int) ([]types.File, error)
	ListPullRequestCommits(ctx context.Context, repo types.Repo, number int) ([]types.Commit, error)
	ListReviews(ctx context.Context, repo types.Repo, number int) ([]types.Review, error)
	ListIssueComments(ctx context.Context, repo types.Repo, number int) ([]types.Comment, error)
	ListReviewComments(ctx context.Context, repo types.Repo, number int) ([]types.Comment, error)
	GetFileContent(ctx context.Context, repo types.Repo, path, ref string) (string, error)
}

// PRContext identifies the pull request the PR tools operate on
type PRContext struct {
	Repo   types.Repo
	Number int
	Source PRSource
}

type prFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
	Truncated bool   `json:"patch_truncated,omitempty"`
}

type prComments struct {
	Reviews        []types.Review  `json:"reviews"`
	Comments       []types.Comment `json:"comments"`
	ReviewComments []types.Comment `json:"review_comments"`
	Total          int             `json:"total"`
}

type fileContent struct {
	Path      string `json:"path"`
	Ref       string `json:"ref,omitempty"`
	Content   string `json:"content"`
	Size      int    `json:"size"`
	Truncated bool   `json:"truncated,omitempty"`
}

// truncate keeps at most n characters
func truncate(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}

// NewPRRegistry builds the pull-request chat tools for pc
func NewPRRegistry(pc PRContext) *Registry {
	r := NewRegistry()
	label := fmt.Sprintf("PR #%d in %s", pc.Number, pc.Repo)

	r.Register(&Tool{
		Name:        "get_pr_files",
		Description: fmt.Sprintf("List the files changed by %s with line counts and a truncated patch", label),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			files, err := pc.Source.ListPullRequestFiles(ctx, pc.Repo, pc.Number)
			if err != nil {
				return nil, err
			}
			out := make([]prFile, 0, len(files))
			for _, f := range files {
				patch, cut := truncate(f.Patch, maxPatchChars)
				out = append(out, prFile{
					Filename:  f.Filename,
					Status:    f.Status,
					Additions: f.Additions,
					Deletions: f.Deletions,
					Changes:   f.Changes,
					Patch:     patch,
					Truncated: cut,
				})
			}
			return out, nil
		},
	})

	r.Register(&Tool{
		Name:        "get_pr_commits",
		Description: fmt.Sprintf("List the commits on %s", label),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			commits, err := pc.Source.ListPullRequestCommits(ctx, pc.Repo, pc.Number)
			if err != nil {
				return nil, err
			}
			out := make([]types.Commit, 0, len(commits))
			for _, c := range commits {
				// subject line only
				c.Message, _, _ = strings.Cut(c.Message, "\n")
				out = append(out, c)
			}
			return out, nil
		},
	})

	r.Register(&Tool{
		Name:        "get_pr_comments",
		Description: fmt.Sprintf("Get reviews, discussion comments and inline review comments on %s", label),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var out prComments
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				reviews, err := pc.Source.ListReviews(gctx, pc.Repo, pc.Number)
				out.Reviews = reviews
				return err
			})
			g.Go(func() error {
				comments, err := pc.Source.ListIssueComments(gctx, pc.Repo, pc.Number)
				out.Comments = comments
				return err
			})
			g.Go(func() error {
				comments, err := pc.Source.ListReviewComments(gctx, pc.Repo, pc.Number)
				out.ReviewComments = comments
				return err
			})

			if err := g.Wait(); err != nil {
				return nil, err
			}

			if out.Reviews == nil {
				out.Reviews = []types.Review{}
			}
			if out.Comments == nil {
				out.Comments = []types.Comment{}
			}
			if out.ReviewComments == nil {
				out.ReviewComments = []types.Comment{}
			}
			sort.SliceStable(out.Comments, func(i, j int) bool {
				return out.Comments[i].CreatedAt.Before(out.Comments[j].CreatedAt)
			})
			out.Total = len(out.Reviews) + len(out.Comments) + len(out.ReviewComments)
			return out, nil
		},
	})

	r.Register(&Tool{
		Name:        "get_file_content",
		Description: fmt.Sprintf("Read a file from %s (content is truncated to %d characters)", pc.Repo, maxContentChars),
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Repository-relative file path", Required: true},
			{Name: "ref", Type: "string", Description: "Branch, tag or commit SHA (defaults to the default branch)"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			path, err := StringArg(args, "path")
			if err != nil {
				return nil, err
			}
			path = strings.TrimPrefix(strings.TrimSpace(path), "/")
			if path == "" {
				return nil, fmt.Errorf("path must not be empty")
			}
			ref := OptionalStringArg(args, "ref", "")

			content, err := pc.Source.GetFileContent(ctx, pc.Repo, path, ref)
			if err != nil {
				return nil, err
			}
			truncated, cut := truncate(content, maxContentChars)
			return fileContent{
				Path:      path,
				Ref:       ref,
				Content:   truncated,
				Size:      len(content),
				Truncated: cut,
			}, nil
		},
	})

	return r
}
