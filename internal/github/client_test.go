package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FeelPulse/repostalker/pkg/types"
)

// mockGitHubAPI serves canned GitHub REST responses keyed by path
func mockGitHubAPI(t *testing.T, routes map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: server.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

var testRepo = types.Repo{Owner: "octo", Name: "widgets"}

func TestGetIssue(t *testing.T) {
	server := mockGitHubAPI(t, map[string]any{
		"/repos/octo/widgets/issues/7": map[string]any{
			"number":     7,
			"title":      "Crash on start",
			"state":      "open",
			"body":       "Stack trace attached",
			"user":       map[string]any{"login": "alice"},
			"comments":   3,
			"html_url":   "https://github.com/octo/widgets/pull/7",
			"created_at": "2025-01-02T03:04:05Z",
			"updated_at": "2025-01-03T03:04:05Z",
			"labels":     []map[string]any{{"name": "bug"}},
			"pull_request": map[string]any{
				"html_url": "https://github.com/octo/widgets/pull/7",
			},
		},
	})
	c := newTestClient(t, server)

	item, err := c.GetIssue(context.Background(), testRepo, 7)
	if err != nil {
		t.Fatalf("GetIssue() error = %v", err)
	}
	if item.Number != 7 || item.Title != "Crash on start" || item.Author() != "alice" || item.Comments != 3 {
		t.Errorf("unexpected item: %+v", item)
	}
	if len(item.Labels) != 1 || item.Labels[0].Name != "bug" {
		t.Errorf("labels = %v", item.Labels)
	}
	if !item.IsPullRequest() {
		t.Error("expected item to be marked as a pull request")
	}
	if item.CreatedAt.Year() != 2025 {
		t.Errorf("CreatedAt = %v", item.CreatedAt)
	}
}

func TestGetIssue_NotFound(t *testing.T) {
	server := mockGitHubAPI(t, map[string]any{})
	c := newTestClient(t, server)

	item, err := c.GetIssue(context.Background(), testRepo, 404)
	if err != nil {
		t.Fatalf("GetIssue() error = %v, want nil for 404", err)
	}
	if item != nil {
		t.Errorf("item = %+v, want nil", item)
	}
}

func TestListPullRequestFilesAndCommits(t *testing.T) {
	server := mockGitHubAPI(t, map[string]any{
		"/repos/octo/widgets/pulls/3/files": []map[string]any{
			{"filename": "main.go", "status": "modified", "additions": 10, "deletions": 2, "changes": 12, "patch": "@@ -1 +1 @@"},
		},
		"/repos/octo/widgets/pulls/3/commits": []map[string]any{
			{
				"sha":    "abc123",
				"author": map[string]any{"login": "bob"},
				"commit": map[string]any{
					"message": "Fix crash",
					"author":  map[string]any{"name": "Bob B", "date": "2025-02-01T00:00:00Z"},
				},
			},
		},
	})
	c := newTestClient(t, server)
	ctx := context.Background()

	files, err := c.ListPullRequestFiles(ctx, testRepo, 3)
	if err != nil {
		t.Fatalf("ListPullRequestFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Filename != "main.go" || files[0].Changes != 12 || files[0].Patch == "" {
		t.Errorf("files = %+v", files)
	}

	commits, err := c.ListPullRequestCommits(ctx, testRepo, 3)
	if err != nil {
		t.Fatalf("ListPullRequestCommits() error = %v", err)
	}
	if len(commits) != 1 || commits[0].SHA != "abc123" || commits[0].Author != "bob" || commits[0].Message != "Fix crash" {
		t.Errorf("commits = %+v", commits)
	}
}

func TestListReviewsAndComments(t *testing.T) {
	server := mockGitHubAPI(t, map[string]any{
		"/repos/octo/widgets/pulls/3/reviews": []map[string]any{
			{"user": map[string]any{"login": "carol"}, "state": "APPROVED", "body": "LGTM", "submitted_at": "2025-02-02T00:00:00Z"},
		},
		"/repos/octo/widgets/issues/3/comments": []map[string]any{
			{"user": map[string]any{"login": "dave"}, "body": "Thanks!", "created_at": "2025-02-03T00:00:00Z"},
		},
		"/repos/octo/widgets/pulls/3/comments": []map[string]any{
			{"user": map[string]any{"login": "erin"}, "body": "nit", "path": "main.go", "created_at": "2025-02-04T00:00:00Z"},
		},
	})
	c := newTestClient(t, server)
	ctx := context.Background()

	reviews, err := c.ListReviews(ctx, testRepo, 3)
	if err != nil || len(reviews) != 1 || reviews[0].State != "APPROVED" || reviews[0].Author != "carol" {
		t.Errorf("ListReviews() = %+v, %v", reviews, err)
	}

	issueComments, err := c.ListIssueComments(ctx, testRepo, 3)
	if err != nil || len(issueComments) != 1 || issueComments[0].Author != "dave" {
		t.Errorf("ListIssueComments() = %+v, %v", issueComments, err)
	}

	reviewComments, err := c.ListReviewComments(ctx, testRepo, 3)
	if err != nil || len(reviewComments) != 1 || reviewComments[0].Path != "main.go" {
		t.Errorf("ListReviewComments() = %+v, %v", reviewComments, err)
	}
}

func TestGetFileContent(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("package main\n"))
	server := mockGitHubAPI(t, map[string]any{
		"/repos/octo/widgets/contents/main.go": map[string]any{
			"type":     "file",
			"name":     "main.go",
			"path":     "main.go",
			"encoding": "base64",
			"content":  encoded,
		},
	})
	c := newTestClient(t, server)

	content, err := c.GetFileContent(context.Background(), testRepo, "main.go", "")
	if err != nil {
		t.Fatalf("GetFileContent() error = %v", err)
	}
	if content != "package main\n" {
		t.Errorf("content = %q", content)
	}

	if _, err := c.GetFileContent(context.Background(), testRepo, "missing.go", "main"); err == nil {
		t.Error("expected error for missing file")
	} else if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false", err)
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "://bad"}); err == nil {
		t.Error("expected error for invalid base URL")
	}
}
