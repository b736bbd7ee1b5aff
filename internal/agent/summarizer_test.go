package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/FeelPulse/repostalker/internal/telemetry"
	"github.com/FeelPulse/repostalker/pkg/types"
)

func sampleItems() []types.Item {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []types.Item{
		{
			Number: 12, Title: "Fix crash on start", State: "open", Body: "Crashes when config is missing",
			User: &types.User{Login: "octocat"}, CreatedAt: created, Comments: 4,
			HTMLURL: "https://github.com/acme/widgets/issues/12",
			Labels:  []types.Label{{Name: "bug"}, {Name: "p1"}},
		},
		{
			Number: 15, Title: "Add dark mode", State: "closed",
			CreatedAt: created.Add(24 * time.Hour), Comments: 0,
			HTMLURL: "https://github.com/acme/widgets/issues/15",
		},
	}
}

func TestSummaryPrompts(t *testing.T) {
	system, user := SummaryPrompts(sampleItems(), types.KindIssue)

	if !strings.Contains(system, "summaries of GitHub issues") || !strings.Contains(system, "3-5 sentences") {
		t.Errorf("unexpected system prompt: %s", system)
	}
	for _, want := range []string{
		"Please summarize these 2 issues:",
		"1. [OPEN] Fix crash on start\n   Author: octocat\n   Created: 2024-03-01T12:00:00Z\n   Comments: 4",
		"2. [CLOSED] Add dark mode\n   Author: Unknown",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestRepoChatPrompt(t *testing.T) {
	items := sampleItems()
	items[0].Body = strings.Repeat("x", 400)
	prompt := RepoChatPrompt(items, types.KindPullRequest, "Mostly bug fixes")

	for _, want := range []string{
		"analyze GitHub Pull Requests",
		"You have access to 2 Pull Requests",
		"#12: Fix crash on start",
		"- Labels: bug, p1",
		"- Labels: no labels",
		"- Author: unknown",
		strings.Repeat("x", 300) + "...",
		"Mostly bug fixes",
		"discussing specific PRs",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, strings.Repeat("x", 301)) {
		t.Error("body preview not truncated")
	}
}

func TestPRChatPrompt(t *testing.T) {
	tests := []struct {
		name        string
		description string
		withTools   bool
		want        []string
		notWant     []string
	}{
		{
			name:        "with description",
			description: "Refactors the parser",
			want:        []string{"Title: Parser cleanup", "Refactors the parser"},
			notWant:     []string{"You can use tools"},
		},
		{
			name:    "blank description",
			want:    []string{noDescription},
			notWant: []string{"You can use tools"},
		},
		{
			name:      "tools attached",
			withTools: true,
			want:      []string{"You can use tools"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := PRChatPrompt("Parser cleanup", tt.description, tt.withTools)
			for _, w := range tt.want {
				if !strings.Contains(prompt, w) {
					t.Errorf("missing %q", w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(prompt, w) {
					t.Errorf("unexpected %q", w)
				}
			}
		})
	}
}

func TestSummarySpanName(t *testing.T) {
	tests := []struct {
		kind types.ItemKind
		repo types.Repo
		want string
	}{
		{types.KindPullRequest, types.Repo{Owner: "acme", Name: "widgets"}, "repo_pr_summary_acme_widgets"},
		{types.KindIssue, types.Repo{Owner: "acme", Name: "widgets"}, "repo_issue_summary_acme_widgets"},
		{types.KindIssue, types.Repo{}, "repo_issue_summary_unknown"},
	}
	for _, tt := range tests {
		if got := SummarySpanName(tt.kind, tt.repo); got != tt.want {
			t.Errorf("SummarySpanName = %q, want %q", got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	llm := &scriptedLLM{replies: []scriptedReply{textReply("Two issues, one open bug.")}}
	rec := &telemetry.Recorder{}
	s := NewSummarizer(llm, rec, nil)

	text, usage, err := s.Summarize(context.Background(), SummaryRequest{
		Items: sampleItems(), Kind: types.KindIssue, Model: "m", DistinctID: "d1", SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if text != "Two issues, one open bug." || usage.Total() != 70 {
		t.Errorf("got %q, %+v", text, usage)
	}

	reqs := llm.requests()
	if len(reqs) != 1 || len(reqs[0].Tools) != 0 || len(reqs[0].Messages) != 2 {
		t.Fatalf("expected one tool-free call with two messages: %+v", reqs)
	}

	traces := rec.Traces()
	if len(traces) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(traces))
	}
	if traces[0].SpanName != "repo_issue_summary_acme_widgets" || traces[0].SessionID != "s1" || !traces[0].Success {
		t.Errorf("unexpected trace: %+v", traces[0])
	}
	if traces[0].Properties["item_count"] != 2 {
		t.Errorf("item_count = %v", traces[0].Properties["item_count"])
	}
}

func TestSummarizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		items []types.Item
		reply scriptedReply
		check func(error) bool
	}{
		{"no items", nil, textReply("x"), func(err error) bool { return errors.Is(err, ErrNoItems) }},
		{"empty completion", sampleItems(), textReply(""), func(err error) bool { return errors.Is(err, ErrEmptyResponse) }},
		{
			"payment required", sampleItems(),
			scriptedReply{err: &UpstreamError{StatusCode: 402, Message: "credits"}},
			func(err error) bool {
				var up *UpstreamError
				return errors.As(err, &up) && up.PaymentRequired()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{replies: []scriptedReply{tt.reply}}
			_, _, err := NewSummarizer(llm, nil, nil).Summarize(context.Background(), SummaryRequest{
				Items: tt.items, Kind: types.KindIssue,
			})
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
