package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/FeelPulse/repostalker/pkg/types"
)

const (
	itemBodyPreview = 300
	noDescription   = "No description provided"
)

// PRChatPrompt builds the system prompt for chatting about one PR or issue.
// withTools adds guidance for the PR metadata tools.
func PRChatPrompt(title, description string, withTools bool) string {
	if strings.TrimSpace(description) == "" {
		description = noDescription
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `You are an expert code reviewer and GitHub assistant. You're helping a developer understand a GitHub pull request or issue.

Title: %s

Context/Description:
%s

Your job is to:
- Answer questions about the PR/issue clearly and concisely
- Explain technical concepts in an accessible way
- Provide insights about potential impacts, risks, or benefits
- Help the developer quickly understand what's happening
`, title, description)

	if withTools {
		sb.WriteString(`
You can use tools to fetch the changed files, commits, review comments and file contents of this pull request. Use them when the description is not enough to answer, and cite file names when you do.
`)
	}

	sb.WriteString("\nKeep responses focused and practical.")
	return sb.String()
}

// RepoChatPrompt builds the system prompt for chatting about a list of items
func RepoChatPrompt(items []types.Item, kind types.ItemKind, summary string) string {
	plural := kind.Plural()
	singular := kind.Singular()

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a helpful assistant that helps developers understand and analyze GitHub %s.\n\n", plural)
	fmt.Fprintf(&sb, "You have access to %d %s. Here's the complete list with details:\n", len(items), plural)

	for _, item := range items {
		labels := strings.Join(item.LabelNames(), ", ")
		if labels == "" {
			labels = "no labels"
		}
		fmt.Fprintf(&sb, "\n#%d: %s\n", item.Number, item.Title)
		fmt.Fprintf(&sb, "- State: %s\n", item.State)
		fmt.Fprintf(&sb, "- Author: %s\n", item.Author())
		fmt.Fprintf(&sb, "- Created: %s\n", formatTime(item))
		fmt.Fprintf(&sb, "- Comments: %d\n", item.Comments)
		fmt.Fprintf(&sb, "- Labels: %s\n", labels)
		fmt.Fprintf(&sb, "- URL: %s\n", item.HTMLURL)
		if item.Body != "" {
			fmt.Fprintf(&sb, "- Description: %s\n", preview(item.Body, itemBodyPreview))
		}
	}

	if s := strings.TrimSpace(summary); s != "" {
		fmt.Fprintf(&sb, "\nPreviously generated summary of these %s:\n%s\n", plural, s)
	}

	fmt.Fprintf(&sb, `
You can use tools to:
- Search items by keyword in title or body
- Filter by state (open/closed)
- Filter by label (e.g., "bug", "enhancement", "documentation")
- Get detailed information about specific items
- Analyze activity patterns

When responding:
- Answer questions directly using the context above when possible
- Use tools only when you need to search, filter, or get additional details
- For questions like "show me bug reports", filter the context above for items with "bug" label
- Be concise and relevant
- ALWAYS include GitHub URLs when discussing specific %ss
- Reference specific %s numbers with their links (e.g., "#123: Title - https://github.com/...")
- Summarize findings clearly`, singular, singular)

	return sb.String()
}

// SummaryPrompts builds the system and user prompts for summarize-items
func SummaryPrompts(items []types.Item, kind types.ItemKind) (system, user string) {
	lower := strings.ToLower(kind.Plural())

	system = fmt.Sprintf(`You are an AI assistant that creates concise, insightful summaries of GitHub %s.
Focus on:
- Overall status distribution (open/closed)
- Key themes or patterns
- Notable items that need attention
- Any trends in activity

Keep the summary brief (3-5 sentences) and actionable.`, lower)

	lines := make([]string, 0, len(items))
	for i, item := range items {
		author := "Unknown"
		if item.User != nil && item.User.Login != "" {
			author = item.User.Login
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s\n   Author: %s\n   Created: %s\n   Comments: %d",
			i+1, strings.ToUpper(item.State), item.Title, author, formatTime(item), item.Comments))
	}

	user = fmt.Sprintf("Please summarize these %d %s:\n\n%s", len(items), lower, strings.Join(lines, "\n\n"))
	return system, user
}

func formatTime(item types.Item) string {
	if item.CreatedAt.IsZero() {
		return "unknown"
	}
	return item.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
