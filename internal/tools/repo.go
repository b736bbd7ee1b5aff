package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FeelPulse/repostalker/internal/logger"
	"github.com/FeelPulse/repostalker/pkg/types"
)

const (
	maxListResults   = 10
	maxActivityItems = 5
	maxAuthors       = 10
)

// ItemFetcher loads a single issue or pull request from GitHub
type ItemFetcher interface {
	GetIssue(ctx context.Context, repo types.Repo, number int) (*types.Item, error)
}

// RepoContext is the read-only snapshot the repository tools operate on
type RepoContext struct {
	Items   []types.Item
	Kind    types.ItemKind
	Repo    types.Repo  // optional; resolved from item URLs when zero
	Fetcher ItemFetcher // optional; enables get_item_details refresh
}

// ResolveRepo returns the configured repo or the first one found in an item URL
func (rc RepoContext) ResolveRepo() (types.Repo, bool) {
	if !rc.Repo.IsZero() {
		return rc.Repo, true
	}
	for _, item := range rc.Items {
		if repo, ok := types.RepoFromURL(item.HTMLURL); ok {
			return repo, true
		}
	}
	return types.Repo{}, false
}

type itemSummary struct {
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	State    string   `json:"state"`
	Author   string   `json:"author,omitempty"`
	Comments int      `json:"comments"`
	URL      string   `json:"url"`
	Labels   []string `json:"labels"`
}

type itemDetails struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Comments  int       `json:"comments"`
	URL       string    `json:"url"`
	Labels    []string  `json:"labels"`
}

type commentedItem struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Comments int    `json:"comments"`
}

type datedItem struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type authorCount struct {
	Author string `json:"author"`
	Count  int    `json:"count"`
}

func summarize(item types.Item, withAuthor bool) itemSummary {
	s := itemSummary{
		Number:   item.Number,
		Title:    item.Title,
		State:    item.State,
		Comments: item.Comments,
		URL:      item.HTMLURL,
		Labels:   item.LabelNames(),
	}
	if withAuthor {
		s.Author = item.Author()
	}
	return s
}

func details(item types.Item) itemDetails {
	return itemDetails{
		Number:    item.Number,
		Title:     item.Title,
		State:     item.State,
		Body:      item.Body,
		Author:    item.Author(),
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
		Comments:  item.Comments,
		URL:       item.HTMLURL,
		Labels:    item.LabelNames(),
	}
}

// NewRepoRegistry builds the repository-chat tools over rc
func NewRepoRegistry(rc RepoContext) *Registry {
	r := NewRegistry()
	plural := rc.Kind.Plural()
	singular := rc.Kind.Singular()
	log := logger.Named("tools")

	r.Register(&Tool{
		Name:        "search_items",
		Description: fmt.Sprintf("Search through the %s by keyword in title or body", plural),
		Parameters: []Parameter{
			{Name: "keyword", Type: "string", Description: "Keyword to search for in titles and descriptions", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			keyword, err := StringArg(args, "keyword")
			if err != nil {
				return nil, err
			}
			keyword = strings.ToLower(keyword)

			results := make([]itemSummary, 0)
			for _, item := range rc.Items {
				if strings.Contains(strings.ToLower(item.Title), keyword) || strings.Contains(strings.ToLower(item.Body), keyword) {
					results = append(results, summarize(item, true))
					if len(results) == maxListResults {
						break
					}
				}
			}
			return results, nil
		},
	})

	r.Register(&Tool{
		Name:        "filter_by_state",
		Description: fmt.Sprintf("Filter %s by state (open/closed)", plural),
		Parameters: []Parameter{
			{Name: "state", Type: "string", Description: "State to filter by", Enum: []string{"open", "closed", "all"}, Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			state, err := StringArg(args, "state")
			if err != nil {
				return nil, err
			}

			results := make([]itemSummary, 0)
			for _, item := range rc.Items {
				if state == "all" || strings.EqualFold(item.State, state) {
					results = append(results, summarize(item, false))
					if len(results) == maxListResults {
						break
					}
				}
			}
			return results, nil
		},
	})

	r.Register(&Tool{
		Name:        "filter_by_label",
		Description: fmt.Sprintf("Filter %s by label (e.g., bug, enhancement, documentation)", plural),
		Parameters: []Parameter{
			{Name: "label", Type: "string", Description: "Label name to filter by (case-insensitive)", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			label, err := StringArg(args, "label")
			if err != nil {
				return nil, err
			}
			label = strings.ToLower(label)

			results := make([]itemSummary, 0)
			for _, item := range rc.Items {
				for _, name := range item.LabelNames() {
					if strings.Contains(strings.ToLower(name), label) {
						results = append(results, summarize(item, false))
						break
					}
				}
				if len(results) == maxListResults {
					break
				}
			}
			return results, nil
		},
	})

	r.Register(&Tool{
		Name:        "get_item_details",
		Description: fmt.Sprintf("Get full details of a specific %s by number", singular),
		Parameters: []Parameter{
			{Name: "number", Type: "integer", Description: fmt.Sprintf("The %s number", singular), Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			number, err := IntArg(args, "number")
			if err != nil {
				return nil, err
			}

			var snapshot *types.Item
			for i := range rc.Items {
				if rc.Items[i].Number == number {
					snapshot = &rc.Items[i]
					break
				}
			}
			if snapshot == nil {
				return nil, nil
			}

			if rc.Fetcher != nil {
				if repo, ok := rc.ResolveRepo(); ok {
					fresh, err := rc.Fetcher.GetIssue(ctx, repo, number)
					switch {
					case err != nil:
						log.With("repo", repo).Warn("⚠️ Refresh of #%d failed, using snapshot: %v", number, err)
					case fresh != nil:
						return details(*fresh), nil
					}
				}
			}
			return details(*snapshot), nil
		},
	})

	r.Register(&Tool{
		Name:        "analyze_activity",
		Description: fmt.Sprintf("Get statistics about %s activity (most commented, most recent, etc)", plural),
		Parameters: []Parameter{
			{Name: "metric", Type: "string", Description: "What metric to analyze", Enum: []string{"most_commented", "most_recent", "oldest", "by_author"}, Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			metric, err := StringArg(args, "metric")
			if err != nil {
				return nil, err
			}
			return analyzeActivity(rc.Items, metric)
		},
	})

	return r
}

// analyzeActivity sorts a copy of items; the snapshot order is never changed
func analyzeActivity(items []types.Item, metric string) (any, error) {
	sorted := make([]types.Item, len(items))
	copy(sorted, items)

	switch metric {
	case "most_commented":
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Comments > sorted[j].Comments })
		out := make([]commentedItem, 0, maxActivityItems)
		for _, item := range head(sorted, maxActivityItems) {
			out = append(out, commentedItem{Number: item.Number, Title: item.Title, Comments: item.Comments})
		}
		return out, nil

	case "most_recent", "oldest":
		newestFirst := metric == "most_recent"
		sort.SliceStable(sorted, func(i, j int) bool {
			if newestFirst {
				return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
			}
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		})
		out := make([]datedItem, 0, maxActivityItems)
		for _, item := range head(sorted, maxActivityItems) {
			out = append(out, datedItem{Number: item.Number, Title: item.Title, CreatedAt: item.CreatedAt})
		}
		return out, nil

	case "by_author":
		counts := make([]authorCount, 0)
		index := make(map[string]int)
		for _, item := range items {
			author := item.Author()
			if i, ok := index[author]; ok {
				counts[i].Count++
				continue
			}
			index[author] = len(counts)
			counts = append(counts, authorCount{Author: author, Count: 1})
		}
		sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
		if len(counts) > maxAuthors {
			counts = counts[:maxAuthors]
		}
		return counts, nil

	default:
		return nil, fmt.Errorf("unknown metric: %s", metric)
	}
}

func head(items []types.Item, n int) []types.Item {
	if len(items) > n {
		return items[:n]
	}
	return items
}
