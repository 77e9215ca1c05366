package graph

import (
	"context"
	"fmt"
	"strings"
)

// Fetcher is the slice of the graph the router needs.
type Fetcher interface {
	Me(ctx context.Context, userToken string) (Profile, error)
	RecentFiles(ctx context.Context, userToken string, top int) ([]DriveItem, error)
	SearchFiles(ctx context.Context, userToken, query string, top int) ([]DriveItem, error)
}

// ContextSummary fetches the user's profile, recent files and, when the
// message reads like a search, matching files, and renders everything as a
// plain-text block for the completion prompt. Profile failure aborts;
// per-section failures after that degrade to a note so a flaky graph does
// not lose the whole answer.
func ContextSummary(ctx context.Context, f Fetcher, userToken, userMessage string) (string, error) {
	if f == nil {
		return "", fmt.Errorf("graph fetcher is required")
	}

	var sections []string

	profile, err := f.Me(ctx, userToken)
	if err != nil {
		return "", fmt.Errorf("fetch profile: %w", err)
	}
	who := strings.TrimSpace(profile.DisplayName)
	if mail := strings.TrimSpace(profile.Mail); mail != "" {
		who = fmt.Sprintf("%s (%s)", who, mail)
	}
	sections = append(sections, "User: "+who)

	recent, err := f.RecentFiles(ctx, userToken, 10)
	switch {
	case err != nil:
		sections = append(sections, "Recent files: unavailable")
	case len(recent) == 0:
		sections = append(sections, "No recent files found.")
	default:
		sections = append(sections, "Recent files:\n"+renderItems(recent, true))
	}

	if query := SearchQueryFrom(userMessage); query != "" {
		results, err := f.SearchFiles(ctx, userToken, query, 5)
		switch {
		case err != nil:
			sections = append(sections, fmt.Sprintf("Search results for %q: unavailable", query))
		case len(results) > 0:
			sections = append(sections, fmt.Sprintf("Search results for %q:\n%s", query, renderItems(results, false)))
		}
	}

	return strings.Join(sections, "\n\n"), nil
}

// SearchQueryFrom pulls a file-search query out of a free-text message.
// Empty when the message carries no search verb.
func SearchQueryFrom(message string) string {
	// The verbs are ASCII, so lowering byte-wise keeps every index aligned
	// with the original message. strings.ToLower can change byte offsets
	// (some runes grow or shrink when lowered), which would cut the query
	// mid-rune or slice out of range.
	lower := asciiLower(message)
	for _, verb := range []string{"search for", "search", "look for", "find"} {
		idx := strings.Index(lower, verb)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(message[idx+len(verb):])
		rest = strings.Trim(rest, `"'.?!`)
		if rest != "" {
			return rest
		}
	}
	return ""
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func renderItems(items []DriveItem, withModified bool) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			name = "Unknown"
		}
		if withModified && strings.TrimSpace(it.LastModified) != "" {
			lines = append(lines, fmt.Sprintf("- %s (modified: %s)", name, it.LastModified))
			continue
		}
		lines = append(lines, "- "+name)
	}
	return strings.Join(lines, "\n")
}
