package tools

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/praxislabs/scout/internal/model"
)

var (
	titleRe   = regexp.MustCompile(`(?i)Title:\s*(.+)`)
	urlRe     = regexp.MustCompile(`(?i)URL:\s*(.+)`)
	contentRe = regexp.MustCompile(`(?is)Content:\s*(.+?)(?:\n\nTitle:|$)`)
	bareURLRe = regexp.MustCompile(`(?i)URL:\s*(https?://\S+)`)
)

// ParseResultBlocks extracts search results from the text form some search
// providers return: blank-line-separated blocks of
//
//	Title: ...
//	URL: ...
//	Content: ...
//
// Blocks missing a title or URL are skipped. If no block parses, it falls
// back to pairing every URL in the text with whatever titles it can find, so
// a provider that mangles block boundaries still yields citations.
func ParseResultBlocks(text, query string) []model.SearchResult {
	var results []model.SearchResult

	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		title := firstMatch(titleRe, block)
		url := firstMatch(urlRe, block)
		if title == "" || url == "" {
			continue
		}
		results = append(results, model.SearchResult{
			Title:   title,
			URL:     url,
			Content: firstMatch(contentRe, block),
			Query:   query,
		})
	}
	if len(results) > 0 {
		return results
	}

	// Fallback: scrape URLs regardless of structure.
	urls := bareURLRe.FindAllStringSubmatch(text, -1)
	titles := titleRe.FindAllStringSubmatch(text, -1)
	for i, m := range urls {
		title := "Result " + strconv.Itoa(i+1)
		if i < len(titles) {
			title = strings.TrimSpace(titles[i][1])
		}
		results = append(results, model.SearchResult{
			Title: title,
			URL:   strings.TrimSpace(m[1]),
			Query: query,
		})
	}
	return results
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ParsePlanLines turns a planning response into at most MaxPlannedQueries
// trimmed, non-empty queries, one per line.
func ParsePlanLines(text string) []string {
	var queries []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		queries = append(queries, line)
		if len(queries) == MaxPlannedQueries {
			break
		}
	}
	return queries
}
