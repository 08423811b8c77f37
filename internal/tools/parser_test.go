package tools

import "testing"

func TestParseResultBlocks(t *testing.T) {
	text := "Title: SF Weather\nURL: https://example.com/sf\nContent: Foggy, 18C.\n\n" +
		"Title: Bay Area Forecast\nURL: https://example.com/bay\nContent: Sunny later."
	results := ParseResultBlocks(text, "weather sf")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].Title != "SF Weather" || results[0].URL != "https://example.com/sf" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[0].Content != "Foggy, 18C." {
		t.Fatalf("content not extracted: %q", results[0].Content)
	}
	for _, r := range results {
		if r.Query != "weather sf" {
			t.Fatalf("query not attached: %+v", r)
		}
	}
}

func TestParseResultBlocksSkipsIncomplete(t *testing.T) {
	text := "Title: No URL here\nContent: orphan\n\n" +
		"Title: Good\nURL: https://example.com\nContent: ok"
	results := ParseResultBlocks(text, "q")
	if len(results) != 1 || results[0].Title != "Good" {
		t.Fatalf("expected only the complete block: %+v", results)
	}
}

func TestParseResultBlocksURLFallback(t *testing.T) {
	// No parseable blocks, but URLs present: scrape them.
	text := "some preamble URL: https://example.com/a junk URL: https://example.com/b"
	results := ParseResultBlocks(text, "q")
	if len(results) != 2 {
		t.Fatalf("fallback expected 2 results, got %+v", results)
	}
	if results[0].URL != "https://example.com/a" || results[1].URL != "https://example.com/b" {
		t.Fatalf("fallback URLs wrong: %+v", results)
	}
}

func TestParseResultBlocksEmpty(t *testing.T) {
	if results := ParseResultBlocks("nothing useful here", "q"); len(results) != 0 {
		t.Fatalf("expected no results, got %+v", results)
	}
}

func TestParsePlanLines(t *testing.T) {
	queries := ParsePlanLines("  first query  \n\nsecond query\nthird\nfourth\n")
	if len(queries) != MaxPlannedQueries {
		t.Fatalf("plan must cap at %d, got %d", MaxPlannedQueries, len(queries))
	}
	if queries[0] != "first query" || queries[2] != "third" {
		t.Fatalf("unexpected queries: %+v", queries)
	}
}

func TestParsePlanLinesEmpty(t *testing.T) {
	if queries := ParsePlanLines("\n   \n"); len(queries) != 0 {
		t.Fatalf("expected empty plan, got %+v", queries)
	}
}
