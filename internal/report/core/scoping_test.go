package core

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"testing"
)

func discardLogger() *log.Logger {
	return log.New(nopWriter{}, "", 0)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestClassifyRichness(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sources int
		want    SourceRichness
	}{
		{0, RichnessLimited}, {2, RichnessLimited},
		{3, RichnessModerate}, {5, RichnessModerate},
		{6, RichnessRich}, {8, RichnessRich},
	}
	for _, tc := range cases {
		if got := classifyRichness(tc.sources); got != tc.want {
			t.Fatalf("classifyRichness(%d) = %s, want %s", tc.sources, got, tc.want)
		}
	}
}

func TestExtractSubTopics(t *testing.T) {
	t.Parallel()

	snippets := []string{
		"Battery storage capacity doubled as storage costs fell",
		"Grid operators added battery capacity for balancing",
		"New storage projects and battery plants under construction",
	}
	got := extractSubTopics(snippets, "energy transition")
	want := []string{"battery", "storage", "capacity"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("extractSubTopics = %v, want %v", got, want)
	}

	// Topic's own words are excluded.
	got = extractSubTopics([]string{"energy energy energy"}, "energy transition")
	if len(got) != 0 {
		t.Fatalf("topic words leaked into sub-topics: %v", got)
	}
}

func TestExploreRegistersSources(t *testing.T) {
	t.Parallel()

	search := &fakeSearch{hits: []SearchHit{
		{Title: "One", URL: "https://a.com/1", Snippet: "solar panels solar panels"},
		{Title: "Two", URL: "https://a.com/2", Snippet: "solar panels everywhere"},
		{Title: "Dup", URL: "https://a.com/1?utm_source=x", Snippet: "dup"},
	}}
	engine := NewScopingEngine(search, 8, discardLogger())
	ec := NewExecutionContext(testQuery("renewables"))

	report := engine.Explore(context.Background(), ec)
	if report.Sources != 2 {
		t.Fatalf("sources = %d, want 2 (deduped)", report.Sources)
	}
	if report.Richness != RichnessLimited {
		t.Fatalf("richness = %s", report.Richness)
	}
	if len(ec.Sources()) != 2 {
		t.Fatalf("registry size = %d", len(ec.Sources()))
	}
}

func TestExploreDegradesOnSearchFailure(t *testing.T) {
	t.Parallel()

	engine := NewScopingEngine(&fakeSearch{err: fmt.Errorf("boom")}, 8, discardLogger())
	ec := NewExecutionContext(testQuery("renewables"))

	report := engine.Explore(context.Background(), ec)
	if report.Richness != RichnessLimited || report.Sources != 0 {
		t.Fatalf("expected degraded report, got %+v", report)
	}
	if len(ec.Defects()) != 1 {
		t.Fatalf("expected one defect, got %d", len(ec.Defects()))
	}
}

func TestExplorationCap(t *testing.T) {
	t.Parallel()

	var hits []SearchHit
	for i := 0; i < 20; i++ {
		hits = append(hits, SearchHit{URL: fmt.Sprintf("https://a.com/%d", i)})
	}
	engine := NewScopingEngine(&fakeSearch{hits: hits}, 99, discardLogger())
	ec := NewExecutionContext(testQuery("x"))

	report := engine.Explore(context.Background(), ec)
	if report.Sources != 8 {
		t.Fatalf("exploration not capped at 8: %d", report.Sources)
	}
}
