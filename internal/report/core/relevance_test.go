package core

import (
	"strings"
	"testing"
)

func TestSplitChunks(t *testing.T) {
	t.Parallel()

	para := strings.Repeat("word ", 100) // ~500 chars
	text := para + "\n\n" + para + "\n\n" + para + "\n\n" + para
	chunks := SplitChunks("https://a.com/x", "Title", text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.URL != "https://a.com/x" {
			t.Fatalf("chunk lost attribution: %+v", c)
		}
		if c.Text == "" {
			t.Fatal("empty chunk")
		}
	}

	if got := SplitChunks("u", "t", "   \n\n  "); got != nil {
		t.Fatalf("whitespace input produced chunks: %v", got)
	}
}

func TestScoreRelevance(t *testing.T) {
	t.Parallel()

	terms := []string{"solar", "capacity"}

	rich := strings.Repeat("Solar capacity grew 18% in 2024, adding $4 billion of projects. ", 12)
	poor := "short text"

	richScore := ScoreRelevance(rich, terms)
	poorScore := ScoreRelevance(poor, terms)
	if richScore <= poorScore {
		t.Fatalf("rich=%v poor=%v", richScore, poorScore)
	}
	if richScore < 60 {
		t.Fatalf("rich chunk scored %v, expected keyword+data+length to clear 60", richScore)
	}
	if poorScore > 20 {
		t.Fatalf("poor chunk scored %v", poorScore)
	}
}

func TestChunkSelectorThresholdAndLimit(t *testing.T) {
	t.Parallel()

	var chunks []Chunk
	// Six relevant, data-heavy chunks and six irrelevant stubs.
	for i := 0; i < 6; i++ {
		chunks = append(chunks, Chunk{
			ID:  "good" + string(rune('0'+i)),
			URL: "https://a.com/good",
			Text: strings.Repeat(
				"Solar capacity expanded 12% in 2024 reaching 450 GW with $9 billion invested. ", 10),
		})
	}
	for i := 0; i < 6; i++ {
		chunks = append(chunks, Chunk{
			ID:   "bad" + string(rune('0'+i)),
			URL:  "https://a.com/bad",
			Text: "unrelated filler",
		})
	}

	selected := ChunkSelector{}.Select("solar capacity growth", chunks, DepthLight)
	if len(selected) == 0 || len(selected) > 4 {
		t.Fatalf("light depth selected %d chunks, want 1-4", len(selected))
	}
	for _, c := range selected {
		if strings.HasPrefix(c.ID, "bad") {
			t.Fatalf("irrelevant chunk selected: %s", c.ID)
		}
	}
}

func TestChunkSelectorFallbackWhenNothingClears(t *testing.T) {
	t.Parallel()

	chunks := []Chunk{
		{ID: "a", URL: "u", Text: "tiny"},
		{ID: "b", URL: "u", Text: "also tiny"},
	}
	selected := ChunkSelector{}.Select("anything", chunks, DepthModerate)
	if len(selected) == 0 {
		t.Fatal("selector returned nothing; synthesis needs material")
	}
}

func TestSanitizeQuery(t *testing.T) {
	t.Parallel()

	if got := sanitizeQuery(`solar "capacity" +growth: (2024)`); strings.ContainsAny(got, `"+:()`) {
		t.Fatalf("query not sanitized: %q", got)
	}
}
