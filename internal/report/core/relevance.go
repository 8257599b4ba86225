package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve"
)

// Chunk is one candidate slice of extracted source content considered for
// synthesis input.
type Chunk struct {
	ID    string  `json:"id"`
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

const chunkTargetChars = 1200

// SplitChunks slices extracted text into paragraph-aligned chunks of roughly
// chunkTargetChars characters, attributed to their source URL.
func SplitChunks(url, title, text string) []Chunk {
	paragraphs := strings.Split(text, "\n\n")
	var chunks []Chunk
	var buf strings.Builder
	flush := func() {
		body := strings.TrimSpace(buf.String())
		buf.Reset()
		if body == "" {
			return
		}
		chunks = append(chunks, Chunk{
			ID:    fmt.Sprintf("%s#%d", url, len(chunks)),
			URL:   url,
			Title: title,
			Text:  body,
		})
	}
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(p) > chunkTargetChars {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
	}
	flush()
	return chunks
}

var (
	numberPattern = regexp.MustCompile(`\d`)
	datePattern   = regexp.MustCompile(`\b(19|20)\d{2}\b|\b\d{1,2}/\d{1,2}\b`)
	figurePattern = regexp.MustCompile(`\d+(\.\d+)?\s*(%|percent|billion|million|thousand|\$|€|£)`)
)

// ScoreRelevance rates a chunk against query terms on a 0-100 scale:
// keyword overlap up to 40, quantitative signal up to 30, length quality up
// to 20 (500-5000 chars is ideal), and numbers or dates up to 10.
func ScoreRelevance(text string, queryTerms []string) float64 {
	lower := strings.ToLower(text)
	var score float64

	if len(queryTerms) > 0 {
		matched := 0
		for _, term := range queryTerms {
			if term == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(term)) {
				matched++
			}
		}
		score += 40 * float64(matched) / float64(len(queryTerms))
	}

	figures := len(figurePattern.FindAllString(lower, -1))
	if figures > 6 {
		figures = 6
	}
	score += float64(figures) * 5

	n := len(text)
	switch {
	case n >= 500 && n <= 5000:
		score += 20
	case n >= 200:
		score += 10
	case n >= 80:
		score += 5
	}

	if numberPattern.MatchString(text) {
		score += 5
	}
	if datePattern.MatchString(text) {
		score += 5
	}
	return score
}

// ChunkSelector picks the synthesis input for a section: an in-memory BM25
// ranking over the candidate chunks, gated by the deterministic relevance
// heuristic, bounded by the section depth's threshold and cap.
type ChunkSelector struct{}

// Select returns the chosen chunks in ranked order. When the BM25 index
// cannot be built or matches nothing, the heuristic ordering alone decides.
func (ChunkSelector) Select(query string, chunks []Chunk, depth Depth) []Chunk {
	threshold, limit := depth.ChunkSelection()
	if len(chunks) == 0 {
		return nil
	}

	terms := queryTerms(query)
	scored := make([]Chunk, len(chunks))
	byID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		c.Score = ScoreRelevance(c.Text, terms)
		scored[i] = c
		byID[c.ID] = i
	}

	ranked := bm25Rank(query, scored, limit*3)
	if ranked == nil {
		ranked = heuristicRank(scored)
	}

	var out []Chunk
	for _, id := range ranked {
		c := scored[byID[id]]
		if c.Score < threshold {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			return out
		}
	}
	if len(out) > 0 {
		return out
	}

	// Nothing cleared the threshold; take the best available so synthesis
	// always has material.
	fallback := heuristicRank(scored)
	for _, id := range fallback {
		out = append(out, scored[byID[id]])
		if len(out) == limit {
			break
		}
	}
	return out
}

// bm25Rank indexes the chunks into a throwaway in-memory bleve index and
// returns chunk ids in BM25 order, or nil when indexing or search fails.
func bm25Rank(query string, chunks []Chunk, k int) []string {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil
	}
	defer index.Close()

	for _, c := range chunks {
		doc := map[string]string{"title": c.Title, "text": c.Text}
		if err := index.Index(c.ID, doc); err != nil {
			return nil
		}
	}

	q := bleve.NewQueryStringQuery(sanitizeQuery(query))
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	res, err := index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return nil
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids
}

func heuristicRank(chunks []Chunk) []string {
	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })
	ids := make([]string, len(ordered))
	for i, c := range ordered {
		ids[i] = c.ID
	}
	return ids
}

var querySanitizer = regexp.MustCompile(`[^\p{L}\p{N} ]+`)

func sanitizeQuery(q string) string {
	return strings.TrimSpace(querySanitizer.ReplaceAllString(q, " "))
}

func queryTerms(q string) []string {
	var terms []string
	for _, w := range strings.Fields(sanitizeQuery(strings.ToLower(q))) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}
