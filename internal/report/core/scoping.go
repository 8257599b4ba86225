package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

// ScopingEngine runs the bounded exploration phase: one discovery search,
// deterministic sub-topic extraction from the snippets, and a richness
// classification. It never fails a run; when discovery errors out the plan
// simply degrades to a limited scouting report.
type ScopingEngine struct {
	search     SearchProvider
	maxResults int
	logger     *log.Logger
}

const explorationCap = 8

// NewScopingEngine creates the engine. maxResults is capped at 8.
func NewScopingEngine(search SearchProvider, maxResults int, logger *log.Logger) *ScopingEngine {
	if maxResults <= 0 || maxResults > explorationCap {
		maxResults = explorationCap
	}
	return &ScopingEngine{search: search, maxResults: maxResults, logger: logger}
}

// Explore performs the discovery pass for a query, registering what it finds
// in the execution context.
func (s *ScopingEngine) Explore(ctx context.Context, ec *ExecutionContext) ScoutingReport {
	query := ec.Query()
	ec.RecordStep("exploration", "scoping", "", "discovery search: "+query.Topic)

	hits, err := s.search.Discover(ctx, query.Topic, s.maxResults, query.Policy.DomainsWhitelist)
	if err != nil {
		s.logger.Printf("discovery search failed, degrading: %v", err)
		ec.AddDefect(Defect{Kind: KindSourceUnavailable, Message: "exploration search failed: " + err.Error()})
		ec.RecordStep("exploration", "scoping", "", "search failed, proceeding with limited scouting")
		return ScoutingReport{Richness: RichnessLimited}
	}

	records := make([]SourceRecord, 0, len(hits))
	snippets := make([]string, 0, len(hits))
	for _, h := range hits {
		records = append(records, SourceRecord{
			URL:      h.URL,
			Title:    h.Title,
			Snippet:  h.Snippet,
			Status:   SourceDiscoveredNotUsed,
			Priority: PriorityAutoDiscovered,
		})
		snippets = append(snippets, h.Title+" "+h.Snippet)
	}
	added := ec.RegisterSources(records)

	report := ScoutingReport{
		SubTopics: extractSubTopics(snippets, query.Topic),
		Richness:  classifyRichness(len(added)),
		Sources:   len(added),
	}
	s.logger.Printf("exploration found %d sources, richness=%s, sub-topics=%v",
		report.Sources, report.Richness, report.SubTopics)
	ec.RecordStep("exploration", "scoping", "",
		fmt.Sprintf("registered %d sources, richness %s", report.Sources, report.Richness))
	return report
}

func classifyRichness(sources int) SourceRichness {
	switch {
	case sources >= 6:
		return RichnessRich
	case sources >= 3:
		return RichnessModerate
	default:
		return RichnessLimited
	}
}

var subTopicStopwords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "been": {}, "before": {}, "being": {},
	"between": {}, "both": {}, "could": {}, "does": {}, "during": {}, "each": {},
	"from": {}, "have": {}, "having": {}, "here": {}, "into": {}, "itself": {},
	"just": {}, "like": {}, "made": {}, "makes": {}, "many": {}, "more": {},
	"most": {}, "much": {}, "news": {}, "only": {}, "other": {}, "over": {},
	"says": {}, "said": {}, "same": {}, "should": {}, "since": {}, "some": {},
	"such": {}, "than": {}, "that": {}, "their": {}, "them": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "this": {}, "those": {}, "through": {},
	"under": {}, "very": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "will": {}, "with": {}, "would": {}, "your": {},
	"year": {}, "years": {}, "today": {}, "latest": {},
}

// extractSubTopics mines candidate sub-topics from result snippets with a
// deterministic frequency count: lowercase words of at least 4 characters,
// minus stopwords and the topic's own words, that appear at least twice.
// Top 5 by count, ties broken alphabetically.
func extractSubTopics(snippets []string, topic string) []string {
	topicWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(topic)) {
		topicWords[trimWord(w)] = struct{}{}
	}

	counts := make(map[string]int)
	for _, snippet := range snippets {
		for _, raw := range strings.Fields(strings.ToLower(snippet)) {
			w := trimWord(raw)
			if len(w) < 4 {
				continue
			}
			if _, stop := subTopicStopwords[w]; stop {
				continue
			}
			if _, own := topicWords[w]; own {
				continue
			}
			counts[w]++
		}
	}

	candidates := make([]string, 0, len(counts))
	for w, n := range counts {
		if n >= 2 {
			candidates = append(candidates, w)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if counts[candidates[i]] != counts[candidates[j]] {
			return counts[candidates[i]] > counts[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	return candidates
}

func trimWord(w string) string {
	return strings.Trim(w, ".,:;!?'\"()[]{}<>«»")
}
