package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/helpers"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

const synthesisPromptTemplate = `You are writing one section of a research report.

Report topic: %s
Section title: %s
Section objective: %s
Target length: about %d words, %d to %d paragraphs.
%s
Source material (each block is labelled with its URL):

%s

Write the section now. Rules:
- Ground every factual claim in the source material.
- After each claim, cite the supporting source inline as [SOURCE:<url>] using the exact URL from the block label.
- Do not invent URLs. Do not add headings. Plain paragraphs only.`

// SectionBuilder constructs one section at a time: targeted search under the
// run's source policy, per-URL extraction, cross-reference enrichment from
// already finished sections, then a single synthesis call over the selected
// chunks. Builders run in parallel under the orchestrator's concurrency cap.
type SectionBuilder struct {
	config    *config.Config
	llm       LLMProvider
	search    SearchProvider
	extractor Extractor
	selector  ChunkSelector
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewSectionBuilder creates a builder sharing the run's collaborators.
func NewSectionBuilder(cfg *config.Config, llm LLMProvider, search SearchProvider, extractor Extractor, tel *telemetry.Telemetry) *SectionBuilder {
	return &SectionBuilder{
		config:    cfg,
		llm:       llm,
		search:    search,
		extractor: extractor,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[BUILDER] ", log.LstdFlags),
	}
}

// Build runs the four sub-steps for one planned section. Non-fatal problems
// become defects; the returned error is non-nil only for fatal conditions
// (policy violations, context cancellation).
func (b *SectionBuilder) Build(ctx context.Context, ec *ExecutionContext, plan SectionPlan) error {
	candidates, err := b.research(ctx, ec, plan)
	if err != nil {
		return err
	}
	if err := ec.SetSectionState(plan.ID, StateResearched); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	extracted, err := b.extract(ctx, ec, plan, candidates)
	if err != nil {
		return err
	}
	if len(extracted) == 0 {
		b.failSection(ec, plan.ID, "no sources could be extracted")
		return nil
	}
	if err := ec.SetSectionState(plan.ID, StateExtracted); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	crossRefs := b.enrich(ec, plan, extracted)

	if err := b.synthesize(ctx, ec, plan, extracted, crossRefs); err != nil {
		return err
	}
	return nil
}

// candidate is a URL scheduled for extraction, with its policy standing.
type candidate struct {
	url      string
	title    string
	snippet  string
	priority SourcePriority
}

// research assembles the candidate source list for the section. Policy
// filters run before the depth count is applied, so exclusions never eat
// into the section's source budget.
func (b *SectionBuilder) research(ctx context.Context, ec *ExecutionContext, plan SectionPlan) ([]candidate, error) {
	query := ec.Query()
	policy := query.Policy
	mode := policy.Mode
	if mode == "" {
		mode = PolicyMode(b.config.Report.SourcePolicyMode)
	}
	count := plan.Depth.SearchCount()

	var candidates []candidate
	for _, u := range policy.Required {
		candidates = append(candidates, candidate{url: u, priority: PriorityRequired})
	}
	for _, u := range policy.Suggested {
		candidates = append(candidates, candidate{url: u, priority: PrioritySuggested})
	}

	if mode != PolicyExclusive {
		needed := count - len(candidates)
		if mode == PolicyComplement {
			needed = count
		}
		if needed > 0 {
			searchQuery := query.Topic + " " + plan.Title
			if len(plan.KeyQuestions) > 0 {
				searchQuery += " " + strings.Join(plan.KeyQuestions, " ")
			}
			hits, err := b.search.Discover(ctx, searchQuery, needed, policy.DomainsWhitelist)
			if err != nil {
				b.logger.Printf("section %s: search failed: %v", plan.ID, err)
				ec.AddDefect(Defect{
					Kind: KindSourceUnavailable, SectionID: plan.ID,
					Message: "section search failed: " + err.Error(),
				})
			}
			for _, h := range hits {
				candidates = append(candidates, candidate{
					url: h.URL, title: h.Title, snippet: h.Snippet,
					priority: PriorityAutoDiscovered,
				})
			}
		}
	}

	filtered := capCandidates(filterCandidates(candidates, policy), count)
	if containsRequiredViolation(policy.Required, filtered) {
		return nil, policyViolation("required sources conflict with exclusions or whitelist for section %s", plan.ID)
	}

	records := make([]SourceRecord, 0, len(filtered))
	for _, c := range filtered {
		records = append(records, SourceRecord{
			URL: c.url, Title: c.title, Snippet: c.snippet,
			Priority: c.priority, UsedIn: []string{plan.ID},
		})
	}
	ec.RegisterSources(records)
	ec.RecordStep("construction", "builder", plan.ID,
		fmt.Sprintf("research selected %d of %d candidate sources", len(filtered), len(candidates)))
	return filtered, nil
}

// filterCandidates drops excluded URLs, enforces the domain whitelist and
// removes duplicates by canonical URL, preserving order. Required URLs are
// exempt from the whitelist but not from explicit exclusions.
func filterCandidates(candidates []candidate, policy SourcePolicy) []candidate {
	excluded := make(map[string]struct{}, len(policy.Exclusions))
	for _, e := range policy.Exclusions {
		if canon, err := helpers.CanonicalURL(e); err == nil {
			excluded[canon] = struct{}{}
		}
		if d := helpers.Domain(e); d != "" {
			excluded[d] = struct{}{}
		}
	}
	whitelist := make(map[string]struct{}, len(policy.DomainsWhitelist))
	for _, d := range policy.DomainsWhitelist {
		whitelist[strings.ToLower(d)] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []candidate
	for _, c := range candidates {
		canon, err := helpers.CanonicalURL(c.url)
		if err != nil {
			continue
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		domain := helpers.Domain(canon)
		if _, drop := excluded[canon]; drop {
			continue
		}
		if _, drop := excluded[domain]; drop {
			continue
		}
		if len(whitelist) > 0 && c.priority != PriorityRequired {
			if _, ok := whitelist[domain]; !ok {
				continue
			}
		}
		seen[canon] = struct{}{}
		out = append(out, c)
	}
	return out
}

// capCandidates trims the list down to the depth count. Required URLs are
// never trimmed; only the non-required remainder competes for the budget
// left after them.
func capCandidates(candidates []candidate, count int) []candidate {
	if len(candidates) <= count {
		return candidates
	}
	budget := count
	for _, c := range candidates {
		if c.priority == PriorityRequired {
			budget--
		}
	}
	out := make([]candidate, 0, count)
	for _, c := range candidates {
		if c.priority == PriorityRequired {
			out = append(out, c)
			continue
		}
		if budget > 0 {
			out = append(out, c)
			budget--
		}
	}
	return out
}

func containsRequiredViolation(required []string, kept []candidate) bool {
	for _, r := range required {
		canon, err := helpers.CanonicalURL(r)
		if err != nil {
			return true
		}
		found := false
		for _, c := range kept {
			if k, err := helpers.CanonicalURL(c.url); err == nil && k == canon {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// extract fetches every candidate, retrying each URL once. A required URL
// that still fails is fatal for the whole run; everything else degrades to
// a defect.
func (b *SectionBuilder) extract(ctx context.Context, ec *ExecutionContext, plan SectionPlan, candidates []candidate) ([]ExtractedContent, error) {
	var extracted []ExtractedContent
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return extracted, err
		}
		content, err := b.extractOnce(ctx, c.url)
		if err != nil {
			content, err = b.extractOnce(ctx, c.url)
		}
		if err != nil {
			b.telemetry.RecordSource(false)
			ec.SetSourceResult(c.url, SourceFailed, "", "")
			ec.AddDefect(Defect{
				Kind: KindSourceUnavailable, SectionID: plan.ID, URL: c.url,
				Message: "extraction failed: " + err.Error(),
			})
			if c.priority == PriorityRequired {
				return nil, &RunError{Kind: KindPolicyViolation, SectionID: plan.ID, URL: c.url,
					Err: fmt.Errorf("required source failed extraction: %w", err)}
			}
			continue
		}
		b.telemetry.RecordSource(true)
		ec.SetSourceResult(c.url, SourceSuccess, content.Title, content.Text)
		extracted = append(extracted, content)
	}
	ec.RecordStep("construction", "builder", plan.ID,
		fmt.Sprintf("extracted %d of %d sources", len(extracted), len(candidates)))
	return extracted, nil
}

func (b *SectionBuilder) extractOnce(ctx context.Context, url string) (ExtractedContent, error) {
	content, err := b.extractor.Extract(ctx, url)
	if err != nil {
		return ExtractedContent{}, err
	}
	if strings.TrimSpace(content.Text) == "" {
		return ExtractedContent{}, fmt.Errorf("empty content")
	}
	return content, nil
}

// enrich checks the section's extracted sources against every already
// synthesized sibling and returns a cross-reference for each sibling that
// cited one of the same sources. Reads are snapshots; a sibling still in
// flight is simply not seen.
func (b *SectionBuilder) enrich(ec *ExecutionContext, plan SectionPlan, extracted []ExtractedContent) []CrossReference {
	prior := ec.AllPriorSections(plan.ID)
	if len(prior) == 0 {
		return nil
	}
	mine := make(map[string]struct{}, len(extracted))
	for _, c := range extracted {
		if canon, err := helpers.CanonicalURL(c.URL); err == nil {
			mine[canon] = struct{}{}
		}
	}
	var refs []CrossReference
	for _, sibling := range prior {
		for _, u := range sibling.SourceURLs {
			canon, err := helpers.CanonicalURL(u)
			if err != nil {
				continue
			}
			if _, shared := mine[canon]; shared {
				refs = append(refs, CrossReference{
					SectionID: plan.ID,
					RelatedID: sibling.Plan.ID,
					SourceURL: canon,
					Note:      fmt.Sprintf("%q already draws on %s", sibling.Plan.Title, canon),
				})
				break
			}
		}
	}
	if len(refs) > 0 {
		ec.RecordStep("construction", "builder", plan.ID,
			fmt.Sprintf("found %d cross-references", len(refs)))
	}
	return refs
}

// synthesize makes the section's one generative call over the selected
// chunks, retrying once. A second failure marks the section failed without
// stopping the run.
func (b *SectionBuilder) synthesize(ctx context.Context, ec *ExecutionContext, plan SectionPlan, extracted []ExtractedContent, crossRefs []CrossReference) error {
	var chunks []Chunk
	for _, content := range extracted {
		chunks = append(chunks, SplitChunks(content.URL, content.Title, content.Text)...)
	}
	query := ec.Query()
	selected := b.selector.Select(query.Topic+" "+plan.Title, chunks, plan.Depth)

	var material strings.Builder
	for _, c := range selected {
		fmt.Fprintf(&material, "=== %s ===\n%s\n\n", c.URL, c.Text)
	}
	minPar, maxPar := plan.Depth.ParagraphRange()

	crossNote := ""
	if len(crossRefs) > 0 {
		var notes []string
		for _, r := range crossRefs {
			notes = append(notes, r.Note)
		}
		crossNote = "Earlier sections already cover: " + strings.Join(notes, "; ") + ". Avoid repeating them.\n"
	}

	prompt := fmt.Sprintf(synthesisPromptTemplate,
		query.Topic, plan.Title, plan.Objective, plan.TargetWords,
		minPar, maxPar, crossNote, material.String())

	model := b.config.LLM.Routing.ModelFor("synthesis")
	content, err := b.generateOnce(ctx, ec, prompt, model)
	if err != nil {
		b.logger.Printf("section %s: synthesis failed, retrying: %v", plan.ID, err)
		content, err = b.generateOnce(ctx, ec, prompt, model)
	}
	if err != nil {
		b.telemetry.RecordSection(false)
		ec.AddDefect(Defect{
			Kind: KindGenerationFailure, SectionID: plan.ID,
			Message: "synthesis failed after retry: " + err.Error(),
		})
		if ferr := ec.SetSectionState(plan.ID, StateFailed); ferr != nil {
			return ferr
		}
		ec.RecordStep("construction", "builder", plan.ID, "synthesis failed, section marked failed")
		return nil
	}

	cited := dedupe(helpers.ScanSourceMarkers(content))
	for _, u := range cited {
		ec.MarkSourceUsed(u, plan.ID)
	}
	summary := helpers.FirstSentences(helpers.StripSourceMarkers(content), 2)
	if err := ec.SetSectionContent(plan.ID, content, summary, cited, StateSynthesized); err != nil {
		return err
	}
	b.telemetry.RecordSection(true)
	ec.RecordStep("construction", "builder", plan.ID,
		fmt.Sprintf("synthesized %d words from %d chunks", len(strings.Fields(content)), len(selected)))
	return nil
}

func (b *SectionBuilder) generateOnce(ctx context.Context, ec *ExecutionContext, prompt, model string) (string, error) {
	start := time.Now()
	response, inTok, outTok, err := b.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.4,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", &RunError{Kind: KindGenerationTimeout, Err: err}
		}
		return "", &RunError{Kind: KindGenerationFailure, Err: err}
	}
	if strings.TrimSpace(response) == "" {
		return "", &RunError{Kind: KindGenerationFailure, Err: fmt.Errorf("empty response")}
	}
	cost := b.llm.CalculateCost(inTok, outTok, model)
	b.telemetry.RecordLLMCall(model, inTok, outTok, cost)
	ec.AddUsage(inTok+outTok, cost)
	b.logger.Printf("synthesis call took %v (%d in / %d out tokens)", time.Since(start), inTok, outTok)
	return response, nil
}

func (b *SectionBuilder) failSection(ec *ExecutionContext, sectionID, reason string) {
	b.telemetry.RecordSection(false)
	ec.AddDefect(Defect{Kind: KindSourceUnavailable, SectionID: sectionID, Message: reason})
	if err := ec.SetSectionState(sectionID, StateFailed); err != nil {
		b.logger.Printf("section %s: %v", sectionID, err)
	}
	ec.RecordStep("construction", "builder", sectionID, "section failed: "+reason)
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
