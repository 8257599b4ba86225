package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/helpers"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

const summaryPromptTemplate = `Write a two to three sentence executive summary for a report titled %q.

Opening section of the report:

%s

Respond with only the summary text, no heading.`

// Assembler performs the mechanical final phase: ordering sections,
// assigning bibliography ids, rewriting inline source markers, generating
// the summary and attaching run metadata. It reads from a snapshot and
// never mutates section content, so assembling twice yields the same report
// body.
type Assembler struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewAssembler creates the assembler.
func NewAssembler(cfg *config.Config, llm LLMProvider, tel *telemetry.Telemetry) *Assembler {
	return &Assembler{
		config:    cfg,
		llm:       llm,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[ASSEMBLER] ", log.LstdFlags),
	}
}

// Assemble builds the final report from every section that reached at least
// the synthesized state. It fails only when no usable section exists; a
// report whose sections cite nothing is still delivered, with an empty
// bibliography and a defect on record.
func (a *Assembler) Assemble(ctx context.Context, ec *ExecutionContext, plan Plan, coherence CoherenceReport) (Report, error) {
	sections := assemblableSections(ec)
	if len(sections) == 0 {
		return Report{}, emptyResult("no sections reached a usable state")
	}

	bibliography, resolve := a.buildBibliography(ec, sections)
	if len(bibliography) == 0 {
		a.logger.Printf("no usable sources, assembling without a bibliography")
		ec.AddDefect(Defect{Kind: KindSourceUnavailable, Message: "no usable sources, bibliography is empty"})
	}

	query := ec.Query()
	reportSections := make([]ReportSection, 0, len(sections))
	for _, sec := range sections {
		content := helpers.ReplaceSourceMarkers(sec.Content, resolve)
		reportSections = append(reportSections, ReportSection{
			Title:       sec.Plan.Title,
			Content:     content,
			WordCount:   sec.WordCount,
			SourceCount: len(sec.SourceURLs),
			OrderIndex:  sec.Plan.OrderIndex,
		})
	}

	summary := a.summarize(ctx, ec, query.Topic, sections[0])

	for _, sec := range sections {
		if err := ec.SetSectionState(sec.Plan.ID, StateFinal); err != nil {
			a.logger.Printf("section %s: %v", sec.Plan.ID, err)
		}
	}

	failed := 0
	for _, sec := range ec.Sections() {
		if sec.State == StateFailed {
			failed++
		}
	}

	accounting := ec.Accounting()
	if query.MinSources > 0 && accounting.Succeeded < query.MinSources {
		ec.AddDefect(Defect{
			Kind:    KindSourceUnavailable,
			Message: fmt.Sprintf("run gathered %d of the %d requested sources", accounting.Succeeded, query.MinSources),
		})
	}

	report := Report{
		ID:             uuid.New().String(),
		Topic:          query.Topic,
		Title:          titleCase(query.Topic),
		Summary:        summary,
		Sections:       reportSections,
		Bibliography:   bibliography,
		CoherenceScore: coherence.Score,
		Defects:        ec.Defects(),
		Metadata: RunMetadata{
			RunID:             query.ID,
			Tier:              plan.Assessment.Tier,
			SectionsPlanned:   len(plan.Sections),
			SectionsCompleted: len(sections),
			SectionsFailed:    failed,
			Sources:           accounting,
			StartedAt:         ec.StartedAt(),
			Duration:          time.Since(ec.StartedAt()),
		},
	}
	ec.RecordStep("assembly", "assembler", "",
		fmt.Sprintf("assembled %d sections, %d references", len(reportSections), len(bibliography)))
	return report, nil
}

// buildBibliography assigns ids 1..N walking the sections in order: each
// cited URL gets its id on first use and keeps it on every later citation.
// Successfully extracted sources that were never cited are appended after
// all cited entries. The returned resolver maps marker URLs to ids.
func (a *Assembler) buildBibliography(ec *ExecutionContext, sections []Section) ([]BibliographyEntry, func(string) int) {
	ids := make(map[string]int) // canonical URL -> id
	var entries []BibliographyEntry

	for _, sec := range sections {
		for _, raw := range helpers.ScanSourceMarkers(sec.Content) {
			canonical, err := helpers.CanonicalURL(raw)
			if err != nil {
				continue
			}
			if _, ok := ids[canonical]; ok {
				continue
			}
			id := len(entries) + 1
			ids[canonical] = id
			title := ""
			if rec, ok := ec.Source(canonical); ok {
				title = rec.Title
			}
			entries = append(entries, BibliographyEntry{ID: id, URL: canonical, Title: title, Cited: true})
		}
	}

	for _, rec := range ec.Sources() {
		if rec.Status != SourceSuccess {
			continue
		}
		if _, ok := ids[rec.URL]; ok {
			continue
		}
		id := len(entries) + 1
		ids[rec.URL] = id
		entries = append(entries, BibliographyEntry{ID: id, URL: rec.URL, Title: rec.Title, Cited: false})
	}

	resolve := func(raw string) int {
		canonical, err := helpers.CanonicalURL(raw)
		if err != nil {
			return 0
		}
		return ids[canonical]
	}
	return entries, resolve
}

// summarize makes the one short generative call of the assembly phase. On
// failure it falls back to the first two sentences of the opening section.
func (a *Assembler) summarize(ctx context.Context, ec *ExecutionContext, topic string, first Section) string {
	excerpt := helpers.Truncate(helpers.StripSourceMarkers(first.Content), 2000)
	prompt := fmt.Sprintf(summaryPromptTemplate, topic, excerpt)
	model := a.config.LLM.Routing.ModelFor("summary")

	response, inTok, outTok, err := a.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  300,
	})
	if err == nil && strings.TrimSpace(response) != "" {
		cost := a.llm.CalculateCost(inTok, outTok, model)
		a.telemetry.RecordLLMCall(model, inTok, outTok, cost)
		ec.AddUsage(inTok+outTok, cost)
		return strings.TrimSpace(response)
	}
	if err != nil {
		a.logger.Printf("summary generation failed, using excerpt: %v", err)
	}
	return helpers.FirstSentences(helpers.StripSourceMarkers(first.Content), 2)
}

func assemblableSections(ec *ExecutionContext) []Section {
	var out []Section
	for _, sec := range ec.Sections() {
		if sec.State == StateFailed {
			continue
		}
		if stateRank[sec.State] >= stateRank[StateSynthesized] {
			out = append(out, sec)
		}
	}
	return out
}
