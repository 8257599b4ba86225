package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/helpers"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

const coherencePromptTemplate = `You are reviewing how well the sections of a report flow together.

Report topic: %s

Sections (in order):
%s
Narrative intent between adjacent sections:
%s
Judge the flow between these sections: gaps, abrupt jumps, redundancy, contradictions.

Respond with only a JSON object:
{
  "score": <0-100, overall coherence>,
  "improvements": [
    {
      "priority": "high|medium|low",
      "from": <index of the earlier section>,
      "to": <index of the later section>,
      "transition": "<one sentence to append to the earlier section so it hands off to the later one>",
      "rationale": "<why>"
    }
  ]
}`

const maxAppliedImprovements = 3
const coherenceGroupSize = 8
const directStrategyLimit = 10

// Reconciler checks inter-section coherence after construction and applies
// a bounded number of high-priority fixes as transition sentences. The
// strategy is a pure function of section count: up to 10 sections get one
// direct analysis, more are analyzed in groups of 8 plus boundary pairs.
type Reconciler struct {
	config    *config.Config
	llm       LLMProvider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewReconciler creates the reconciler.
func NewReconciler(cfg *config.Config, llm LLMProvider, tel *telemetry.Telemetry) *Reconciler {
	return &Reconciler{
		config:    cfg,
		llm:       llm,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[COHERENCE] ", log.LstdFlags),
	}
}

// Reconcile analyzes the synthesized sections, applies at most three
// high-priority improvements, and advances every surviving section to the
// reconciled state. Analysis failures degrade to a zero-improvement pass;
// they never fail the run.
func (r *Reconciler) Reconcile(ctx context.Context, ec *ExecutionContext, edges []NarrativeEdge) CoherenceReport {
	sections := synthesizedSections(ec)
	if len(sections) < 2 {
		for _, sec := range sections {
			if err := ec.SetSectionState(sec.Plan.ID, StateReconciled); err != nil {
				r.logger.Printf("section %s: %v", sec.Plan.ID, err)
			}
		}
		ec.RecordStep("coherence", "reconciler", "", "fewer than two sections, nothing to reconcile")
		return CoherenceReport{Score: 100, Strategy: "direct"}
	}

	var report CoherenceReport
	if len(sections) <= directStrategyLimit {
		report = r.direct(ctx, ec, sections, edges)
	} else {
		report = r.distributed(ctx, ec, sections, edges)
	}

	report.Applied = r.apply(ec, sections, report.Improvements)
	for _, sec := range sections {
		if err := ec.SetSectionState(sec.Plan.ID, StateReconciled); err != nil {
			r.logger.Printf("section %s: %v", sec.Plan.ID, err)
		}
	}
	ec.RecordStep("coherence", "reconciler", "",
		fmt.Sprintf("strategy=%s score=%.0f improvements=%d applied=%d",
			report.Strategy, report.Score, len(report.Improvements), report.Applied))
	return report
}

func (r *Reconciler) direct(ctx context.Context, ec *ExecutionContext, sections []Section, edges []NarrativeEdge) CoherenceReport {
	score, improvements, err := r.analyze(ctx, ec, sections, edges)
	if err != nil {
		r.logger.Printf("direct analysis failed, degrading: %v", err)
		ec.AddDefect(Defect{Kind: KindGenerationFailure, Message: "coherence analysis failed: " + err.Error()})
		return CoherenceReport{Strategy: "direct"}
	}
	return CoherenceReport{Score: score, Strategy: "direct", Improvements: improvements}
}

// distributed splits the sections into groups of coherenceGroupSize (the
// last group may be smaller), analyzes each group, then analyzes only the
// boundary pair between adjacent groups. The overall score is the mean of
// the group scores.
func (r *Reconciler) distributed(ctx context.Context, ec *ExecutionContext, sections []Section, edges []NarrativeEdge) CoherenceReport {
	var groups [][]Section
	for start := 0; start < len(sections); start += coherenceGroupSize {
		end := start + coherenceGroupSize
		if end > len(sections) {
			end = len(sections)
		}
		groups = append(groups, sections[start:end])
	}

	var (
		improvements []CoherenceImprovement
		scoreSum     float64
		scored       int
	)
	for i, group := range groups {
		score, groupImps, err := r.analyze(ctx, ec, group, edges)
		if err != nil {
			r.logger.Printf("group %d analysis failed: %v", i, err)
			ec.AddDefect(Defect{Kind: KindGenerationFailure,
				Message: fmt.Sprintf("coherence group %d analysis failed: %v", i, err)})
			continue
		}
		scoreSum += score
		scored++
		improvements = append(improvements, groupImps...)
	}

	for i := 0; i < len(groups)-1; i++ {
		pair := []Section{groups[i][len(groups[i])-1], groups[i+1][0]}
		_, pairImps, err := r.analyze(ctx, ec, pair, edges)
		if err != nil {
			r.logger.Printf("boundary pair %d analysis failed: %v", i, err)
			continue
		}
		improvements = append(improvements, pairImps...)
	}

	var mean float64
	if scored > 0 {
		mean = scoreSum / float64(scored)
	}
	return CoherenceReport{Score: mean, Strategy: "distributed", Improvements: improvements}
}

// analyze makes one generative call over the given sections, retrying once.
func (r *Reconciler) analyze(ctx context.Context, ec *ExecutionContext, sections []Section, edges []NarrativeEdge) (float64, []CoherenceImprovement, error) {
	var listing strings.Builder
	for i, sec := range sections {
		summary := sec.Summary
		if summary == "" {
			summary = helpers.FirstSentences(helpers.StripSourceMarkers(sec.Content), 2)
		}
		fmt.Fprintf(&listing, "%d. %s — %s\n", i, sec.Plan.Title, summary)
	}

	prompt := fmt.Sprintf(coherencePromptTemplate, ec.Query().Topic, listing.String(), edgeLines(sections, edges))
	model := r.config.LLM.Routing.ModelFor("coherence")

	response, err := r.generate(ctx, ec, prompt, model)
	if err != nil {
		response, err = r.generate(ctx, ec, prompt, model)
	}
	if err != nil {
		return 0, nil, err
	}

	raw, err := helpers.ExtractJSON(response)
	if err != nil {
		return 0, nil, fmt.Errorf("coherence response unparseable: %w", err)
	}
	var parsed struct {
		Score        float64 `json:"score"`
		Improvements []struct {
			Priority   string `json:"priority"`
			From       int    `json:"from"`
			To         int    `json:"to"`
			Transition string `json:"transition"`
			Rationale  string `json:"rationale"`
		} `json:"improvements"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, nil, fmt.Errorf("coherence JSON invalid: %w", err)
	}

	var improvements []CoherenceImprovement
	for _, imp := range parsed.Improvements {
		if imp.From < 0 || imp.From >= len(sections) || imp.To < 0 || imp.To >= len(sections) {
			continue
		}
		if strings.TrimSpace(imp.Transition) == "" {
			continue
		}
		improvements = append(improvements, CoherenceImprovement{
			Priority:    normalizePriority(imp.Priority),
			FromSection: sections[imp.From].Plan.ID,
			ToSection:   sections[imp.To].Plan.ID,
			Transition:  strings.TrimSpace(imp.Transition),
			Rationale:   imp.Rationale,
		})
	}
	return clampScore100(parsed.Score), improvements, nil
}

// edgeLines renders the planned narrative relation for each adjacent pair
// of the analyzed sections. Pairs the plan never connected fall back to a
// plain leads-into expectation.
func edgeLines(sections []Section, edges []NarrativeEdge) string {
	relations := make(map[string]string, len(edges))
	for _, e := range edges {
		relations[e.From+"->"+e.To] = e.Relation
	}
	var b strings.Builder
	for i := 0; i+1 < len(sections); i++ {
		from, to := sections[i].Plan, sections[i+1].Plan
		relation, ok := relations[from.ID+"->"+to.ID]
		if !ok || relation == "" {
			relation = "leads_into"
		}
		fmt.Fprintf(&b, "%q %s %q\n", from.Title, strings.ReplaceAll(relation, "_", " "), to.Title)
	}
	if b.Len() == 0 {
		b.WriteString("adjacent sections are expected to lead into each other\n")
	}
	return b.String()
}

// apply appends the transition sentence of up to maxAppliedImprovements
// high-priority improvements to their earlier section. Everything else is
// trace-only.
func (r *Reconciler) apply(ec *ExecutionContext, sections []Section, improvements []CoherenceImprovement) int {
	valid := make(map[string]struct{}, len(sections))
	for _, sec := range sections {
		valid[sec.Plan.ID] = struct{}{}
	}
	applied := 0
	for _, imp := range improvements {
		if applied == maxAppliedImprovements {
			break
		}
		if imp.Priority != PriorityHigh {
			continue
		}
		if _, ok := valid[imp.FromSection]; !ok {
			continue
		}
		if err := ec.AppendSectionContent(imp.FromSection, imp.Transition); err != nil {
			r.logger.Printf("applying improvement: %v", err)
			continue
		}
		ec.RecordStep("coherence", "reconciler", imp.FromSection, "applied transition: "+imp.Transition)
		applied++
	}
	return applied
}

func (r *Reconciler) generate(ctx context.Context, ec *ExecutionContext, prompt, model string) (string, error) {
	response, inTok, outTok, err := r.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  1200,
	})
	if err != nil {
		return "", err
	}
	cost := r.llm.CalculateCost(inTok, outTok, model)
	r.telemetry.RecordLLMCall(model, inTok, outTok, cost)
	ec.AddUsage(inTok+outTok, cost)
	return response, nil
}

func synthesizedSections(ec *ExecutionContext) []Section {
	var out []Section
	for _, sec := range ec.Sections() {
		if stateRank[sec.State] >= stateRank[StateSynthesized] && sec.State != StateFailed {
			out = append(out, sec)
		}
	}
	return out
}

func normalizePriority(p string) ImprovementPriority {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func clampScore100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
