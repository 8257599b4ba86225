package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/helpers"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

// Planner turns a query plus a scouting report into the report blueprint:
// a complexity assessment, section plans with word targets, and the
// narrative edges connecting them.
type Planner struct {
	config      *config.Config
	llmProvider LLMProvider
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewPlanner creates a new planner instance.
func NewPlanner(cfg *config.Config, llmProvider LLMProvider, tel *telemetry.Telemetry) *Planner {
	return &Planner{
		config:      cfg,
		llmProvider: llmProvider,
		telemetry:   tel,
		logger:      log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Assess scores the query's complexity with one generative call. Scoring
// failures are never fatal: the assessment degrades to the standard tier
// with an overall of 2.5 and the error is recorded as a defect.
func (p *Planner) Assess(ctx context.Context, ec *ExecutionContext, scouting ScoutingReport) ComplexityAssessment {
	query := ec.Query()
	prompt := fmt.Sprintf(complexityPromptTemplate,
		query.Topic,
		joinOr(query.Objectives, "none stated"),
		joinOr(scouting.SubTopics, "none found"),
		string(scouting.Richness),
	)

	model := p.config.LLM.Routing.ModelFor("planning")
	response, inTok, outTok, err := p.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  500,
	})
	if err == nil {
		cost := p.llmProvider.CalculateCost(inTok, outTok, model)
		p.telemetry.RecordLLMCall(model, inTok, outTok, cost)
		ec.AddUsage(inTok+outTok, cost)
	}

	assessment, parseErr := parseAssessment(response)
	if err != nil || parseErr != nil {
		if err == nil {
			err = parseErr
		}
		p.logger.Printf("complexity scoring failed, falling back to standard: %v", err)
		ec.AddDefect(Defect{Kind: KindGenerationFailure, Message: "complexity scoring failed: " + err.Error()})
		assessment = ComplexityAssessment{
			SubjectBreadth: 2.5, Specificity: 2.5, Format: 2.5,
			TemporalDepth: 2.5, Interconnection: 2.5,
			Overall: 2.5, Tier: TierStandard,
			Rationale: "fallback after scoring failure",
		}
	}

	ec.RecordStep("planning", "planner", "",
		fmt.Sprintf("complexity %.2f, tier %s", assessment.Overall, assessment.Tier))
	return assessment
}

// BuildPlan produces the full blueprint. The section layout comes from one
// generative call; when that fails a deterministic layout is derived from
// the scouting sub-topics so planning itself never fails the run.
func (p *Planner) BuildPlan(ctx context.Context, ec *ExecutionContext, scouting ScoutingReport) (Plan, error) {
	start := time.Now()
	query := ec.Query()
	assessment := p.Assess(ctx, ec, scouting)
	bounds := BoundsForTier(assessment.Tier)
	if query.MaxSteps > 0 && query.MaxSteps < bounds.MaxSections {
		bounds.MaxSections = query.MaxSteps
		if bounds.MinSections > bounds.MaxSections {
			bounds.MinSections = bounds.MaxSections
		}
	}

	drafts := p.draftSections(ctx, ec, query, scouting, bounds)
	drafts = clampSections(drafts, bounds, query.Topic, scouting)

	sections, edges := materialize(drafts, bounds)
	for _, sec := range sections {
		ec.AddSection(sec)
	}

	plan := Plan{
		Assessment: assessment,
		Sections:   sections,
		Edges:      edges,
		Scouting:   scouting,
	}
	p.logger.Printf("plan ready in %v: tier=%s sections=%d", time.Since(start), assessment.Tier, len(sections))
	ec.RecordStep("planning", "planner", "",
		fmt.Sprintf("planned %d sections for tier %s", len(sections), assessment.Tier))
	return plan, nil
}

// sectionDraft is the planner's pre-materialization section shape.
type sectionDraft struct {
	Title        string   `json:"title"`
	Objective    string   `json:"objective"`
	KeyQuestions []string `json:"key_questions,omitempty"`
	Depth        string   `json:"depth"`
	Relation     string   `json:"relation,omitempty"`
}

func (p *Planner) draftSections(ctx context.Context, ec *ExecutionContext, query Query, scouting ScoutingReport, bounds TierBounds) []sectionDraft {
	prompt := fmt.Sprintf(sectionPlanPromptTemplate,
		query.Topic,
		joinOr(query.Objectives, "none stated"),
		joinOr(scouting.SubTopics, "none found"),
		string(scouting.Richness),
		bounds.MinSections, bounds.MaxSections,
	)

	model := p.config.LLM.Routing.ModelFor("planning")
	response, inTok, outTok, err := p.llmProvider.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  1500,
	})
	if err != nil {
		p.logger.Printf("section planning failed, using deterministic layout: %v", err)
		ec.AddDefect(Defect{Kind: KindGenerationFailure, Message: "section planning failed: " + err.Error()})
		return nil
	}
	cost := p.llmProvider.CalculateCost(inTok, outTok, model)
	p.telemetry.RecordLLMCall(model, inTok, outTok, cost)
	ec.AddUsage(inTok+outTok, cost)

	raw, err := helpers.ExtractJSON(response)
	if err != nil {
		p.logger.Printf("section plan response unparseable: %v", err)
		ec.AddDefect(Defect{Kind: KindGenerationFailure, Message: "section plan unparseable: " + err.Error()})
		return nil
	}
	var parsed struct {
		Sections []sectionDraft `json:"sections"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		p.logger.Printf("section plan JSON invalid: %v", err)
		ec.AddDefect(Defect{Kind: KindGenerationFailure, Message: "section plan JSON invalid: " + err.Error()})
		return nil
	}
	return parsed.Sections
}

// clampSections enforces the tier's section bounds, padding from sub-topics
// when the draft is short and truncating when it is long. An empty draft
// yields a deterministic layout derived from the scouting report.
func clampSections(drafts []sectionDraft, bounds TierBounds, topic string, scouting ScoutingReport) []sectionDraft {
	var out []sectionDraft
	for _, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			continue
		}
		out = append(out, d)
		if len(out) == bounds.MaxSections {
			break
		}
	}

	fillers := make([]sectionDraft, 0, len(scouting.SubTopics)+2)
	fillers = append(fillers, sectionDraft{
		Title:     "Overview of " + topic,
		Objective: "Establish the essential background and current state of " + topic + ".",
		Depth:     string(DepthModerate),
	})
	for _, sub := range scouting.SubTopics {
		fillers = append(fillers, sectionDraft{
			Title:     titleCase(sub),
			Objective: fmt.Sprintf("Examine %s in the context of %s.", sub, topic),
			Depth:     string(DepthModerate),
		})
	}
	fillers = append(fillers, sectionDraft{
		Title:     "Outlook",
		Objective: "Summarize implications and likely developments for " + topic + ".",
		Depth:     string(DepthLight),
	})

	for _, f := range fillers {
		if len(out) >= bounds.MinSections {
			break
		}
		if hasTitle(out, f.Title) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// materialize assigns ids, order indexes and word targets, and links the
// sections into one connected narrative chain. Word targets split the tier's
// word budget evenly, then shift by a fifth up or down depending on depth.
func materialize(drafts []sectionDraft, bounds TierBounds) ([]SectionPlan, []NarrativeEdge) {
	n := len(drafts)
	if n == 0 {
		return nil, nil
	}
	totalWords := (bounds.MinWords + bounds.MaxWords) / 2
	base := totalWords / n

	sections := make([]SectionPlan, 0, n)
	for i, d := range drafts {
		depth := normalizeDepth(d.Depth)
		target := base
		switch depth {
		case DepthLight:
			target = base * 80 / 100
		case DepthDeep:
			target = base * 120 / 100
		}
		sections = append(sections, SectionPlan{
			ID:           uuid.New().String(),
			Title:        strings.TrimSpace(d.Title),
			Objective:    strings.TrimSpace(d.Objective),
			KeyQuestions: trimAll(d.KeyQuestions),
			Depth:        depth,
			TargetWords:  target,
			OrderIndex:   i,
		})
	}

	edges := make([]NarrativeEdge, 0, n-1)
	for i := 0; i < n-1; i++ {
		relation := normalizeRelation(drafts[i].Relation)
		edges = append(edges, NarrativeEdge{
			From:     sections[i].ID,
			To:       sections[i+1].ID,
			Relation: relation,
		})
	}
	return sections, edges
}

func normalizeDepth(d string) Depth {
	switch Depth(strings.ToLower(strings.TrimSpace(d))) {
	case DepthLight:
		return DepthLight
	case DepthDeep:
		return DepthDeep
	default:
		return DepthModerate
	}
}

func normalizeRelation(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "contrasts_with":
		return "contrasts_with"
	case "elaborates":
		return "elaborates"
	default:
		return "leads_into"
	}
}

func parseAssessment(response string) (ComplexityAssessment, error) {
	raw, err := helpers.ExtractJSON(response)
	if err != nil {
		return ComplexityAssessment{}, err
	}
	var parsed struct {
		SubjectBreadth  float64 `json:"subject_breadth"`
		Specificity     float64 `json:"specificity"`
		Format          float64 `json:"format"`
		TemporalDepth   float64 `json:"temporal_depth"`
		Interconnection float64 `json:"interconnection"`
		Rationale       string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ComplexityAssessment{}, err
	}
	a := ComplexityAssessment{
		SubjectBreadth:  clampScore(parsed.SubjectBreadth),
		Specificity:     clampScore(parsed.Specificity),
		Format:          clampScore(parsed.Format),
		TemporalDepth:   clampScore(parsed.TemporalDepth),
		Interconnection: clampScore(parsed.Interconnection),
		Rationale:       parsed.Rationale,
	}
	a.Overall = (a.SubjectBreadth + a.Specificity + a.Format + a.TemporalDepth + a.Interconnection) / 5
	a.Tier = TierForScore(a.Overall)
	return a, nil
}

func clampScore(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

func trimAll(items []string) []string {
	var out []string
	for _, it := range items {
		if t := strings.TrimSpace(it); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, "; ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func hasTitle(drafts []sectionDraft, title string) bool {
	for _, d := range drafts {
		if strings.EqualFold(d.Title, title) {
			return true
		}
	}
	return false
}
