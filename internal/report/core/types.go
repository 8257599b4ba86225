package core

import (
	"context"
	"time"
)

// Query represents a single report request.
type Query struct {
	ID         string        `json:"id"`
	Topic      string        `json:"topic"`
	Objectives []string      `json:"objectives,omitempty"`
	Policy     SourcePolicy  `json:"policy"`
	MinSources int           `json:"min_sources,omitempty"`
	MaxSteps   int           `json:"max_steps,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PolicyMode controls how suggested sources combine with discovered ones.
type PolicyMode string

const (
	// PolicyComplement prepends suggested URLs to discovery results.
	PolicyComplement PolicyMode = "complement"
	// PolicyPreferSuggested consumes suggested URLs first and only searches
	// for the remainder.
	PolicyPreferSuggested PolicyMode = "prefer-suggested"
	// PolicyExclusive uses suggested URLs only, skipping discovery.
	PolicyExclusive PolicyMode = "exclusive"
)

// SourcePolicy constrains which sources a run may consume.
type SourcePolicy struct {
	Mode             PolicyMode `json:"mode,omitempty"`
	Required         []string   `json:"required,omitempty"`
	Suggested        []string   `json:"suggested,omitempty"`
	Exclusions       []string   `json:"exclusions,omitempty"`
	DomainsWhitelist []string   `json:"domains_whitelist,omitempty"`
}

// SourceStatus tracks what happened to a registered source.
type SourceStatus string

const (
	SourceSuccess           SourceStatus = "success"
	SourceFailed            SourceStatus = "failed"
	SourceDiscoveredNotUsed SourceStatus = "discovered_not_used"
)

// SourcePriority records why a source entered the run.
type SourcePriority string

const (
	PriorityRequired       SourcePriority = "required"
	PrioritySuggested      SourcePriority = "suggested"
	PriorityAutoDiscovered SourcePriority = "auto_discovered"
)

// SourceRecord is one discovered source. Records are keyed on canonical URL
// and never duplicated within a run.
type SourceRecord struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"` // canonical
	OriginalURL  string         `json:"original_url"`
	Title        string         `json:"title"`
	Snippet      string         `json:"snippet,omitempty"`
	Content      string         `json:"content,omitempty"`
	Status       SourceStatus   `json:"status"`
	Priority     SourcePriority `json:"priority"`
	UsedIn       []string       `json:"used_in,omitempty"` // section ids
	DiscoveredAt time.Time      `json:"discovered_at"`
}

// ComplexityTier buckets a query by how much report it deserves.
type ComplexityTier string

const (
	TierConcise  ComplexityTier = "concise"
	TierStandard ComplexityTier = "standard"
	TierDetailed ComplexityTier = "detailed"
	TierDeep     ComplexityTier = "deep"
)

// TierForScore maps an overall complexity score to its tier. Boundaries are
// closed on the upper side: 2.0 is concise, 3.0 standard, 4.0 detailed.
func TierForScore(overall float64) ComplexityTier {
	switch {
	case overall <= 2.0:
		return TierConcise
	case overall <= 3.0:
		return TierStandard
	case overall <= 4.0:
		return TierDetailed
	default:
		return TierDeep
	}
}

// TierBounds are the section and word budgets a tier allows.
type TierBounds struct {
	MinSections int
	MaxSections int
	MinWords    int
	MaxWords    int
}

var tierBounds = map[ComplexityTier]TierBounds{
	TierConcise:  {MinSections: 1, MaxSections: 2, MinWords: 500, MaxWords: 1000},
	TierStandard: {MinSections: 2, MaxSections: 3, MinWords: 1000, MaxWords: 1500},
	TierDetailed: {MinSections: 3, MaxSections: 5, MinWords: 1500, MaxWords: 2500},
	TierDeep:     {MinSections: 4, MaxSections: 7, MinWords: 2500, MaxWords: 4000},
}

// BoundsForTier returns the budgets for tier, defaulting to standard for
// unknown values.
func BoundsForTier(tier ComplexityTier) TierBounds {
	if b, ok := tierBounds[tier]; ok {
		return b
	}
	return tierBounds[TierStandard]
}

// ComplexityAssessment is the planner's scoring of a query. All five
// dimension scores are on a 1-5 scale; Overall is their arithmetic mean.
type ComplexityAssessment struct {
	SubjectBreadth  float64        `json:"subject_breadth"`
	Specificity     float64        `json:"specificity"`
	Format          float64        `json:"format"`
	TemporalDepth   float64        `json:"temporal_depth"`
	Interconnection float64        `json:"interconnection"`
	Overall         float64        `json:"overall"`
	Tier            ComplexityTier `json:"tier"`
	Rationale       string         `json:"rationale,omitempty"`
}

// Depth controls how much research a single section gets.
type Depth string

const (
	DepthLight    Depth = "light"
	DepthModerate Depth = "moderate"
	DepthDeep     Depth = "deep"
)

// SearchCount returns how many sources to gather for a section of this depth.
func (d Depth) SearchCount() int {
	switch d {
	case DepthLight:
		return 3
	case DepthDeep:
		return 8
	default:
		return 5
	}
}

// ChunkSelection returns the relevance threshold and chunk cap used when
// picking synthesis input for this depth.
func (d Depth) ChunkSelection() (threshold float64, limit int) {
	switch d {
	case DepthLight:
		return 60, 4
	case DepthDeep:
		return 35, 15
	default:
		return 40, 8
	}
}

// ParagraphRange returns the paragraph band synthesis should aim for.
func (d Depth) ParagraphRange() (min, max int) {
	switch d {
	case DepthLight:
		return 2, 3
	case DepthDeep:
		return 6, 10
	default:
		return 4, 6
	}
}

// SectionPlan is one planned section of the report.
type SectionPlan struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Objective    string   `json:"objective"`
	KeyQuestions []string `json:"key_questions,omitempty"`
	Depth        Depth    `json:"depth"`
	TargetWords  int      `json:"target_words"`
	OrderIndex   int      `json:"order_index"`
}

// NarrativeEdge declares how one section should flow into another.
type NarrativeEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"` // leads_into, contrasts_with, elaborates, ...
}

// SourceRichness classifies how much material exploration found.
type SourceRichness string

const (
	RichnessRich     SourceRichness = "rich"
	RichnessModerate SourceRichness = "moderate"
	RichnessLimited  SourceRichness = "limited"
)

// ScoutingReport is the Scoping Engine's output.
type ScoutingReport struct {
	SubTopics []string       `json:"sub_topics"`
	Richness  SourceRichness `json:"richness"`
	Sources   int            `json:"sources"`
}

// Plan is the Planning Engine's output: the full report blueprint.
type Plan struct {
	Assessment ComplexityAssessment `json:"assessment"`
	Sections   []SectionPlan        `json:"sections"`
	Edges      []NarrativeEdge      `json:"edges"`
	Scouting   ScoutingReport       `json:"scouting"`
}

// SectionState is the lifecycle state of a section under construction.
// Transitions only move forward; a section never regresses.
type SectionState string

const (
	StatePlanned     SectionState = "planned"
	StateResearched  SectionState = "researched"
	StateExtracted   SectionState = "extracted"
	StateSynthesized SectionState = "synthesized"
	StateReconciled  SectionState = "reconciled"
	StateFinal       SectionState = "final"
	StateFailed      SectionState = "failed"
)

var stateRank = map[SectionState]int{
	StatePlanned:     0,
	StateResearched:  1,
	StateExtracted:   2,
	StateSynthesized: 3,
	StateReconciled:  4,
	StateFinal:       5,
}

// CanTransition reports whether moving from s to next is a legal forward
// move. Any state may fail; equal states are allowed as idempotent no-ops.
func (s SectionState) CanTransition(next SectionState) bool {
	if next == StateFailed {
		return true
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// Section is a section's content and progress inside the Execution Context.
type Section struct {
	Plan       SectionPlan  `json:"plan"`
	State      SectionState `json:"state"`
	Content    string       `json:"content,omitempty"`
	Summary    string       `json:"summary,omitempty"`
	SourceURLs []string     `json:"source_urls,omitempty"`
	WordCount  int          `json:"word_count"`
}

// CrossReference is an advisory link discovered between sections. SourceURL
// is the shared canonical source that established the link.
type CrossReference struct {
	SectionID string `json:"section_id"`
	RelatedID string `json:"related_id"`
	SourceURL string `json:"source_url,omitempty"`
	Note      string `json:"note"`
}

// ImprovementPriority ranks a coherence improvement.
type ImprovementPriority string

const (
	PriorityHigh   ImprovementPriority = "high"
	PriorityMedium ImprovementPriority = "medium"
	PriorityLow    ImprovementPriority = "low"
)

// CoherenceImprovement is one suggested inter-section fix.
type CoherenceImprovement struct {
	Priority    ImprovementPriority `json:"priority"`
	FromSection string              `json:"from_section"`
	ToSection   string              `json:"to_section"`
	Transition  string              `json:"transition"`
	Rationale   string              `json:"rationale,omitempty"`
}

// CoherenceReport is the reconciler's verdict over the whole report.
type CoherenceReport struct {
	Score        float64                `json:"score"` // 0-100
	Strategy     string                 `json:"strategy"`
	Improvements []CoherenceImprovement `json:"improvements,omitempty"`
	Applied      int                    `json:"applied"`
}

// Defect records a non-fatal problem encountered during a run.
type Defect struct {
	Kind       ErrorKind `json:"kind"`
	SectionID  string    `json:"section_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BibliographyEntry is one numbered reference in the final report.
type BibliographyEntry struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Cited bool   `json:"cited"`
}

// ReportSection is one assembled section of the final report.
type ReportSection struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	WordCount   int    `json:"word_count"`
	SourceCount int    `json:"source_count"`
	OrderIndex  int    `json:"order_index"`
}

// SourceAccounting summarises per-status and per-priority source counts.
type SourceAccounting struct {
	Total             int `json:"total"`
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	DiscoveredNotUsed int `json:"discovered_not_used"`
	Required          int `json:"required"`
	Suggested         int `json:"suggested"`
	AutoDiscovered    int `json:"auto_discovered"`
}

// RunMetadata captures run-level accounting attached to every report.
type RunMetadata struct {
	RunID             string           `json:"run_id"`
	Tier              ComplexityTier   `json:"tier"`
	SectionsPlanned   int              `json:"sections_planned"`
	SectionsCompleted int              `json:"sections_completed"`
	SectionsFailed    int              `json:"sections_failed"`
	Sources           SourceAccounting `json:"sources"`
	TokensUsed        int64            `json:"tokens_used"`
	CostEstimate      float64          `json:"cost_estimate"`
	StartedAt         time.Time        `json:"started_at"`
	Duration          time.Duration    `json:"duration"`
}

// StepRecord is one entry in the append-only run step log.
type StepRecord struct {
	Phase     string    `json:"phase"` // exploration, planning, construction, coherence, assembly
	Component string    `json:"component"`
	SectionID string    `json:"section_id,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// RunTraces groups step records by phase for the response payload.
type RunTraces struct {
	Exploration  []StepRecord `json:"exploration,omitempty"`
	Planning     []StepRecord `json:"planning,omitempty"`
	Construction []StepRecord `json:"construction,omitempty"`
	Coherence    []StepRecord `json:"coherence,omitempty"`
	Assembly     []StepRecord `json:"assembly,omitempty"`
}

// Report is the final assembled artifact.
type Report struct {
	ID             string              `json:"id"`
	Topic          string              `json:"topic"`
	Title          string              `json:"title"`
	Summary        string              `json:"summary"`
	Sections       []ReportSection     `json:"sections"`
	Bibliography   []BibliographyEntry `json:"bibliography"`
	CoherenceScore float64             `json:"coherence_score"`
	Defects        []Defect            `json:"defects,omitempty"`
	Metadata       RunMetadata         `json:"metadata"`
}

// LLMProvider is the contract for generative model backends.
type LLMProvider interface {
	// Generate generates text using the given model.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and reports token usage.
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// CalculateCost converts token usage to an estimated dollar cost.
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// SearchProvider is the discovery contract the engines consume.
type SearchProvider interface {
	Discover(ctx context.Context, query string, k int, sites []string) ([]SearchHit, error)
}

// SearchHit is one discovery result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Extractor fetches a URL and returns its readable text.
type Extractor interface {
	Extract(ctx context.Context, url string) (ExtractedContent, error)
}

// ExtractedContent is the cleaned content of one fetched page.
type ExtractedContent struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}
