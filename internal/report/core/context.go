package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reportcraft/reportcraft/internal/helpers"
)

// ExecutionContext is the shared state of one run. It is append-only: steps,
// sources and section content accumulate and nothing is removed before
// finalization. All methods are safe for concurrent use by parallel section
// builders; reads return snapshots and may miss writes still in flight.
type ExecutionContext struct {
	mu sync.RWMutex

	query   Query
	started time.Time

	steps    []StepRecord
	sources  map[string]*SourceRecord // keyed on canonical URL
	order    []string                 // canonical URLs in registration order
	sections map[string]*Section
	defects  []Defect

	tokensUsed int64
	cost       float64
}

// NewExecutionContext creates the context for a single run.
func NewExecutionContext(query Query) *ExecutionContext {
	return &ExecutionContext{
		query:    query,
		started:  time.Now(),
		sources:  make(map[string]*SourceRecord),
		sections: make(map[string]*Section),
	}
}

// Query returns the run's query.
func (ec *ExecutionContext) Query() Query {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.query
}

// StartedAt returns when the run began.
func (ec *ExecutionContext) StartedAt() time.Time {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.started
}

// RecordStep appends one entry to the run step log.
func (ec *ExecutionContext) RecordStep(phase, component, sectionID, message string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.steps = append(ec.steps, StepRecord{
		Phase:     phase,
		Component: component,
		SectionID: sectionID,
		Message:   message,
		At:        time.Now(),
	})
}

// Steps returns a copy of the full step log.
func (ec *ExecutionContext) Steps() []StepRecord {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]StepRecord, len(ec.steps))
	copy(out, ec.steps)
	return out
}

// Traces groups the step log by phase.
func (ec *ExecutionContext) Traces() RunTraces {
	var t RunTraces
	for _, s := range ec.Steps() {
		switch s.Phase {
		case "exploration":
			t.Exploration = append(t.Exploration, s)
		case "planning":
			t.Planning = append(t.Planning, s)
		case "construction":
			t.Construction = append(t.Construction, s)
		case "coherence":
			t.Coherence = append(t.Coherence, s)
		case "assembly":
			t.Assembly = append(t.Assembly, s)
		}
	}
	return t
}

// RegisterSources merges records into the registry keyed on canonical URL
// and returns only the newly added ones. A URL seen before is not duplicated;
// instead the new record's used-in relations are attached to the existing
// entry, and a suggested or required priority upgrades an auto-discovered
// one. The merge is atomic per call.
func (ec *ExecutionContext) RegisterSources(records []SourceRecord) []SourceRecord {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	var added []SourceRecord
	for _, rec := range records {
		canonical, err := helpers.CanonicalURL(rec.URL)
		if err != nil {
			continue
		}
		if existing, ok := ec.sources[canonical]; ok {
			for _, sec := range rec.UsedIn {
				attachUsedIn(existing, sec)
			}
			if priorityRank(rec.Priority) > priorityRank(existing.Priority) {
				existing.Priority = rec.Priority
			}
			continue
		}
		stored := rec
		stored.OriginalURL = rec.URL
		stored.URL = canonical
		if stored.ID == "" {
			stored.ID = uuid.New().String()
		}
		if stored.Status == "" {
			stored.Status = SourceDiscoveredNotUsed
		}
		if stored.Priority == "" {
			stored.Priority = PriorityAutoDiscovered
		}
		if stored.DiscoveredAt.IsZero() {
			stored.DiscoveredAt = time.Now()
		}
		ec.sources[canonical] = &stored
		ec.order = append(ec.order, canonical)
		added = append(added, stored)
	}
	return added
}

// Source looks up a source by URL (canonicalized first).
func (ec *ExecutionContext) Source(rawURL string) (SourceRecord, bool) {
	canonical, err := helpers.CanonicalURL(rawURL)
	if err != nil {
		return SourceRecord{}, false
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	rec, ok := ec.sources[canonical]
	if !ok {
		return SourceRecord{}, false
	}
	return *rec, true
}

// Sources returns every registered source in registration order.
func (ec *ExecutionContext) Sources() []SourceRecord {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]SourceRecord, 0, len(ec.order))
	for _, key := range ec.order {
		out = append(out, *ec.sources[key])
	}
	return out
}

// SetSourceResult updates a source after an extraction attempt.
func (ec *ExecutionContext) SetSourceResult(rawURL string, status SourceStatus, title, content string) {
	canonical, err := helpers.CanonicalURL(rawURL)
	if err != nil {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	rec, ok := ec.sources[canonical]
	if !ok {
		return
	}
	rec.Status = status
	if title != "" {
		rec.Title = title
	}
	if content != "" {
		rec.Content = content
	}
}

// MarkSourceUsed attaches a used-in relation to an already registered source.
func (ec *ExecutionContext) MarkSourceUsed(rawURL, sectionID string) {
	canonical, err := helpers.CanonicalURL(rawURL)
	if err != nil {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if rec, ok := ec.sources[canonical]; ok {
		attachUsedIn(rec, sectionID)
	}
}

// AddSection seeds a planned section into the context.
func (ec *ExecutionContext) AddSection(plan SectionPlan) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, ok := ec.sections[plan.ID]; ok {
		return
	}
	ec.sections[plan.ID] = &Section{Plan: plan, State: StatePlanned}
}

// Section returns a copy of the section with the given id.
func (ec *ExecutionContext) Section(id string) (Section, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	sec, ok := ec.sections[id]
	if !ok {
		return Section{}, false
	}
	return *sec, true
}

// Sections returns copies of every section ordered by order index.
func (ec *ExecutionContext) Sections() []Section {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]Section, 0, len(ec.sections))
	for _, sec := range ec.sections {
		out = append(out, *sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plan.OrderIndex < out[j].Plan.OrderIndex })
	return out
}

// SetSectionState advances a section's state. Regressions are rejected.
func (ec *ExecutionContext) SetSectionState(id string, next SectionState) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	sec, ok := ec.sections[id]
	if !ok {
		return fmt.Errorf("unknown section %q", id)
	}
	if !sec.State.CanTransition(next) {
		return fmt.Errorf("illegal section state transition %s -> %s", sec.State, next)
	}
	sec.State = next
	return nil
}

// SetSectionContent stores a section's synthesized content and advances its
// state in one step. The transition is checked the same way as
// SetSectionState.
func (ec *ExecutionContext) SetSectionContent(id string, content, summary string, sourceURLs []string, next SectionState) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	sec, ok := ec.sections[id]
	if !ok {
		return fmt.Errorf("unknown section %q", id)
	}
	if !sec.State.CanTransition(next) {
		return fmt.Errorf("illegal section state transition %s -> %s", sec.State, next)
	}
	sec.Content = content
	if summary != "" {
		sec.Summary = summary
	}
	if sourceURLs != nil {
		sec.SourceURLs = append([]string(nil), sourceURLs...)
	}
	sec.WordCount = len(strings.Fields(helpers.StripSourceMarkers(content)))
	sec.State = next
	return nil
}

// AppendSectionContent appends text to an already synthesized section. Used
// by the reconciler to add transition sentences without regressing state.
func (ec *ExecutionContext) AppendSectionContent(id, text string) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	sec, ok := ec.sections[id]
	if !ok {
		return fmt.Errorf("unknown section %q", id)
	}
	if sec.Content == "" {
		return fmt.Errorf("section %q has no content to append to", id)
	}
	sec.Content = strings.TrimRight(sec.Content, " \n") + " " + strings.TrimSpace(text)
	sec.WordCount = len(strings.Fields(helpers.StripSourceMarkers(sec.Content)))
	return nil
}

// AllPriorSections returns a consistent snapshot of every section other than
// excludeID that has at least reached the synthesized state. Builders use it
// for cross-reference enrichment; sections still in flight are simply absent.
func (ec *ExecutionContext) AllPriorSections(excludeID string) []Section {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	var out []Section
	for _, sec := range ec.sections {
		if sec.Plan.ID == excludeID {
			continue
		}
		if stateRank[sec.State] >= stateRank[StateSynthesized] {
			out = append(out, *sec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plan.OrderIndex < out[j].Plan.OrderIndex })
	return out
}

// AddDefect records a non-fatal problem.
func (ec *ExecutionContext) AddDefect(d Defect) {
	if d.OccurredAt.IsZero() {
		d.OccurredAt = time.Now()
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.defects = append(ec.defects, d)
}

// Defects returns a copy of the recorded defects.
func (ec *ExecutionContext) Defects() []Defect {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]Defect, len(ec.defects))
	copy(out, ec.defects)
	return out
}

// Accounting tallies the source registry by status and priority.
func (ec *ExecutionContext) Accounting() SourceAccounting {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	var acc SourceAccounting
	for _, rec := range ec.sources {
		acc.Total++
		switch rec.Status {
		case SourceSuccess:
			acc.Succeeded++
		case SourceFailed:
			acc.Failed++
		default:
			acc.DiscoveredNotUsed++
		}
		switch rec.Priority {
		case PriorityRequired:
			acc.Required++
		case PrioritySuggested:
			acc.Suggested++
		default:
			acc.AutoDiscovered++
		}
	}
	return acc
}

// AddUsage accumulates token and cost accounting for this run.
func (ec *ExecutionContext) AddUsage(tokens int64, cost float64) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.tokensUsed += tokens
	ec.cost += cost
}

// Usage returns the run's accumulated token count and cost estimate.
func (ec *ExecutionContext) Usage() (tokens int64, cost float64) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.tokensUsed, ec.cost
}

func attachUsedIn(rec *SourceRecord, sectionID string) {
	if sectionID == "" {
		return
	}
	for _, existing := range rec.UsedIn {
		if existing == sectionID {
			return
		}
	}
	rec.UsedIn = append(rec.UsedIn, sectionID)
}

func priorityRank(p SourcePriority) int {
	switch p {
	case PriorityRequired:
		return 2
	case PrioritySuggested:
		return 1
	default:
		return 0
	}
}
