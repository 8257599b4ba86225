package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func seedSynthesized(ec *ExecutionContext, n int) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%d", i)
		ec.AddSection(SectionPlan{ID: id, Title: "Section " + id, OrderIndex: i})
		if err := ec.SetSectionContent(id, "Body of "+id+". More detail follows.", "Summary of "+id+".", nil, StateSynthesized); err != nil {
			panic(err)
		}
	}
}

func TestReconcileSingleSection(t *testing.T) {
	t.Parallel()

	r := NewReconciler(testConfig(), newFakeLLM(), testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	seedSynthesized(ec, 1)

	report := r.Reconcile(context.Background(), ec, nil)
	if report.Score != 100 || report.Strategy != "direct" {
		t.Fatalf("report = %+v", report)
	}
	sec, _ := ec.Section("s0")
	if sec.State != StateReconciled {
		t.Fatalf("state = %s", sec.State)
	}
}

func TestReconcileDirect(t *testing.T) {
	t.Parallel()

	llm := newFakeLLM()
	llm.responses["reviewing how well"] = `{"score": 72, "improvements": [
		{"priority": "high", "from": 0, "to": 1, "transition": "This sets up the next part.", "rationale": "abrupt jump"},
		{"priority": "low", "from": 1, "to": 2, "transition": "Low priority bridge.", "rationale": "minor"}
	]}`

	r := NewReconciler(testConfig(), llm, testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	seedSynthesized(ec, 3)

	report := r.Reconcile(context.Background(), ec, nil)
	if report.Strategy != "direct" || report.Score != 72 {
		t.Fatalf("report = %+v", report)
	}
	if report.Applied != 1 {
		t.Fatalf("applied = %d, want 1 (only high priority)", report.Applied)
	}

	sec, _ := ec.Section("s0")
	if !strings.Contains(sec.Content, "This sets up the next part.") {
		t.Fatalf("transition not appended: %q", sec.Content)
	}
	sec, _ = ec.Section("s1")
	if strings.Contains(sec.Content, "Low priority bridge.") {
		t.Fatal("low-priority improvement was applied")
	}
	for i := 0; i < 3; i++ {
		sec, _ := ec.Section(fmt.Sprintf("s%d", i))
		if sec.State != StateReconciled {
			t.Fatalf("s%d state = %s", i, sec.State)
		}
	}
}

func TestReconcileRendersPlannedEdges(t *testing.T) {
	t.Parallel()

	llm := newFakeLLM()
	llm.responses["reviewing how well"] = `{"score": 90, "improvements": []}`

	r := NewReconciler(testConfig(), llm, testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	seedSynthesized(ec, 3)
	edges := []NarrativeEdge{
		{From: "s0", To: "s1", Relation: "contrasts_with"},
		{From: "s1", To: "s2", Relation: "elaborates"},
	}

	r.Reconcile(context.Background(), ec, edges)
	if got := llm.callCount(`"Section s0" contrasts with "Section s1"`); got != 1 {
		t.Fatalf("contrasts_with edge reached %d prompts, want 1", got)
	}
	if got := llm.callCount(`"Section s1" elaborates "Section s2"`); got != 1 {
		t.Fatalf("elaborates edge reached %d prompts, want 1", got)
	}
}

func TestEdgeLinesFallsBackWithoutPlan(t *testing.T) {
	t.Parallel()

	sections := []Section{
		{Plan: SectionPlan{ID: "a", Title: "First"}},
		{Plan: SectionPlan{ID: "b", Title: "Second"}},
	}
	got := edgeLines(sections, nil)
	if !strings.Contains(got, `"First" leads into "Second"`) {
		t.Fatalf("edgeLines = %q", got)
	}
}

func TestReconcileAppliesAtMostThree(t *testing.T) {
	t.Parallel()

	var imps []string
	for i := 0; i < 5; i++ {
		imps = append(imps, fmt.Sprintf(
			`{"priority": "high", "from": %d, "to": %d, "transition": "Bridge %d."}`, i, i+1, i))
	}
	llm := newFakeLLM()
	llm.responses["reviewing how well"] = `{"score": 50, "improvements": [` + strings.Join(imps, ",") + `]}`

	r := NewReconciler(testConfig(), llm, testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	seedSynthesized(ec, 6)

	report := r.Reconcile(context.Background(), ec, nil)
	if report.Applied != 3 {
		t.Fatalf("applied = %d, want 3", report.Applied)
	}
	if len(report.Improvements) != 5 {
		t.Fatalf("improvements = %d, want all 5 recorded", len(report.Improvements))
	}
}

func TestReconcileDistributed(t *testing.T) {
	t.Parallel()

	llm := newFakeLLM()
	llm.responses["reviewing how well"] = `{"score": 80, "improvements": []}`

	r := NewReconciler(testConfig(), llm, testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	seedSynthesized(ec, 11)

	report := r.Reconcile(context.Background(), ec, nil)
	if report.Strategy != "distributed" {
		t.Fatalf("strategy = %s", report.Strategy)
	}
	if report.Score != 80 {
		t.Fatalf("score = %v, want mean of group scores 80", report.Score)
	}
	// Two groups (8 + 3) and one boundary pair: three analysis calls.
	if got := llm.callCount("reviewing how well"); got != 3 {
		t.Fatalf("analysis calls = %d, want 3", got)
	}
}

func TestReconcileDegradesOnAnalysisFailure(t *testing.T) {
	t.Parallel()

	r := NewReconciler(testConfig(), newFakeLLM(), testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	seedSynthesized(ec, 3)

	report := r.Reconcile(context.Background(), ec, nil)
	if report.Score != 0 || report.Applied != 0 {
		t.Fatalf("degraded report = %+v", report)
	}
	if len(ec.Defects()) == 0 {
		t.Fatal("expected a defect for the failed analysis")
	}
	// Sections still advance so assembly can proceed.
	sec, _ := ec.Section("s0")
	if sec.State != StateReconciled {
		t.Fatalf("state = %s", sec.State)
	}
}

func TestNormalizePriority(t *testing.T) {
	t.Parallel()

	if normalizePriority(" HIGH ") != PriorityHigh || normalizePriority("low") != PriorityLow ||
		normalizePriority("whatever") != PriorityMedium {
		t.Fatal("priority normalization broken")
	}
}
