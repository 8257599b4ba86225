package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func assemblerFixture(llm *fakeLLM) (*Assembler, *ExecutionContext) {
	a := NewAssembler(testConfig(), llm, testTelemetry())
	ec := NewExecutionContext(testQuery("grid storage"))

	ec.RegisterSources([]SourceRecord{
		{URL: "https://a.com/1", Title: "First Study"},
		{URL: "https://b.com/2", Title: "Second Study"},
		{URL: "https://c.com/3", Title: "Read But Never Cited"},
	})
	ec.SetSourceResult("https://a.com/1", SourceSuccess, "First Study", "text")
	ec.SetSourceResult("https://b.com/2", SourceSuccess, "Second Study", "text")
	ec.SetSourceResult("https://c.com/3", SourceSuccess, "Read But Never Cited", "text")

	ec.AddSection(SectionPlan{ID: "s1", Title: "Opening", OrderIndex: 0})
	ec.AddSection(SectionPlan{ID: "s2", Title: "Closing", OrderIndex: 1})
	mustSetContent(ec, "s1",
		"Storage grew fast [SOURCE:https://b.com/2]. Costs fell [SOURCE:https://a.com/1].",
		"Storage grew fast.", []string{"https://b.com/2", "https://a.com/1"})
	mustSetContent(ec, "s2",
		"The trend continues [SOURCE:https://b.com/2].",
		"The trend continues.", []string{"https://b.com/2"})
	return a, ec
}

func mustSetContent(ec *ExecutionContext, id, content, summary string, urls []string) {
	if err := ec.SetSectionContent(id, content, summary, urls, StateSynthesized); err != nil {
		panic(err)
	}
}

func TestAssembleBibliographyOrdering(t *testing.T) {
	t.Parallel()

	llm := newFakeLLM()
	llm.responses["executive summary"] = "Grid storage is scaling quickly across markets."

	a, ec := assemblerFixture(llm)
	report, err := a.Assemble(context.Background(), ec, Plan{}, CoherenceReport{Score: 85})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	// Ids follow first use walking the sections in order: b.com/2 then
	// a.com/1, with the uncited success appended last.
	if len(report.Bibliography) != 3 {
		t.Fatalf("bibliography = %+v", report.Bibliography)
	}
	if report.Bibliography[0].URL != "https://b.com/2" || report.Bibliography[0].ID != 1 {
		t.Fatalf("entry 0 = %+v", report.Bibliography[0])
	}
	if report.Bibliography[1].URL != "https://a.com/1" || report.Bibliography[1].ID != 2 {
		t.Fatalf("entry 1 = %+v", report.Bibliography[1])
	}
	if report.Bibliography[2].URL != "https://c.com/3" || report.Bibliography[2].Cited {
		t.Fatalf("entry 2 = %+v", report.Bibliography[2])
	}

	// Markers are rewritten to the assigned ids everywhere.
	if !strings.Contains(report.Sections[0].Content, "[1]") || !strings.Contains(report.Sections[0].Content, "[2]") {
		t.Fatalf("section 0 content = %q", report.Sections[0].Content)
	}
	if !strings.Contains(report.Sections[1].Content, "[1]") {
		t.Fatalf("section 1 content = %q", report.Sections[1].Content)
	}
	if strings.Contains(report.Sections[0].Content, "[SOURCE:") {
		t.Fatal("raw marker survived assembly")
	}

	if report.Summary != "Grid storage is scaling quickly across markets." {
		t.Fatalf("summary = %q", report.Summary)
	}
	if report.CoherenceScore != 85 {
		t.Fatalf("coherence score = %v", report.CoherenceScore)
	}

	for _, id := range []string{"s1", "s2"} {
		sec, _ := ec.Section(id)
		if sec.State != StateFinal {
			t.Fatalf("%s state = %s", id, sec.State)
		}
	}
}

func TestAssembleSummaryFallback(t *testing.T) {
	t.Parallel()

	a, ec := assemblerFixture(newFakeLLM()) // summary call fails
	report, err := a.Assemble(context.Background(), ec, Plan{}, CoherenceReport{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// Fallback: first two sentences of the opening section, markers stripped.
	if report.Summary == "" || strings.Contains(report.Summary, "[SOURCE:") {
		t.Fatalf("summary fallback = %q", report.Summary)
	}
	if !strings.HasPrefix(report.Summary, "Storage grew fast") {
		t.Fatalf("summary fallback = %q", report.Summary)
	}
}

func TestAssembleNoSections(t *testing.T) {
	t.Parallel()

	a := NewAssembler(testConfig(), newFakeLLM(), testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	ec.AddSection(SectionPlan{ID: "s1"}) // still planned

	_, err := a.Assemble(context.Background(), ec, Plan{}, CoherenceReport{})
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindEmptyResult {
		t.Fatalf("expected empty_result, got %v", err)
	}
}

func TestAssembleNoSourcesStillDelivers(t *testing.T) {
	t.Parallel()

	a := NewAssembler(testConfig(), newFakeLLM(), testTelemetry())
	ec := NewExecutionContext(testQuery("x"))
	ec.AddSection(SectionPlan{ID: "s1", Title: "T"})
	mustSetContent(ec, "s1", "Body with no citations.", "Body.", nil)

	report, err := a.Assemble(context.Background(), ec, Plan{}, CoherenceReport{})
	if err != nil {
		t.Fatalf("a citation-free report must still assemble: %v", err)
	}
	if len(report.Bibliography) != 0 {
		t.Fatalf("bibliography = %+v", report.Bibliography)
	}
	if len(report.Sections) != 1 || report.Sections[0].Content != "Body with no citations." {
		t.Fatalf("sections = %+v", report.Sections)
	}
	var found bool
	for _, d := range report.Defects {
		if d.Kind == KindSourceUnavailable && strings.Contains(d.Message, "bibliography is empty") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing empty-bibliography defect: %+v", report.Defects)
	}
}

func TestAssembleMinSourcesDefect(t *testing.T) {
	t.Parallel()

	llm := newFakeLLM()
	llm.responses["executive summary"] = "Summary."
	a := NewAssembler(testConfig(), llm, testTelemetry())

	query := testQuery("grid storage")
	query.MinSources = 5
	ec := NewExecutionContext(query)
	ec.RegisterSources([]SourceRecord{{URL: "https://a.com/1", Title: "Only One"}})
	ec.SetSourceResult("https://a.com/1", SourceSuccess, "", "text")
	ec.AddSection(SectionPlan{ID: "s1", Title: "T"})
	mustSetContent(ec, "s1", "Body [SOURCE:https://a.com/1].", "Body.", []string{"https://a.com/1"})

	report, err := a.Assemble(context.Background(), ec, Plan{}, CoherenceReport{})
	if err != nil {
		t.Fatalf("falling short of min_sources must not be fatal: %v", err)
	}
	var found bool
	for _, d := range report.Defects {
		if d.Kind == KindSourceUnavailable && strings.Contains(d.Message, "1 of the 5") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing min_sources defect: %+v", report.Defects)
	}
}

func TestAssembleMetadata(t *testing.T) {
	t.Parallel()

	llm := newFakeLLM()
	llm.responses["executive summary"] = "Summary."
	a, ec := assemblerFixture(llm)

	ec.AddSection(SectionPlan{ID: "s3", Title: "Broken", OrderIndex: 2})
	if err := ec.SetSectionState("s3", StateFailed); err != nil {
		t.Fatal(err)
	}

	plan := Plan{Assessment: ComplexityAssessment{Tier: TierStandard},
		Sections: []SectionPlan{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}}
	report, err := a.Assemble(context.Background(), ec, plan, CoherenceReport{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	md := report.Metadata
	if md.Tier != TierStandard || md.SectionsPlanned != 3 || md.SectionsCompleted != 2 || md.SectionsFailed != 1 {
		t.Fatalf("metadata = %+v", md)
	}
	if md.Sources.Total != 3 || md.Sources.Succeeded != 3 {
		t.Fatalf("source accounting = %+v", md.Sources)
	}
	if md.RunID != "run-1" {
		t.Fatalf("run id = %q", md.RunID)
	}
}
