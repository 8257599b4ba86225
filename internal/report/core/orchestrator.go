package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

// Orchestrator drives the four-phase pipeline for one query: exploration,
// planning, parallel section construction, and reconciliation plus assembly.
// All phases share one append-only ExecutionContext.
type Orchestrator struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	scoping    *ScopingEngine
	planner    *Planner
	builder    *SectionBuilder
	reconciler *Reconciler
	assembler  *Assembler
}

var orchestratorTracer trace.Tracer = otel.Tracer("reportcraft/internal/report/orchestrator")

// NewOrchestrator wires the pipeline components around shared collaborators.
func NewOrchestrator(cfg *config.Config, llm LLMProvider, search SearchProvider, extractor Extractor, tel *telemetry.Telemetry) *Orchestrator {
	logger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	return &Orchestrator{
		config:     cfg,
		logger:     logger,
		telemetry:  tel,
		scoping:    NewScopingEngine(search, cfg.Report.ExplorationResults, logger),
		planner:    NewPlanner(cfg, llm, tel),
		builder:    NewSectionBuilder(cfg, llm, search, extractor, tel),
		reconciler: NewReconciler(cfg, llm, tel),
		assembler:  NewAssembler(cfg, llm, tel),
	}
}

// BuildReport runs the full pipeline. A completed run always returns a
// Report with its defects attached plus the phase-grouped step traces; the
// error is non-nil only for fatal conditions (policy violations, empty
// results, cancellation before any section finished).
func (o *Orchestrator) BuildReport(ctx context.Context, query Query) (Report, RunTraces, error) {
	if query.ID == "" {
		query.ID = uuid.New().String()
	}
	if query.CreatedAt.IsZero() {
		query.CreatedAt = time.Now()
	}
	timeout := query.Timeout
	if timeout <= 0 || timeout > o.config.Report.RunTimeout {
		timeout = o.config.Report.RunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := orchestratorTracer.Start(ctx, "report.build",
		trace.WithAttributes(
			attribute.String("run.id", query.ID),
			attribute.String("run.topic", query.Topic),
		))
	defer span.End()

	start := time.Now()
	o.logger.Printf("run %s: starting for topic %q", query.ID, query.Topic)
	ec := NewExecutionContext(query)

	// Phase 1: exploration.
	exploreCtx, exploreSpan := orchestratorTracer.Start(ctx, "report.explore")
	phaseStart := time.Now()
	scouting := o.scoping.Explore(exploreCtx, ec)
	exploreSpan.SetAttributes(
		attribute.Int("exploration.sources", scouting.Sources),
		attribute.String("exploration.richness", string(scouting.Richness)),
	)
	exploreSpan.End()
	o.telemetry.RecordPhase("exploration", time.Since(phaseStart))

	// Phase 2: planning.
	planCtx, planSpan := orchestratorTracer.Start(ctx, "report.plan")
	phaseStart = time.Now()
	plan, err := o.planner.BuildPlan(planCtx, ec, scouting)
	if err != nil {
		planSpan.RecordError(err)
		planSpan.SetStatus(codes.Error, err.Error())
		planSpan.End()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.telemetry.RecordRun(query.ID, false, time.Since(start), 0, 0)
		return Report{}, ec.Traces(), fmt.Errorf("planning failed: %w", err)
	}
	planSpan.SetAttributes(
		attribute.Int("plan.sections", len(plan.Sections)),
		attribute.String("plan.tier", string(plan.Assessment.Tier)),
	)
	planSpan.SetStatus(codes.Ok, "completed")
	planSpan.End()
	o.telemetry.RecordPhase("planning", time.Since(phaseStart))

	// Phase 3: construction, bounded fan-out.
	phaseStart = time.Now()
	if err := o.construct(ctx, ec, plan); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.telemetry.RecordRun(query.ID, false, time.Since(start), 0, 0)
		return Report{}, ec.Traces(), err
	}
	o.telemetry.RecordPhase("construction", time.Since(phaseStart))

	// Phase 4: reconciliation. Skipped when the run deadline already
	// expired; whatever reached the synthesized state is assembled as-is.
	var coherence CoherenceReport
	if ctx.Err() == nil {
		cohCtx, cohSpan := orchestratorTracer.Start(ctx, "report.reconcile")
		phaseStart = time.Now()
		coherence = o.reconciler.Reconcile(cohCtx, ec, plan.Edges)
		cohSpan.SetAttributes(
			attribute.Float64("coherence.score", coherence.Score),
			attribute.Int("coherence.applied", coherence.Applied),
		)
		cohSpan.End()
		o.telemetry.RecordPhase("coherence", time.Since(phaseStart))
	} else {
		o.logger.Printf("run %s: deadline reached, skipping reconciliation", query.ID)
		ec.RecordStep("coherence", "orchestrator", "", "deadline reached, reconciliation skipped")
	}

	// Assembly runs even past the deadline, on a context detached from the
	// run timeout so the summary call gets a short grace window.
	assembleCtx, assembleCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer assembleCancel()
	report, err := o.assembler.Assemble(assembleCtx, ec, plan, coherence)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.telemetry.RecordRun(query.ID, false, time.Since(start), 0, 0)
		return Report{}, ec.Traces(), err
	}

	tokens, cost := ec.Usage()
	report.Metadata.TokensUsed = tokens
	report.Metadata.CostEstimate = cost

	span.SetAttributes(
		attribute.Int("report.sections", len(report.Sections)),
		attribute.Int("report.references", len(report.Bibliography)),
		attribute.Float64("report.coherence", report.CoherenceScore),
	)
	span.SetStatus(codes.Ok, "completed")
	o.telemetry.RecordRun(query.ID, true, time.Since(start), cost, tokens)
	o.logger.Printf("run %s: completed in %v with %d sections, %d defects",
		query.ID, time.Since(start), len(report.Sections), len(report.Defects))
	return report, ec.Traces(), nil
}

// construct fans out one builder task per planned section under the
// configured concurrency cap. A deadline mid-construction is not fatal:
// finished sections survive and unfinished ones are left behind. Fatal
// builder errors (policy violations) abort the whole group.
func (o *Orchestrator) construct(ctx context.Context, ec *ExecutionContext, plan Plan) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Report.MaxConcurrentSections)

	for _, section := range plan.Sections {
		g.Go(func() error {
			secCtx, secSpan := orchestratorTracer.Start(gctx, "report.build_section",
				trace.WithAttributes(
					attribute.String("section.id", section.ID),
					attribute.String("section.title", section.Title),
					attribute.String("section.depth", string(section.Depth)),
				))
			defer secSpan.End()

			err := o.builder.Build(secCtx, ec, section)
			if err != nil {
				secSpan.RecordError(err)
				secSpan.SetStatus(codes.Error, err.Error())
				var runErr *RunError
				if errors.As(err, &runErr) && runErr.Fatal() {
					return err
				}
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					o.logger.Printf("section %s: stopped by deadline", section.ID)
					return nil
				}
				return err
			}
			secSpan.SetStatus(codes.Ok, "completed")
			return nil
		})
	}
	return g.Wait()
}
