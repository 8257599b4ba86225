package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/report/core"
)

// ReportBuilder is the slice of the orchestrator the handler needs.
type ReportBuilder interface {
	BuildReport(ctx context.Context, query core.Query) (core.Report, core.RunTraces, error)
}

// ResearchHandler exposes the report pipeline over HTTP.
type ResearchHandler struct {
	Orch   ReportBuilder
	Config *config.Config
	Logger *log.Logger
}

// Register mounts the research routes on the given group.
func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/deep", h.deep)
}

// deep runs the full pipeline synchronously and returns the assembled
// report plus phase traces. Pipeline error kinds map onto HTTP statuses.
func (h *ResearchHandler) deep(c echo.Context) error {
	var req DeepResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	report, traces, err := h.Orch.BuildReport(c.Request().Context(), req.Query())
	if err != nil {
		var runErr *core.RunError
		if errors.As(err, &runErr) {
			switch runErr.Kind {
			case core.KindPolicyViolation:
				return echo.NewHTTPError(http.StatusUnprocessableEntity, runErr.Error())
			case core.KindEmptyResult:
				return echo.NewHTTPError(http.StatusBadGateway, runErr.Error())
			case core.KindGenerationTimeout:
				return echo.NewHTTPError(http.StatusGatewayTimeout, runErr.Error())
			}
		}
		return err
	}
	return c.JSON(http.StatusOK, DeepResearchResponse{Report: report, Traces: traces})
}
