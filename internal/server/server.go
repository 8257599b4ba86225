package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/report/core"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

// Run wires the pipeline behind an echo API and blocks serving it.
func Run(cfg *config.Config, addr string) error {
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	llm, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}
	search, err := core.NewSearchProvider(cfg.Search)
	if err != nil {
		return fmt.Errorf("search provider: %w", err)
	}
	extractor, err := core.NewExtractor(cfg.Extract)
	if err != nil {
		return fmt.Errorf("extractor: %w", err)
	}
	orch := core.NewOrchestrator(cfg, llm, search, extractor, tele)

	e := newEcho()
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	rh := &ResearchHandler{Orch: orch, Config: cfg}
	rh.Register(e.Group("/api/research"))

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10010"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with the shared middleware stack and the
// unified JSON error handler.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	return e
}
