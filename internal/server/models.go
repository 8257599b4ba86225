package server

import (
	"time"

	"github.com/reportcraft/reportcraft/internal/report/core"
)

// DeepResearchRequest is the body of POST /api/research/deep.
type DeepResearchRequest struct {
	Topic            string   `json:"topic"`
	Objectives       []string `json:"objectives,omitempty"`
	PolicyMode       string   `json:"policy_mode,omitempty"`
	Required         []string `json:"required,omitempty"`
	Suggested        []string `json:"suggested,omitempty"`
	Exclusions       []string `json:"exclusions,omitempty"`
	DomainsWhitelist []string `json:"domains_whitelist,omitempty"`
	MinSources       int      `json:"min_sources,omitempty"`
	MaxSteps         int      `json:"max_steps,omitempty"`
	TimeoutSeconds   int      `json:"timeout_seconds,omitempty"`
}

// Query converts the request into the pipeline's query type.
func (r DeepResearchRequest) Query() core.Query {
	return core.Query{
		Topic:      r.Topic,
		Objectives: r.Objectives,
		Policy: core.SourcePolicy{
			Mode:             core.PolicyMode(r.PolicyMode),
			Required:         r.Required,
			Suggested:        r.Suggested,
			Exclusions:       r.Exclusions,
			DomainsWhitelist: r.DomainsWhitelist,
		},
		MinSources: r.MinSources,
		MaxSteps:   r.MaxSteps,
		Timeout:    time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// DeepResearchResponse wraps the report with its execution traces.
type DeepResearchResponse struct {
	Report core.Report    `json:"report"`
	Traces core.RunTraces `json:"traces"`
}
