package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reportcraft/reportcraft/config"
	"github.com/reportcraft/reportcraft/internal/report/core"
	"github.com/reportcraft/reportcraft/internal/report/telemetry"
)

func researchCMD() *cobra.Command {
	var (
		cfgPath    string
		outPath    string
		policyMode string
		required   []string
		suggested  []string
		exclusions []string
		whitelist  []string
		timeout    time.Duration
		withTraces bool
	)
	var research = &cobra.Command{
		Use:   "research <topic>",
		Short: "Build one report and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
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

			query := core.Query{
				Topic: args[0],
				Policy: core.SourcePolicy{
					Mode:             core.PolicyMode(policyMode),
					Required:         required,
					Suggested:        suggested,
					Exclusions:       exclusions,
					DomainsWhitelist: whitelist,
				},
				Timeout: timeout,
			}

			report, traces, err := orch.BuildReport(context.Background(), query)
			if err != nil {
				return err
			}

			var payload interface{} = report
			if withTraces {
				payload = struct {
					Report core.Report    `json:"report"`
					Traces core.RunTraces `json:"traces"`
				}{report, traces}
			}
			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			if outPath != "" {
				return os.WriteFile(outPath, append(out, '\n'), 0o644)
			}
			fmt.Println(string(out))
			return nil
		},
	}
	research.Flags().StringVarP(&outPath, "out", "o", "", "write the report to a file instead of stdout")
	research.Flags().StringVar(&policyMode, "policy-mode", "", "source policy mode: complement, prefer-suggested, exclusive")
	research.Flags().StringSliceVar(&required, "required", nil, "URLs that must appear in the report")
	research.Flags().StringSliceVar(&suggested, "suggested", nil, "URLs to prefer during research")
	research.Flags().StringSliceVar(&exclusions, "exclude", nil, "URL prefixes or domains to reject")
	research.Flags().StringSliceVar(&whitelist, "domains", nil, "restrict discovered sources to these domains")
	research.Flags().DurationVar(&timeout, "timeout", 0, "run timeout (default from config)")
	research.Flags().BoolVar(&withTraces, "traces", false, "include phase traces in the output")
	research.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return research
}
