package core

// Prompt templates for the planning engine. Both prompts demand raw JSON;
// responses are still run through helpers.ExtractJSON because models wrap
// output in fences or prose anyway.

const complexityPromptTemplate = `You are assessing how complex a research report request is.

Request topic: %s
Stated objectives: %s
Sub-topics found during exploration: %s
Source richness: %s

Score the request on five dimensions, each an integer or decimal from 1 (trivial) to 5 (very demanding):
- subject_breadth: how many distinct facets the topic spans
- specificity: how precise and narrow the request is (precise = low)
- format: how demanding the expected output structure is
- temporal_depth: how much historical or forward-looking coverage is needed
- interconnection: how much the facets depend on each other

Respond with only a JSON object:
{
  "subject_breadth": <1-5>,
  "specificity": <1-5>,
  "format": <1-5>,
  "temporal_depth": <1-5>,
  "interconnection": <1-5>,
  "rationale": "<one sentence>"
}`

const sectionPlanPromptTemplate = `You are planning the sections of a research report.

Topic: %s
Objectives: %s
Sub-topics from exploration: %s
Source richness: %s

Plan between %d and %d sections. Each section needs:
- title: short heading
- objective: one sentence describing what the section must establish
- key_questions: two or three concrete questions the section must answer
- depth: one of "light", "moderate", "deep" (how much research it needs)
- relation: how it connects to the NEXT section, one of "leads_into", "contrasts_with", "elaborates" (omit for the last section)

Order sections so the report reads as one narrative. Respond with only a JSON object:
{
  "sections": [
    {"title": "...", "objective": "...", "key_questions": ["..."], "depth": "moderate", "relation": "leads_into"}
  ]
}`
