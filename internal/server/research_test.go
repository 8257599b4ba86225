package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reportcraft/reportcraft/internal/report/core"
)

type stubBuilder struct {
	gotQuery core.Query
	report   core.Report
	traces   core.RunTraces
	err      error
}

func (s *stubBuilder) BuildReport(ctx context.Context, query core.Query) (core.Report, core.RunTraces, error) {
	s.gotQuery = query
	return s.report, s.traces, s.err
}

func performDeep(t *testing.T, stub *stubBuilder, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := newEcho()
	h := &ResearchHandler{Orch: stub}
	h.Register(e.Group("/api/research"))

	req := httptest.NewRequest(http.MethodPost, "/api/research/deep", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestDeepResearchOK(t *testing.T) {
	stub := &stubBuilder{
		report: core.Report{ID: "r1", Topic: "solar", Summary: "Sum."},
		traces: core.RunTraces{Planning: []core.StepRecord{{Phase: "planning", Message: "ok"}}},
	}
	rec := performDeep(t, stub, `{
		"topic": "solar",
		"policy_mode": "prefer-suggested",
		"suggested": ["https://a.com/1"],
		"timeout_seconds": 120
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp DeepResearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Report.ID != "r1" || len(resp.Traces.Planning) != 1 {
		t.Fatalf("response = %+v", resp)
	}

	if stub.gotQuery.Policy.Mode != core.PolicyPreferSuggested {
		t.Fatalf("policy mode = %s", stub.gotQuery.Policy.Mode)
	}
	if stub.gotQuery.Timeout.Seconds() != 120 {
		t.Fatalf("timeout = %v", stub.gotQuery.Timeout)
	}
}

func TestDeepResearchMissingTopic(t *testing.T) {
	rec := performDeep(t, &stubBuilder{}, `{"topic": "  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeepResearchErrorMapping(t *testing.T) {
	cases := []struct {
		kind core.ErrorKind
		want int
	}{
		{core.KindPolicyViolation, http.StatusUnprocessableEntity},
		{core.KindEmptyResult, http.StatusBadGateway},
		{core.KindGenerationTimeout, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		stub := &stubBuilder{err: &core.RunError{Kind: tc.kind, Err: context.DeadlineExceeded}}
		rec := performDeep(t, stub, `{"topic": "solar"}`)
		if rec.Code != tc.want {
			t.Fatalf("kind %s: status = %d, want %d", tc.kind, rec.Code, tc.want)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("error body not JSON: %v", err)
		}
		if body["error"] == "" {
			t.Fatalf("empty error message for %s", tc.kind)
		}
	}
}
