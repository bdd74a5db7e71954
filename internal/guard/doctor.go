package guard

import (
	"context"
	"fmt"

	"github.com/contextpilot/contextpilot/internal/llm"
)

// ProviderCheck names one provider/model pair the doctor should probe.
type ProviderCheck struct {
	Name   string
	Client llm.Client
	Model  string
}

// CheckResult is one provider's outcome, rendered by the doctor CLI
// command (spec.md §4.10's "contextpilot doctor" surface).
type CheckResult struct {
	Name   string
	Result llm.ApiCheckResult
}

// RunDoctor exercises every configured provider's CheckAPI and returns one
// CheckResult per provider, in the order given.
func RunDoctor(ctx context.Context, checks []ProviderCheck) []CheckResult {
	out := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		out = append(out, CheckResult{Name: c.Name, Result: c.Client.CheckAPI(ctx, c.Model)})
	}
	return out
}

// Summary renders a human-readable line per provider, matching the
// three-part auth/streaming/tools check spec.md's doctor surface reports.
func Summary(results []CheckResult) string {
	var out string
	for _, r := range results {
		status := "OK"
		if !r.Result.AllOK() {
			status = "FAILED"
		}
		out += fmt.Sprintf("%-14s auth=%-5v streaming=%-5v tools=%-5v %s",
			r.Name, r.Result.AuthOK, r.Result.StreamingOK, r.Result.ToolsOK, status)
		if r.Result.Err != nil {
			out += fmt.Sprintf(" (%s)", r.Result.Err)
		}
		out += "\n"
	}
	return out
}
