package guard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/contextpilot/contextpilot/internal/llm"
)

type fakeProviderClient struct {
	result llm.ApiCheckResult
}

func (c *fakeProviderClient) Stream(ctx context.Context, req llm.Request, events chan<- llm.StreamEvent) error {
	close(events)
	return nil
}

func (c *fakeProviderClient) CheckAPI(ctx context.Context, model string) llm.ApiCheckResult {
	return c.result
}

func TestRunDoctorReportsEachProvider(t *testing.T) {
	checks := []ProviderCheck{
		{Name: "anthropic", Client: &fakeProviderClient{result: llm.ApiCheckResult{AuthOK: true, StreamingOK: true, ToolsOK: true}}, Model: "claude-sonnet"},
		{Name: "openaicompat", Client: &fakeProviderClient{result: llm.ApiCheckResult{AuthOK: false, Err: errors.New("401")}}, Model: "gpt"},
	}
	results := RunDoctor(context.Background(), checks)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Result.AllOK() {
		t.Error("expected anthropic check to pass")
	}
	if results[1].Result.AllOK() {
		t.Error("expected openaicompat check to fail")
	}

	summary := Summary(results)
	if !strings.Contains(summary, "anthropic") || !strings.Contains(summary, "openaicompat") {
		t.Errorf("expected summary to name both providers, got:\n%s", summary)
	}
	if !strings.Contains(summary, "FAILED") {
		t.Errorf("expected summary to flag the failing provider, got:\n%s", summary)
	}
}
