package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/prompt"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

type scriptedClient struct {
	rounds [][]StreamEvent
	calls  int
	errs   []error
}

func (c *scriptedClient) Stream(ctx context.Context, req Request, events chan<- StreamEvent) error {
	i := c.calls
	c.calls++
	defer close(events)
	if i < len(c.errs) && c.errs[i] != nil {
		return c.errs[i]
	}
	for _, ev := range c.rounds[i] {
		events <- ev
	}
	return nil
}

func (c *scriptedClient) CheckAPI(ctx context.Context, model string) ApiCheckResult {
	return ApiCheckResult{AuthOK: true, StreamingOK: true, ToolsOK: true}
}

type fakeDispatcher struct {
	block bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error) {
	if d.block && tu.Name == "sleep" {
		return nil, ErrBlocked
	}
	return &statecore.ToolResultBlock{ToolUseID: tu.ID, Content: "ok"}, nil
}

var testModel = ModelInfo{APIName: "test-model", InputPricePerMtok: 1, OutputPricePerMtok: 1}

func simpleBuild(pending []statecore.ToolResultBlock) Request {
	return Request{Model: "test-model", APIMessages: []prompt.ApiMessage{{Role: "user", Content: []prompt.ContentBlock{{Type: "text", Text: "go"}}}}}
}

// TestRunEndsOnTextOnlyResponse covers the simplest Done transition: no
// tool_use events means the turn finishes immediately.
func TestRunEndsOnTextOnlyResponse(t *testing.T) {
	client := &scriptedClient{rounds: [][]StreamEvent{
		{{Type: EventChunk, Text: "hello"}, {Type: EventDone, InputTokens: 10, OutputTokens: 5}},
	}}
	s := statecore.New(0, 9, 0, 0)
	out := Run(context.Background(), client, &fakeDispatcher{}, s, simpleBuild, testModel, clock.Real{}, nil)

	if out.FinalState != StateDone {
		t.Fatalf("expected Done, got %s (err=%v)", out.FinalState, out.Err)
	}
	if out.AssistantText != "hello" {
		t.Errorf("unexpected text: %q", out.AssistantText)
	}
	if out.CostUSD <= 0 {
		t.Errorf("expected nonzero cost")
	}
}

// TestRunLoopsOnToolUseThenFinishes covers the two-round pattern: round 1
// returns a tool_use, dispatch succeeds synchronously, round 2 returns text.
func TestRunLoopsOnToolUseThenFinishes(t *testing.T) {
	client := &scriptedClient{rounds: [][]StreamEvent{
		{{Type: EventToolUse, ToolUse: statecore.ToolUse{ID: "tu_1", Name: "glob"}}, {Type: EventDone}},
		{{Type: EventChunk, Text: "done"}, {Type: EventDone}},
	}}
	s := statecore.New(0, 9, 0, 0)
	out := Run(context.Background(), client, &fakeDispatcher{}, s, simpleBuild, testModel, clock.Real{}, nil)

	if out.FinalState != StateDone || out.AssistantText != "done" {
		t.Fatalf("expected Done/'done', got %+v", out)
	}
	if client.calls != 2 {
		t.Errorf("expected 2 stream rounds, got %d", client.calls)
	}
}

// TestRunTransitionsToWaitingOnBlockedTool covers spec.md §4.6's blocking
// watcher sentinel: dispatch returning ErrBlocked stops the loop at
// Waiting without a further stream call.
func TestRunTransitionsToWaitingOnBlockedTool(t *testing.T) {
	client := &scriptedClient{rounds: [][]StreamEvent{
		{{Type: EventToolUse, ToolUse: statecore.ToolUse{ID: "tu_1", Name: "sleep"}}, {Type: EventDone}},
	}}
	s := statecore.New(0, 9, 0, 0)
	out := Run(context.Background(), client, &fakeDispatcher{block: true}, s, simpleBuild, testModel, clock.Real{}, nil)

	if out.FinalState != StateWaiting {
		t.Fatalf("expected Waiting, got %s", out.FinalState)
	}
	if client.calls != 1 {
		t.Errorf("expected exactly 1 stream round before blocking, got %d", client.calls)
	}
}

// TestRunRetriesTransientErrorThenSucceeds covers the retry/backoff path;
// the backoff waits in real time (Run does not use the clock it is given).
// The transient error must not surface as Error as long as retries remain.
func TestRunRetriesTransientErrorThenSucceeds(t *testing.T) {
	client := &scriptedClient{
		errs:   []error{errors.New("connection reset"), nil},
		rounds: [][]StreamEvent{nil, {{Type: EventChunk, Text: "ok"}, {Type: EventDone}}},
	}
	s := statecore.New(0, 9, 0, 0)
	out := Run(context.Background(), client, &fakeDispatcher{}, s, simpleBuild, testModel, clock.Real{}, nil)

	if out.FinalState != StateDone {
		t.Fatalf("expected eventual Done, got %s (err=%v)", out.FinalState, out.Err)
	}
	if s.APIRetryCount != 0 {
		t.Errorf("expected retry counter reset after success, got %d", s.APIRetryCount)
	}
}

// TestRunSurfacesPermanentError covers the non-retryable path: an
// ErrPermanent-wrapped failure surfaces immediately as Error.
func TestRunSurfacesPermanentError(t *testing.T) {
	permErr := errors.New("invalid api key")
	wrapped := errors.Join(ErrPermanent, permErr)
	client := &scriptedClient{errs: []error{wrapped}, rounds: [][]StreamEvent{nil}}
	s := statecore.New(0, 9, 0, 0)
	out := Run(context.Background(), client, &fakeDispatcher{}, s, simpleBuild, testModel, clock.Real{}, nil)

	if out.FinalState != StateError {
		t.Fatalf("expected Error, got %s", out.FinalState)
	}
	if client.calls != 1 {
		t.Errorf("expected no retries for a permanent error, got %d calls", client.calls)
	}
}

type fakeGuard struct {
	blocked bool
	reason  string
	charged float64
}

func (g *fakeGuard) Allow(s *statecore.State) (bool, string) {
	if g.blocked {
		return false, g.reason
	}
	return true, ""
}

func (g *fakeGuard) Record(s *statecore.State, costUSD float64) error {
	g.charged += costUSD
	return nil
}

// TestRunBlockedByGuardRailSkipsNetwork covers C8's cost-cap gate: a
// tripped guard rail surfaces as Error before any Stream call is made.
func TestRunBlockedByGuardRailSkipsNetwork(t *testing.T) {
	client := &scriptedClient{rounds: [][]StreamEvent{{{Type: EventDone}}}}
	s := statecore.New(0, 9, 0, 0)
	g := &fakeGuard{blocked: true, reason: "cost cap exceeded"}
	out := Run(context.Background(), client, &fakeDispatcher{}, s, simpleBuild, testModel, clock.Real{}, g)

	if out.FinalState != StateError {
		t.Fatalf("expected Error, got %s", out.FinalState)
	}
	if client.calls != 0 {
		t.Errorf("expected no stream calls once guard rail is tripped, got %d", client.calls)
	}
}

// TestRunChargesGuardRailOnCompletion covers the charge-after-success path.
func TestRunChargesGuardRailOnCompletion(t *testing.T) {
	client := &scriptedClient{rounds: [][]StreamEvent{
		{{Type: EventChunk, Text: "hi"}, {Type: EventDone, InputTokens: 10, OutputTokens: 5}},
	}}
	s := statecore.New(0, 9, 0, 0)
	g := &fakeGuard{}
	out := Run(context.Background(), client, &fakeDispatcher{}, s, simpleBuild, testModel, clock.Real{}, g)

	if out.FinalState != StateDone {
		t.Fatalf("expected Done, got %s", out.FinalState)
	}
	if g.charged != out.CostUSD {
		t.Errorf("expected guard rail charged %v, got %v", out.CostUSD, g.charged)
	}
}

func TestShouldAutoContinue(t *testing.T) {
	if !ShouldAutoContinue(true, "end_turn", 2, 0, 5) {
		t.Error("expected auto-continue to fire")
	}
	if ShouldAutoContinue(false, "end_turn", 2, 0, 5) {
		t.Error("disabled mode must not continue")
	}
	if ShouldAutoContinue(true, "end_turn", 0, 0, 5) {
		t.Error("no remaining todos must not continue")
	}
	if ShouldAutoContinue(true, "end_turn", 2, 5, 5) {
		t.Error("cap must be respected")
	}
}
