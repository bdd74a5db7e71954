package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

// TurnState is one state in the C6 state machine (spec.md §4.6).
type TurnState string

const (
	StateIdle         TurnState = "idle"
	StateStreaming    TurnState = "streaming"
	StateToolsPending TurnState = "tools_pending"
	StateWaiting      TurnState = "waiting"
	StateDone         TurnState = "done"
	StateError        TurnState = "error"
)

const (
	maxRetries             = 5
	baseBackoff            = 500 * time.Millisecond
	maxBackoff             = 30 * time.Second
	defaultAutoContinueCap = 5
)

// ErrBlocked is returned by Dispatcher.Dispatch meaning "I registered a
// blocking watcher — do not produce a result yet" (spec.md §4.6's sentinel).
var ErrBlocked = errors.New("tool call blocked on watcher")

// ErrPermanent wraps an error to mark it non-retryable (auth failures,
// invalid model names, malformed requests).
var ErrPermanent = errors.New("permanent llm error")

// Dispatcher routes a tool_use to C7 and either returns a result
// synchronously or ErrBlocked when resumption will happen later via a
// watcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, tu statecore.ToolUse, s *statecore.State) (*statecore.ToolResultBlock, error)
}

// RequestBuilder constructs the next outbound Request given the tool
// results accumulated so far this turn (empty on the first call). This
// keeps C6 decoupled from C5: the caller re-runs prompt.Assemble with the
// growing Message log rather than this package mutating prompt state.
type RequestBuilder func(pendingResults []statecore.ToolResultBlock) Request

// CostGuard is the subset of internal/guard.CostCap the turn loop needs:
// a pre-flight check before streaming, and a post-flight charge once a
// turn's token usage is known. Declared here (not imported) to keep C6
// decoupled from C8 the same way RequestBuilder decouples it from C5.
type CostGuard interface {
	Allow(s *statecore.State) (bool, string)
	Record(s *statecore.State, costUSD float64) error
}

// Outcome is the terminal result of one call to Run.
type Outcome struct {
	FinalState      TurnState
	AssistantText   string
	ToolUses        []statecore.ToolUse
	PendingResults  []statecore.ToolResultBlock
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
	CostUSD         float64
	StopReason      string
	Err             error
}

// isRetryable mirrors spec.md §4.6: transient network/5xx errors retry,
// auth/invalid-model errors surface immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermanent)
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Run drives one full turn per spec.md §4.6: stream a request, dispatch any
// tool_use events through the Dispatcher, and — once every tool_use for the
// current assistant message has a result — ask build for a follow-up
// Request and stream again. Returns once the model stops without further
// tool calls (Done), a blocking watcher interrupts the batch (Waiting), the
// context is cancelled (cancellation, per spec.md §4.6), or retries are
// exhausted (Error). Before every request it consults guard (nil means no
// cap configured): a tripped guard rail surfaces as StateError without
// touching the network, per spec.md §4.8's cost-cap invariant.
func Run(ctx context.Context, client Client, dispatcher Dispatcher, s *statecore.State, build RequestBuilder, model ModelInfo, clk clock.Clock, guardRail CostGuard) Outcome {
	retryCount := 0
	var pendingResults []statecore.ToolResultBlock

	for {
		if guardRail != nil {
			if ok, reason := guardRail.Allow(s); !ok {
				return Outcome{FinalState: StateError, Err: fmt.Errorf("guard rail blocked: %s", reason)}
			}
		}

		req := build(pendingResults)
		events := make(chan StreamEvent, 64)
		streamErrCh := make(chan error, 1)
		go func() {
			streamErrCh <- client.Stream(ctx, req, events)
		}()

		var text string
		var toolUses []statecore.ToolUse
		var inputTokens, outputTokens, cacheReadTokens int
		var streamFailed error

	drain:
		for {
			select {
			case <-ctx.Done():
				return Outcome{FinalState: StateIdle, Err: ctx.Err()}
			case ev, ok := <-events:
				if !ok {
					break drain
				}
				switch ev.Type {
				case EventChunk:
					text += ev.Text
				case EventToolUse:
					toolUses = append(toolUses, ev.ToolUse)
				case EventDone:
					inputTokens, outputTokens, cacheReadTokens = ev.InputTokens, ev.OutputTokens, ev.CacheReadTokens
				case EventError:
					streamFailed = ev.Err
				}
			}
		}

		if err := <-streamErrCh; err != nil {
			streamFailed = err
		}

		if streamFailed != nil {
			if isRetryable(streamFailed) && retryCount < maxRetries {
				retryCount++
				s.APIRetryCount = retryCount
				select {
				case <-ctx.Done():
					return Outcome{FinalState: StateIdle, Err: ctx.Err()}
				case <-time.After(backoffDelay(retryCount)):
				}
				continue
			}
			return Outcome{FinalState: StateError, Err: fmt.Errorf("llm stream failed: %w", streamFailed)}
		}

		// A stream that completes without error resets the retry counter.
		retryCount = 0
		s.APIRetryCount = 0
		pendingResults = nil

		cost := EstimateCostUSD(model, inputTokens, outputTokens)
		if guardRail != nil {
			_ = guardRail.Record(s, cost)
		}

		if len(toolUses) == 0 {
			return Outcome{
				FinalState: StateDone, AssistantText: text,
				InputTokens: inputTokens, OutputTokens: outputTokens, CacheReadTokens: cacheReadTokens,
				CostUSD: cost, StopReason: "end_turn",
			}
		}

		results, blocked := dispatchAll(ctx, dispatcher, toolUses, s)
		if blocked {
			return Outcome{
				FinalState: StateWaiting, AssistantText: text, ToolUses: toolUses, PendingResults: results,
				InputTokens: inputTokens, OutputTokens: outputTokens, CacheReadTokens: cacheReadTokens,
				CostUSD: cost, StopReason: "tool_use",
			}
		}
		pendingResults = results
	}
}

// dispatchAll submits every tool_use to the dispatcher. If any call reports
// ErrBlocked, the turn transitions to Waiting; results gathered for the
// tool_uses processed before the block are returned so the caller can
// register a watcher-resume continuation once it fires.
func dispatchAll(ctx context.Context, d Dispatcher, uses []statecore.ToolUse, s *statecore.State) ([]statecore.ToolResultBlock, bool) {
	results := make([]statecore.ToolResultBlock, 0, len(uses))
	for _, tu := range uses {
		res, err := d.Dispatch(ctx, tu, s)
		if errors.Is(err, ErrBlocked) {
			return results, true
		}
		if err != nil {
			results = append(results, statecore.ToolResultBlock{ToolUseID: tu.ID, Content: err.Error(), IsError: true})
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, false
}

// ShouldAutoContinue implements spec.md §4.6's auto-continue mode: when
// enabled and the model ended its turn while at least one todo is
// non-done, it signals that an empty nudge should be submitted, bounded by
// cap.
func ShouldAutoContinue(enabled bool, stopReason string, todosRemaining int, continuationsSoFar int, cap int) bool {
	if cap <= 0 {
		cap = defaultAutoContinueCap
	}
	return enabled && stopReason == "end_turn" && todosRemaining > 0 && continuationsSoFar < cap
}
