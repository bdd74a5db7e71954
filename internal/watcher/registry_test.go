package watcher

import (
	"regexp"
	"testing"
	"time"

	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

type fakeSession struct {
	status statecore.SessionStatus
	code   *int
	buf    string
}

func (f *fakeSession) Status() statecore.SessionStatus { return f.status }
func (f *fakeSession) ExitCode() *int                  { return f.code }
func (f *fakeSession) BufferContains(re *regexp.Regexp) (bool, []string) {
	if re.MatchString(f.buf) {
		return true, []string{f.buf}
	}
	return false, nil
}

func lookupFor(sessions map[string]*fakeSession) SessionLookup {
	return func(key string) (SessionView, bool) {
		s, ok := sessions[key]
		return s, ok
	}
}

// TestS5ConsoleWatcherPattern is spec.md §8 scenario S5.
func TestS5ConsoleWatcherPattern(t *testing.T) {
	sess := &fakeSession{status: statecore.SessionRunning, buf: ""}
	sessions := map[string]*fakeSession{"c_1": sess}
	clk := clock.NewManual(time.Unix(0, 0))
	r := New(lookupFor(sessions), clk)

	w := &statecore.Watcher{ID: "w1", SessionKey: "c_1", Mode: statecore.WatcherPattern, Pattern: "ready", Blocking: true, ToolUseID: "t1"}
	res, err := r.Register(w)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res != nil {
		t.Fatalf("expected async satisfaction, predicate not yet true")
	}

	r.Tick(clk.NowMs())
	select {
	case <-r.Results():
		t.Fatalf("watcher fired before predicate was true")
	default:
	}

	sess.buf = "ready\n"
	r.Tick(clk.NowMs())

	select {
	case got := <-r.Results():
		if got.WatcherID != "w1" || !got.Satisfied || len(got.LastLines) == 0 {
			t.Errorf("unexpected result: %+v", got)
		}
	default:
		t.Fatalf("expected a satisfied watcher result")
	}
}

func TestWatcherSingleFire(t *testing.T) {
	sess := &fakeSession{status: statecore.SessionRunning, buf: "ready"}
	sessions := map[string]*fakeSession{"c_1": sess}
	clk := clock.NewManual(time.Unix(0, 0))
	r := New(lookupFor(sessions), clk)

	w := &statecore.Watcher{ID: "w1", SessionKey: "c_1", Mode: statecore.WatcherPattern, Pattern: "ready"}
	fired := 0
	res, err := r.Register(w)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		fired++
	}
	for i := 0; i < 5; i++ {
		r.Tick(clk.NowMs())
		select {
		case <-r.Results():
			fired++
		default:
		}
	}
	if fired != 1 {
		t.Errorf("watcher fired %d times across repeated ticks, want exactly 1", fired)
	}
}

func TestPreCheckSynchronousSatisfaction(t *testing.T) {
	sess := &fakeSession{status: statecore.SessionFinished, code: intPtr(0)}
	sessions := map[string]*fakeSession{"c_1": sess}
	clk := clock.NewManual(time.Unix(0, 0))
	r := New(lookupFor(sessions), clk)

	w := &statecore.Watcher{ID: "w2", SessionKey: "c_1", Mode: statecore.WatcherExit}
	res, err := r.Register(w)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatalf("expected synchronous satisfaction since session already terminal")
	}
	if r.Outstanding() != 0 {
		t.Errorf("watcher should not be stored when already satisfied")
	}
}

func TestInvalidPatternRejected(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	r := New(lookupFor(nil), clk)
	w := &statecore.Watcher{ID: "w3", SessionKey: "c_1", Mode: statecore.WatcherPattern, Pattern: "("}
	_, err := r.Register(w)
	if err == nil {
		t.Fatalf("expected InvalidPattern error")
	}
}

func TestDeadlineTimeout(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	r := New(lookupFor(map[string]*fakeSession{}), clk)
	deadline := clk.NowMs() + 1000
	w := &statecore.Watcher{ID: "w4", SessionKey: "missing", Mode: statecore.WatcherExit, DeadlineMs: &deadline}
	if _, err := r.Register(w); err != nil {
		t.Fatal(err)
	}

	clk.Advance(2 * time.Second)
	r.Tick(clk.NowMs())

	select {
	case res := <-r.Results():
		if !res.TimedOut {
			t.Errorf("expected TimedOut result")
		}
	default:
		t.Fatalf("expected timeout delivery")
	}
}

func intPtr(i int) *int { return &i }
