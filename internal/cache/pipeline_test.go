package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/contextpilot/contextpilot/internal/clock"
	"github.com/contextpilot/contextpilot/internal/panel"
	"github.com/contextpilot/contextpilot/internal/statecore"
)

func fileWorker(ctx context.Context, req Request) Result {
	data, err := os.ReadFile(req.Metadata["path"])
	if err != nil {
		return Result{PanelID: req.PanelID, Err: err}
	}
	return Result{PanelID: req.PanelID, Content: string(data)}
}

func newFilePanelRegistry() *panel.Registry {
	r := panel.NewRegistry()
	_ = r.Register(panel.Descriptor{
		Kind:       statecore.PanelFile,
		NeedsCache: true,
		New: func(md map[string]string) *statecore.ContextElement {
			return &statecore.ContextElement{DisplayName: md["path"]}
		},
	})
	r.Freeze()
	return r
}

// TestS1PanelRefreshFlow is spec.md §8 scenario S1.
func TestS1PanelRefreshFlow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	reg := newFilePanelRegistry()
	clk := clock.NewManual(time.Unix(0, 0))
	p := New(reg, 2, clk)
	p.RegisterWorker(statecore.PanelFile, fileWorker)

	s := statecore.New(0, 0, 0, 0)
	el, err := reg.CreateDynamicPanel(s, statecore.PanelFile, map[string]string{"path": path})
	if err != nil {
		t.Fatal(err)
	}

	p.Tick(context.Background(), s)
	p.Wait()
	for len(p.Updates()) > 0 {
		p.Apply(s, <-p.Updates())
	}

	if el.CachedContent == nil || *el.CachedContent != "a" {
		t.Fatalf("expected cached content 'a', got %v", el.CachedContent)
	}
	if el.CacheDeprecated {
		t.Errorf("panel should not be deprecated after refresh")
	}

	if err := os.WriteFile(path, []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}
	el.MarkDeprecated()
	clk.Advance(time.Second)

	p.Tick(context.Background(), s)
	p.Wait()
	for len(p.Updates()) > 0 {
		p.Apply(s, <-p.Updates())
	}

	if el.CachedContent == nil || *el.CachedContent != "b" {
		t.Fatalf("expected cached content 'b', got %v", el.CachedContent)
	}
}

func TestHashIdempotence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(path, []byte("stable"), 0644); err != nil {
		t.Fatal(err)
	}

	reg := newFilePanelRegistry()
	clk := clock.NewManual(time.Unix(0, 0))
	p := New(reg, 2, clk)
	p.RegisterWorker(statecore.PanelFile, fileWorker)

	s := statecore.New(0, 0, 0, 0)
	el, _ := reg.CreateDynamicPanel(s, statecore.PanelFile, map[string]string{"path": path})

	p.Tick(context.Background(), s)
	p.Wait()
	p.Apply(s, <-p.Updates())
	firstHash := el.ContentHash

	el.MarkDeprecated()
	p.Tick(context.Background(), s)
	p.Wait()
	p.Apply(s, <-p.Updates())

	if el.ContentHash != firstHash {
		t.Errorf("hash changed for unchanged content: %s -> %s", firstHash, el.ContentHash)
	}
}

func TestCacheAtMostOneInFlight(t *testing.T) {
	reg := newFilePanelRegistry()
	clk := clock.NewManual(time.Unix(0, 0))
	p := New(reg, 4, clk)
	blockCh := make(chan struct{})
	p.RegisterWorker(statecore.PanelFile, func(ctx context.Context, req Request) Result {
		<-blockCh
		return Result{PanelID: req.PanelID, Content: "x"}
	})

	s := statecore.New(0, 0, 0, 0)
	el, _ := reg.CreateDynamicPanel(s, statecore.PanelFile, map[string]string{"path": "/x"})

	p.Tick(context.Background(), s) // dispatches once, sets cache_in_flight
	p.Tick(context.Background(), s) // should see cache_in_flight and skip

	if !el.CacheInFlight {
		t.Fatalf("expected cache_in_flight to be set")
	}
	close(blockCh)
	p.Wait()
	p.Apply(s, <-p.Updates())
	if el.CacheInFlight {
		t.Errorf("expected cache_in_flight cleared after apply")
	}
}

func TestOversizedContentSentinel(t *testing.T) {
	big := make([]byte, MaxContentBytes+10)
	for i := range big {
		big[i] = 'x'
	}
	reg := newFilePanelRegistry()
	clk := clock.NewManual(time.Unix(0, 0))
	p := New(reg, 1, clk)
	p.RegisterWorker(statecore.PanelFile, func(ctx context.Context, req Request) Result {
		return Result{PanelID: req.PanelID, Content: string(big)}
	})

	s := statecore.New(0, 0, 0, 0)
	el, _ := reg.CreateDynamicPanel(s, statecore.PanelFile, map[string]string{"path": "/big"})
	p.Tick(context.Background(), s)
	p.Wait()
	p.Apply(s, <-p.Updates())

	if el.CachedContent == nil || len(*el.CachedContent) >= MaxContentBytes {
		t.Fatalf("expected sentinel content, got len=%d", len(*el.CachedContent))
	}
}
