package console

import (
	"regexp"
	"sync"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// RingBuffer is an append-only byte buffer bounded to MaxBytes, used to hold
// a session's recent stdout/stderr so watchers can pattern-match against it
// without re-reading the log file on every tick.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []byte
	maxBytes int
}

// NewRingBuffer creates a buffer capped at maxBytes.
func NewRingBuffer(maxBytes int) *RingBuffer {
	if maxBytes <= 0 {
		maxBytes = 64 * 1024
	}
	return &RingBuffer{maxBytes: maxBytes}
}

// Append adds bytes, trimming from the front if the cap is exceeded.
func (r *RingBuffer) Append(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, b...)
	if len(r.data) > r.maxBytes {
		r.data = r.data[len(r.data)-r.maxBytes:]
	}
}

// String returns a snapshot of the buffer's current contents.
func (r *RingBuffer) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return string(r.data)
}

// LastLines returns up to n trailing non-empty lines.
func (r *RingBuffer) LastLines(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := splitLines(string(r.data))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// sessionView adapts a *Handle to watcher.SessionView without the watcher
// package needing to know about console internals.
type sessionView struct {
	h *Handle
}

func (v sessionView) Status() statecore.SessionStatus { return v.h.Status() }
func (v sessionView) ExitCode() *int                  { return v.h.ExitCode() }
func (v sessionView) BufferContains(re *regexp.Regexp) (bool, []string) {
	content := v.h.Ring.String()
	if re.MatchString(content) {
		return true, v.h.Ring.LastLines(10)
	}
	return false, nil
}
