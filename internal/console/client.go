package console

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/contextpilot/contextpilot/internal/statecore"
)

// Client is the TUI-side connection to the daemon's Unix domain socket.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *bufio.Scanner
}

// Dial connects to the daemon's socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Client{conn: conn, enc: json.NewEncoder(conn), dec: scanner}, nil
}

func (c *Client) roundTrip(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(req); err != nil {
		return Response{}, err
	}
	if !c.dec.Scan() {
		return Response{}, fmt.Errorf("daemon closed connection: %w", c.dec.Err())
	}
	var resp Response
	if err := json.Unmarshal(c.dec.Bytes(), &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Create asks the daemon to spawn a new session.
func (c *Client) Create(key, command, cwd, logPath string) (Response, error) {
	return c.roundTrip(Request{Cmd: "create", Key: key, Command: command, Cwd: cwd, LogPath: logPath})
}

// Send writes input to a session's stdin.
func (c *Client) Send(key, input string) (Response, error) {
	return c.roundTrip(Request{Cmd: "send", Key: key, Input: input})
}

// Kill terminates a session.
func (c *Client) Kill(key string) (Response, error) {
	return c.roundTrip(Request{Cmd: "kill", Key: key})
}

// Remove kills (if alive) and forgets a session.
func (c *Client) Remove(key string) (Response, error) {
	return c.roundTrip(Request{Cmd: "remove", Key: key})
}

// Status queries a session's current status.
func (c *Client) Status(key string) (Response, error) {
	return c.roundTrip(Request{Cmd: "status", Key: key})
}

// List returns every session the daemon currently tracks.
func (c *Client) List() (Response, error) {
	return c.roundTrip(Request{Cmd: "list"})
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	resp, err := c.roundTrip(Request{Cmd: "ping"})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("ping failed: %s", resp.Error)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// SessionHandle mirrors the daemon-side Handle on the TUI side, adding two
// duties the daemon doesn't need: reattaching by PID+log-path after a TUI
// restart, and its own tailer feeding a local ring buffer so watchers see
// live output without round-tripping through the daemon on every tick
// (spec.md §4.4).
type SessionHandle struct {
	Key      string
	client   *Client
	LogPath  string
	PID      int
	Ring     *RingBuffer
	stopTail chan struct{}

	statusMu sync.RWMutex
	status   statecore.SessionStatus
	exitCode *int
}

// NewSessionHandle wraps a freshly created session.
func NewSessionHandle(client *Client, key, logPath string, pid int) *SessionHandle {
	h := &SessionHandle{Key: key, client: client, LogPath: logPath, PID: pid, Ring: NewRingBuffer(64 * 1024),
		status: statecore.SessionRunning}
	h.startTail(0)
	h.startStatusPoll()
	return h
}

// Reattach reconnects to an existing daemon-managed session after a TUI
// restart: the ring buffer is repopulated by reading the existing log file
// from offset 0, then the tailer continues from the current file length
// (spec.md §9's console-reconnect design note).
func Reattach(client *Client, key, logPath string, pid int) (*SessionHandle, error) {
	h := &SessionHandle{Key: key, client: client, LogPath: logPath, PID: pid, Ring: NewRingBuffer(64 * 1024),
		status: statecore.SessionRunning}

	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("opening log for reattach: %w", err)
	}
	data, err := readAll(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("reading log for reattach: %w", err)
	}
	h.Ring.Append(data)
	h.startTail(int64(len(data)))
	h.startStatusPoll()
	return h, nil
}

func readAll(f *os.File) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return out, nil
}

func (h *SessionHandle) startTail(fromOffset int64) {
	h.stopTail = make(chan struct{})
	go func(offset int64) {
		f, err := os.Open(h.LogPath)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.Seek(offset, 0)
		buf := make([]byte, 4096)
		for {
			select {
			case <-h.stopTail:
				return
			default:
			}
			n, err := f.Read(buf)
			if n > 0 {
				h.Ring.Append(buf[:n])
			}
			if err != nil {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}(fromOffset)
}

// Status reports the session's current status by asking the daemon, and
// updates the locally cached status consulted by View().
func (h *SessionHandle) Status() (statecore.SessionStatus, *int, error) {
	resp, err := h.client.Status(h.Key)
	if err != nil {
		return "", nil, err
	}
	if !resp.OK {
		return "", nil, fmt.Errorf("%s", resp.Error)
	}
	status := statecore.SessionStatus(resp.Status)
	h.setCachedStatus(status, resp.ExitCode)
	return status, resp.ExitCode, nil
}

func (h *SessionHandle) setCachedStatus(status statecore.SessionStatus, exitCode *int) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	h.status = status
	h.exitCode = exitCode
}

func (h *SessionHandle) cachedStatus() (statecore.SessionStatus, *int) {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status, h.exitCode
}

// startStatusPoll refreshes the cached status every 250ms until the session
// reaches a terminal state, so watcher.Registry.Tick can evaluate exit
// conditions without round-tripping to the daemon on every call.
func (h *SessionHandle) startStatusPoll() {
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopTail:
				return
			case <-ticker.C:
				status, _, err := h.Status()
				if err == nil && status.IsTerminal() {
					return
				}
			}
		}
	}()
}

// View adapts h to watcher.SessionView using the locally cached status and
// in-memory ring buffer, avoiding a daemon round-trip per watcher tick.
func (h *SessionHandle) View() handleView { return handleView{h} }

type handleView struct{ h *SessionHandle }

func (v handleView) Status() statecore.SessionStatus {
	status, _ := v.h.cachedStatus()
	return status
}

func (v handleView) ExitCode() *int {
	_, code := v.h.cachedStatus()
	return code
}

func (v handleView) BufferContains(re *regexp.Regexp) (bool, []string) {
	content := v.h.Ring.String()
	if re.MatchString(content) {
		return true, v.h.Ring.LastLines(10)
	}
	return false, nil
}

// Close stops the local tailer and status-poll goroutines. Does not kill the
// daemon session.
func (h *SessionHandle) Close() {
	close(h.stopTail)
}
