package console

import (
	"path/filepath"
	"testing"
	"time"
)

func startTestDaemon(t *testing.T) (*Client, func()) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "server.sock")
	pidPath := filepath.Join(dir, "server.pid")
	d := NewDaemon(sock, pidPath, noopLogger{})

	go func() { _ = d.Serve() }()
	// Give the listener a moment to bind.
	var client *Client
	var err error
	for i := 0; i < 50; i++ {
		client, err = Dial(sock)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dialing daemon: %v", err)
	}
	return client, func() { client.Close() }
}

type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

func TestDaemonCreateSendStatus(t *testing.T) {
	client, cleanup := startTestDaemon(t)
	defer cleanup()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "c1.log")
	resp, err := client.Create("c_1", "printf ready; sleep 2", dir, logPath)
	if err != nil || !resp.OK {
		t.Fatalf("Create: %v, %+v", err, resp)
	}
	if resp.PID == 0 {
		t.Fatalf("expected non-zero PID")
	}

	time.Sleep(200 * time.Millisecond)
	status, err := client.Status("c_1")
	if err != nil || !status.OK {
		t.Fatalf("Status: %v, %+v", err, status)
	}
}

func TestDaemonKillIsSticky(t *testing.T) {
	client, cleanup := startTestDaemon(t)
	defer cleanup()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "c1.log")
	if _, err := client.Create("c_1", "sleep 5", dir, logPath); err != nil {
		t.Fatal(err)
	}

	resp, err := client.Kill("c_1")
	if err != nil || !resp.OK {
		t.Fatalf("Kill: %v, %+v", err, resp)
	}

	time.Sleep(50 * time.Millisecond)
	status, err := client.Status("c_1")
	if err != nil || status.Status == "running" {
		t.Fatalf("expected terminal status after kill, got %+v", status)
	}
}

func TestDaemonListAndRemove(t *testing.T) {
	client, cleanup := startTestDaemon(t)
	defer cleanup()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "c1.log")
	if _, err := client.Create("c_1", "sleep 5", dir, logPath); err != nil {
		t.Fatal(err)
	}

	list, err := client.List()
	if err != nil || !list.OK || len(list.Sessions) != 1 {
		t.Fatalf("List: %v, %+v", err, list)
	}

	if _, err := client.Remove("c_1"); err != nil {
		t.Fatal(err)
	}
	list, err = client.List()
	if err != nil || len(list.Sessions) != 0 {
		t.Fatalf("expected empty session list after remove, got %+v", list)
	}
}
