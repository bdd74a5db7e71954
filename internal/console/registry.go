package console

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFile returns the tracking file path for a session key under root's
// .runtime/pids directory. Grounded on the provenance repo's
// internal/session/pidtrack.go, which keeps a defense-in-depth PID record
// on disk in case the primary kill mechanism misses a reparented child.
func pidFile(root, key string) string {
	return filepath.Join(root, ".runtime", "pids", key+".pid")
}

// TrackPID writes a PID tracking file for a session, recording the
// process's start time when available so a later cleanup pass can detect
// PID reuse before signaling the wrong process.
func TrackPID(root, key string, pid int) error {
	dir := filepath.Join(root, ".runtime", "pids")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating pids directory: %w", err)
	}
	record := strconv.Itoa(pid)
	if start, err := processStartTime(pid); err == nil && start != "" {
		record = fmt.Sprintf("%d|%s", pid, start)
	}
	return os.WriteFile(pidFile(root, key), []byte(record+"\n"), 0644)
}

// UntrackPID removes a session's tracking file.
func UntrackPID(root, key string) {
	_ = os.Remove(pidFile(root, key))
}

// KillOrphans reads every PID tracking file under root and signals any
// process still alive, verifying identity via recorded start time to avoid
// killing an unrelated process that reused a recycled PID, so it can catch
// children that escaped the primary kill path (e.g. reparented after a
// SIGHUP). The daemon's own shutdown path does not call it.
func KillOrphans(root string) (killed int, errs []string) {
	dir := filepath.Join(root, ".runtime", "pids")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, []string{err.Error()}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pid") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".pid")
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		pid, startTime, err := parsePIDRecord(strings.TrimSpace(string(data)))
		if err != nil {
			_ = os.Remove(path)
			continue
		}

		if err := syscall.Kill(pid, 0); err != nil {
			_ = os.Remove(path)
			continue
		}
		if startTime != "" {
			current, err := processStartTime(pid)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s (pid %d): cannot verify start time, skipping", key, pid))
				continue
			}
			if current != startTime {
				_ = os.Remove(path)
				continue
			}
		}

		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			errs = append(errs, fmt.Sprintf("%s (pid %d): %v", key, pid, err))
		} else {
			killed++
		}
		_ = os.Remove(path)
	}
	return killed, errs
}

func parsePIDRecord(s string) (pid int, startTime string, err error) {
	if s == "" {
		return 0, "", fmt.Errorf("empty record")
	}
	parts := strings.SplitN(s, "|", 2)
	pid, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", err
	}
	if len(parts) == 2 {
		startTime = parts[1]
	}
	return pid, startTime, nil
}

func processStartTime(pid int) (string, error) {
	cmd := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid))
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
