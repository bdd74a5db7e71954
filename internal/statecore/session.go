package statecore

// SessionStatus is sticky-terminal: once set to a terminal value it never
// reverts to Running (spec.md §4.4, testable property 6).
type SessionStatus string

const (
	SessionRunning  SessionStatus = "running"
	SessionFinished SessionStatus = "finished"
	SessionFailed   SessionStatus = "failed"
	SessionKilled   SessionStatus = "killed"
)

// IsTerminal reports whether s is a terminal status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionFinished || s == SessionFailed || s == SessionKilled
}

// Session is a daemon-managed console: a child process with log/input files
// and a ring buffer (spec.md §3).
type Session struct {
	Key       string // "c_{n}"
	Command   string
	Cwd       string
	Status    SessionStatus
	ExitCode  *int
	PID       int
	LogPath   string
	InputPath string
}

// SetTerminal transitions a session to a terminal status. Once terminal,
// subsequent calls are no-ops — the first terminal status sticks.
func (s *Session) SetTerminal(status SessionStatus, exitCode *int) {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = status
	s.ExitCode = exitCode
}
