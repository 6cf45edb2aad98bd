package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultSingletonMaxAge is the lock age beyond which an apparently-alive PID
// is treated as recycled by the OS.
const DefaultSingletonMaxAge = 24 * time.Hour

// SingletonLock prevents multiple agent instances from binding to the same
// workspace on the same host (multi-worker servers, hot reload).
//
// The lock is a file named by workspace ID containing "PID:unix:workspace_id".
// Acquire decision table:
//
//	no lock file                     → write ours, acquired
//	PID dead                         → reclaim (crash / kill -9)
//	PID alive, age > maxAge          → reclaim (PID likely recycled)
//	PID alive, age <= maxAge         → reject
//	malformed / unreadable           → overwrite, log warning
//
// A dead PID always wins regardless of age; age only matters when the PID
// appears alive but has likely been reassigned to an unrelated process.
type SingletonLock struct {
	workspaceID string
	lockFile    string
	maxAge      time.Duration
	acquired    bool
}

// NewSingletonLock creates a lock for a workspace. lockDir is the host-local
// state directory; maxAge <= 0 selects the default 24 h.
func NewSingletonLock(workspaceID, lockDir string, maxAge time.Duration) *SingletonLock {
	if maxAge <= 0 {
		maxAge = DefaultSingletonMaxAge
	}
	return &SingletonLock{
		workspaceID: workspaceID,
		lockFile:    filepath.Join(lockDir, "agent_"+workspaceID+".lock"),
		maxAge:      maxAge,
	}
}

// IsAcquired reports whether this instance holds the lock.
func (l *SingletonLock) IsAcquired() bool { return l.acquired }

// Acquire tries to take the lock. Returns false when another live agent
// holds it.
func (l *SingletonLock) Acquire() bool {
	if err := os.MkdirAll(filepath.Dir(l.lockFile), 0o755); err != nil {
		slog.Error("Failed to create lock directory", "dir", filepath.Dir(l.lockFile), "error", err)
		return false
	}

	if content, err := os.ReadFile(l.lockFile); err == nil {
		pid, lockedAt, parseOK := parseLockContent(string(content))
		switch {
		case !parseOK:
			slog.Warn("Malformed agent lock file, overwriting", "file", l.lockFile)

		case !pidAlive(pid):
			slog.Info("Stale agent lock detected, reclaiming",
				"workspace_id", l.workspaceID, "pid", pid)

		case time.Since(lockedAt) > l.maxAge:
			slog.Warn("Agent lock aged out, reclaiming (PID likely recycled)",
				"workspace_id", l.workspaceID, "pid", pid,
				"age", time.Since(lockedAt).Truncate(time.Second))

		default:
			slog.Warn("Agent already running for workspace",
				"workspace_id", l.workspaceID, "pid", pid,
				"age", time.Since(lockedAt).Truncate(time.Second))
			return false
		}
	}

	content := fmt.Sprintf("%d:%d:%s", os.Getpid(), time.Now().Unix(), l.workspaceID)
	if err := os.WriteFile(l.lockFile, []byte(content), 0o644); err != nil {
		slog.Error("Failed to write agent lock file", "file", l.lockFile, "error", err)
		return false
	}
	l.acquired = true
	slog.Info("Agent lock acquired", "workspace_id", l.workspaceID, "pid", os.Getpid())
	return true
}

// Release removes the lock file if this process owns it. I/O errors are
// silent: release runs on teardown paths where there is nothing to do about
// them.
func (l *SingletonLock) Release() {
	if l.acquired {
		if content, err := os.ReadFile(l.lockFile); err == nil {
			if strings.HasPrefix(string(content), strconv.Itoa(os.Getpid())+":") {
				_ = os.Remove(l.lockFile)
				slog.Info("Agent lock released", "workspace_id", l.workspaceID)
			}
		}
	}
	l.acquired = false
}

// parseLockContent parses "PID:unix:workspace_id". The workspace suffix is
// informational; only PID and timestamp drive the decision table.
func parseLockContent(content string) (pid int, lockedAt time.Time, ok bool) {
	parts := strings.Split(strings.TrimSpace(content), ":")
	if len(parts) < 2 {
		return 0, time.Time{}, false
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, false
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return pid, time.Unix(unix, 0), true
}

// pidAlive checks process existence with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to another user.
	return err == nil || err == syscall.EPERM
}
