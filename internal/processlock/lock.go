// Package processlock keeps a single consolebot running per data directory.
package processlock

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

const (
	lockFileName   = "consolebot.pid"
	defaultDataDir = ".consolebot"
)

// ErrLocked means another live consolebot owns the data directory
var ErrLocked = errors.New("consolebot is already running")

// Lock is an exclusive PID file in the data directory
type Lock struct {
	path   string
	logger *zap.Logger
	held   bool
}

// New prepares a lock in dataDir, ~/.consolebot when empty. The directory is
// created if needed; the lock itself is taken by Acquire.
func New(dataDir string, logger *zap.Logger) (*Lock, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, defaultDataDir)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	return &Lock{
		path:   filepath.Join(dataDir, lockFileName),
		logger: logger.Named("lock"),
	}, nil
}

// Path returns the lock file
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock. A non-empty feedAddr must be bindable too, so a
// second instance fails here rather than when the status feed starts.
// A lock file left by a dead process is replaced.
func (l *Lock) Acquire(feedAddr string) error {
	if feedAddr != "" {
		if err := addrFree(feedAddr); err != nil {
			return err
		}
	}

	// Two attempts: the second follows removal of a stale file
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create()
		if err == nil {
			l.held = true
			l.logger.Info("Instance lock taken",
				zap.Int("pid", os.Getpid()),
				zap.String("path", l.path))
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}

		owner, readErr := l.owner()
		if readErr == nil && alive(owner) {
			return fmt.Errorf("%w (pid %d, lock %s)", ErrLocked, owner, l.path)
		}

		l.logger.Warn("Clearing stale instance lock",
			zap.Int("owner_pid", owner),
			zap.String("path", l.path),
			zap.NamedError("read_error", readErr))
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale lock file: %w", err)
		}
	}
	return fmt.Errorf("lock file %s keeps reappearing", l.path)
}

// Release drops a lock taken by Acquire. Without one it does nothing.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	l.held = false
	l.logger.Info("Instance lock released", zap.String("path", l.path))
	return nil
}

// create writes our PID into a file that must not exist yet
func (l *Lock) create() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(l.path)
		return err
	}
	return nil
}

// owner returns the PID recorded in the lock file
func (l *Lock) owner() (int, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("lock file holds %q, not a pid", strings.TrimSpace(string(raw)))
	}
	return pid, nil
}

func addrFree(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("status feed address %q: %w", addr, err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status feed address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

// alive probes pid with signal 0
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
