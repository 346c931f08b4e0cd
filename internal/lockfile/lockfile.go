// Package lockfile keeps two CareDesk processes from opening the same
// file-backed store. The lock is an flock on a file in the state directory,
// released by the kernel when the process exits.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "caredesk.lock"

// ErrLocked is matched by errors.Is when another process holds the lock.
var ErrLocked = errors.New("state directory is locked")

// Owner describes the process holding a lock, as written to the lock file.
type Owner struct {
	PID       int
	Addr      string
	StartedAt time.Time
}

// Running reports whether the owner process still exists.
func (o Owner) Running() bool {
	if o.PID <= 0 {
		return false
	}
	p, err := os.FindProcess(o.PID)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func (o Owner) String() string {
	if o.PID <= 0 {
		return "unknown process"
	}
	state := "running"
	if !o.Running() {
		state = "not running, stale lock"
	}
	s := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.Addr != "" {
		s += " serving " + o.Addr
	}
	if !o.StartedAt.IsZero() {
		s += " since " + o.StartedAt.Format(time.RFC3339)
	}
	return s
}

// Opts holds configuration for Acquire.
type Opts struct {
	Addr  string
	Clock func() time.Time
}

// Option defines a configuration option for Acquire.
type Option func(*Opts)

// WithAddr records the listen address in the lock file.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithClock overrides the start time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock on stateDir, creating the directory when needed.
// When another process holds it the error is a *LockError.
func Acquire(stateDir string, opts ...Option) (*Lock, error) {
	cfg := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	path := filepath.Join(stateDir, LockFileName)

	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		owner, _ := ReadOwner(path)
		slog.Error("lockfile.Acquire: state directory in use", "lock_path", path, "owner", owner.String())
		return nil, &LockError{Path: path, Owner: owner, Cause: err}
	}

	// Only the holder rewrites the file, after the flock is taken.
	owner := Owner{PID: os.Getpid(), Addr: cfg.Addr, StartedAt: cfg.Clock().UTC()}
	if err := writeOwner(f, owner); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	slog.Info("lockfile.Acquire: lock acquired", "lock_path", path, "pid", owner.PID)
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	// Remove before unlocking so a new holder never loses its own file.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove lock file: %w", err))
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lock file: %w", err))
	}
	l.file = nil
	slog.Info("Lock.Release: lock released", "lock_path", l.path)
	return errors.Join(errs...)
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\naddr=%s\nstarted=%s\n", o.PID, o.Addr, o.StartedAt.Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// ReadOwner parses the lock file at path. Unknown keys are ignored.
func ReadOwner(path string) (Owner, error) {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}, err
	}
	defer f.Close()
	return parseOwner(bufio.NewScanner(f))
}

func parseOwner(sc *bufio.Scanner) (Owner, error) {
	var o Owner
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				o.PID = pid
			}
		case "addr":
			o.Addr = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.StartedAt = t
			}
		}
	}
	return o, sc.Err()
}

// LockError is returned when another process holds the lock.
type LockError struct {
	Path  string
	Owner Owner
	Cause error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another CareDesk instance is using this state directory (%s); lock file %s. "+
		"If that process is gone, remove the lock file and start again", e.Owner, e.Path)
}

// Unwrap returns ErrLocked and the flock error.
func (e *LockError) Unwrap() []error {
	return []error{ErrLocked, e.Cause}
}
