package transaction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// StaleLockThreshold bounds how long a lock is honoured when its owner
	// cannot be identified. A pandoc download on a slow link takes minutes.
	StaleLockThreshold = 30 * time.Minute

	// InstallLockName guards the managed install location.
	InstallLockName = "install.lock"
)

// ErrLockExists means a live process holds the lock.
var ErrLockExists = errors.New("install lock exists: another pandock process may be installing")

// Lock is an exclusively created lock file. The holder's pid is recorded in
// it so other processes can tell a crashed owner from a slow one.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock creates dir/name with O_EXCL. An existing lock is taken over
// only when its owner is gone.
func AcquireLock(dir, name string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, name)

	file, err := createExclusive(path)
	if errors.Is(err, os.ErrExist) {
		if !lockAbandoned(path) {
			return nil, ErrLockExists
		}
		os.Remove(path)
		if file, err = createExclusive(path); errors.Is(err, os.ErrExist) {
			return nil, ErrLockExists
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	owner := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(owner); err == nil {
		err = file.Sync()
	}
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("record lock owner: %w", err)
	}
	return &Lock{path: path, file: file}, nil
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release removes the lock. Further calls are no-ops.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// lockAbandoned reports whether the lock at path may be taken over: its
// recorded owner no longer runs, or no owner is recorded and the file is
// older than StaleLockThreshold.
func lockAbandoned(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Removed by its owner in the meantime.
		return os.IsNotExist(err)
	}
	if pid, ok := lockOwner(path); ok {
		if pid == os.Getpid() {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		alive, err := process.PidExistsWithContext(ctx, int32(pid))
		if err == nil {
			return !alive
		}
	}
	return time.Since(info.ModTime()) > StaleLockThreshold
}

// lockOwner reads the pid= line written by AcquireLock.
func lockOwner(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		value, found := strings.CutPrefix(scanner.Text(), "pid=")
		if !found {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || pid <= 0 {
			return 0, false
		}
		return pid, true
	}
	return 0, false
}
