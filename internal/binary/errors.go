package binary

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
)

// ErrNotAvailable is returned by Resolve when no verified converter binary
// can be located.
var ErrNotAvailable = errors.New("pandoc binary not available")

// Stage names the acquisition step that failed.
type Stage string

const (
	StagePlatform Stage = "platform"
	StageLock     Stage = "lock"
	StageDownload Stage = "download"
	StageVerify   Stage = "verify"
	StageExtract  Stage = "extract"
	StageInstall  Stage = "install"
	StagePersist  Stage = "persist"
)

// AcquisitionError wraps the typed cause of a failed acquisition attempt.
type AcquisitionError struct {
	Stage Stage
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire pandoc (%s): %v", e.Stage, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// UnsupportedPlatformError reports an OS/architecture pair with no published
// release artifact.
type UnsupportedPlatformError struct {
	OS   string
	Arch string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("no pandoc release for %s/%s", e.OS, e.Arch)
}

// NetworkError is a failed HTTP exchange. StatusCode is zero when no response
// was received.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status code: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the request may succeed.
func (e *NetworkError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
}

// VerificationError reports an artifact or binary that failed an integrity
// check.
type VerificationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("verify %s: %s", e.Path, e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// PermissionError reports a filesystem operation refused by the OS.
type PermissionError struct {
	Path string
	Op   string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s %s: permission denied", e.Op, e.Path)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Hint suggests a remediation the user can apply.
func (e *PermissionError) Hint() string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("check that %s is not open in another program and that your account can write to it", e.Path)
	}
	return fmt.Sprintf("check the ownership and mode of %s, or set PANDOCK_DATA_DIR to a writable directory", e.Path)
}

// wrapFS turns permission failures into *PermissionError and annotates the rest.
func wrapFS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return &PermissionError{Path: path, Op: op, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
