package convert

import (
	"fmt"
	"strings"
)

// InvalidRequestError is returned when a request is rejected before pandoc
// is started.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProcessError describes a conversion that ran but did not produce its
// output: spawn failure, nonzero exit, missing output file or a panic.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if line := firstLine(e.Stderr); line != "" {
		return line
	}
	if e.Err != nil {
		return "conversion failed: " + e.Err.Error()
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("conversion failed (exit status %d)", e.ExitCode)
	}
	return "conversion failed"
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Details renders everything known about the failure for the log transcript.
func (e *ProcessError) Details() string {
	var parts []string
	if e.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit status %d", e.ExitCode))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
