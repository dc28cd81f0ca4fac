package events

import "time"

// Level classifies a LogEntry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Sources name the subsystem that produced a LogEntry.
const (
	SourceAcquisition = "acquisition"
	SourceConversion  = "conversion"
	SourceProbe       = "probe"
)

// LogEntry is one line of the diagnostic transcript. Entries are values and
// are never modified after publication.
type LogEntry struct {
	Timestamp     string `json:"timestamp"`
	Level         Level  `json:"level"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
	Source        string `json:"source,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewLogEntry stamps an entry with t formatted as RFC 3339.
func NewLogEntry(t time.Time, level Level, message, details string) LogEntry {
	return LogEntry{
		Timestamp: t.UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   message,
		Details:   details,
	}
}

// Status is the acquisition state carried by DownloadProgress.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusChecking    Status = "checking"
	StatusDownloading Status = "downloading"
	StatusVerifying   Status = "verifying"
	StatusInstalling  Status = "installing"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether no further progress follows s for an attempt.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// DownloadProgress is a snapshot of one acquisition attempt.
type DownloadProgress struct {
	AttemptID       string  `json:"attempt_id"`
	DownloadedBytes uint64  `json:"downloaded"`
	TotalBytes      uint64  `json:"total"`
	Percentage      float64 `json:"percentage"`
	Status          Status  `json:"status"`
	Message         string  `json:"message,omitempty"`
}

// Percent returns downloaded/total*100 clamped to [0, 100]. An unknown (zero)
// total yields 0.
func Percent(downloaded, total uint64) float64 {
	if total == 0 {
		return 0
	}
	p := float64(downloaded) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
