package binary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/logging"
	"github.com/ZebulonRouseFrantzich/pandock/internal/paths"
	"github.com/ZebulonRouseFrantzich/pandock/internal/platform"
	"github.com/ZebulonRouseFrantzich/pandock/internal/transaction"
)

// Manager orchestrates download, verification and installation of the
// converter binary into the managed location.
type Manager struct {
	layout     paths.Layout
	platform   *platform.Info
	artifact   ArtifactOptions
	downloader *Downloader
	verifier   *Verifier
	extractor  *Extractor
	bus        *events.Bus
	clock      events.Clock
	logger     logging.Logger
}

// Config holds configuration for the binary manager
type Config struct {
	Layout   paths.Layout
	Platform *platform.Info
	Artifact ArtifactOptions
	Download DownloadOptions
	// Verifier defaults to NewVerifier with default options.
	Verifier *Verifier
	Bus      *events.Bus
	Clock    events.Clock
	Logger   logging.Logger
}

// NewManager creates a new binary manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Layout.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.Platform == nil {
		return nil, fmt.Errorf("platform info is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = NewVerifier(VerifierOptions{})
	}
	artifact := cfg.Artifact
	if !verifier.HasKeyring() {
		artifact.SignatureSuffix = ""
	}
	return &Manager{
		layout:     cfg.Layout,
		platform:   cfg.Platform,
		artifact:   artifact,
		downloader: NewDownloader(cfg.Download),
		verifier:   verifier,
		extractor:  NewExtractor(),
		bus:        cfg.Bus,
		clock:      cfg.Clock,
		logger:     logging.OrNop(cfg.Logger),
	}, nil
}

// InstallPath returns where Install places the binary.
func (m *Manager) InstallPath() string {
	return filepath.Join(m.layout.BinDir(), m.platform.ExecutableName(BinaryName))
}

// CommitFunc runs after the binary reached its install location and before
// the attempt is reported complete. An error removes the installed binary and
// fails the attempt.
type CommitFunc func(ctx context.Context, path string) error

// Install downloads, verifies, extracts and installs the converter binary,
// publishing progress and log entries tagged with attemptID. On failure
// nothing is left in the staging or install location and the returned error
// is an *AcquisitionError. A panic during the attempt is reported as a
// failure like any other.
func (m *Manager) Install(ctx context.Context, attemptID string, commit CommitFunc) (installed string, err error) {
	em := events.NewEmitter(m.bus, m.clock, events.SourceAcquisition, attemptID)
	progress := &progressReporter{em: em}
	target := m.InstallPath()
	placed := false

	defer func() {
		if rec := recover(); rec != nil {
			err = &AcquisitionError{Stage: StageInstall, Err: fmt.Errorf("panic: %v", rec)}
		}
		if err == nil {
			return
		}
		if placed {
			os.Remove(target)
		}
		progress.emit(events.StatusFailed, "Installation failed")
		em.Error("pandoc installation failed", describe(err))
		m.logger.Error("pandoc installation failed", "attempt", attemptID, "error", err)
	}()

	progress.emit(events.StatusChecking, fmt.Sprintf("Checking platform %s", m.platform))
	art, err := ResolveArtifact(m.platform, m.artifact)
	if err != nil {
		return "", &AcquisitionError{Stage: StagePlatform, Err: err}
	}
	em.Info(fmt.Sprintf("Selected %s", art.Name), art.URL)

	lock, err := transaction.AcquireLock(m.layout.LockDir(), transaction.InstallLockName)
	if err != nil {
		return "", &AcquisitionError{Stage: StageLock, Err: err}
	}
	defer lock.Release()

	staging := filepath.Join(m.layout.TmpDir(), attemptID)
	if err := m.removeBroken(ctx, em, target); err != nil {
		return "", &AcquisitionError{Stage: StageInstall, Err: err}
	}
	txn := transaction.NewInstall(attemptID, art.Name, staging, target)
	if err := txn.SetState(m.layout.TxnDir(), transaction.StateInProgress, nil); err != nil {
		return "", &AcquisitionError{Stage: StageInstall, Err: wrapFS("write journal", m.layout.TxnDir(), err)}
	}
	defer m.finish(txn, staging, &err)

	archivePath := filepath.Join(staging, art.Name)
	em.Info(fmt.Sprintf("Downloading %s", art.URL), "")
	progress.emit(events.StatusDownloading, "Starting download")
	if err := m.downloader.DownloadToFile(ctx, art.URL, archivePath, progress.downloading); err != nil {
		return "", &AcquisitionError{Stage: StageDownload, Err: err}
	}

	progress.emit(events.StatusVerifying, "Verifying download")
	if err := m.verifyArchive(ctx, em, art, archivePath, staging); err != nil {
		return "", &AcquisitionError{Stage: StageVerify, Err: err}
	}

	extractDir := filepath.Join(staging, "extract")
	if err := m.extractor.Extract(archivePath, art.Format, extractDir); err != nil {
		var perm *PermissionError
		if !errors.As(err, &perm) {
			err = &VerificationError{Path: archivePath, Reason: "unpack archive", Err: err}
		}
		return "", &AcquisitionError{Stage: StageExtract, Err: err}
	}
	staged, err := m.extractor.FindExecutable(extractDir, art.Executable)
	if err != nil {
		return "", &AcquisitionError{Stage: StageExtract, Err: &VerificationError{Path: archivePath, Reason: "locate binary", Err: err}}
	}
	if err := SetExecutable(staged); err != nil {
		return "", &AcquisitionError{Stage: StageExtract, Err: err}
	}

	em.Info("Verifying pandoc binary", staged)
	verdict := m.verifier.Verify(ctx, staged)
	if !verdict.OK {
		return "", &AcquisitionError{Stage: StageVerify, Err: &VerificationError{Path: staged, Reason: verdict.Detail}}
	}

	progress.emit(events.StatusInstalling, fmt.Sprintf("Installing to %s", target))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", &AcquisitionError{Stage: StageInstall, Err: wrapFS("create directory", filepath.Dir(target), err)}
	}
	if err := os.Rename(staged, target); err != nil {
		return "", &AcquisitionError{Stage: StageInstall, Err: wrapFS("install", target, err)}
	}
	placed = true
	if err := SetExecutable(target); err != nil {
		return "", &AcquisitionError{Stage: StageInstall, Err: err}
	}
	if commit != nil {
		if err := commit(ctx, target); err != nil {
			var acq *AcquisitionError
			if errors.As(err, &acq) {
				return "", acq
			}
			return "", &AcquisitionError{Stage: StagePersist, Err: err}
		}
	}

	if err := txn.SetState(m.layout.TxnDir(), transaction.StateCompleted, nil); err != nil {
		m.logger.Warn("failed to mark install journal completed", "attempt", attemptID, "error", err)
	}
	progress.complete()
	em.Success(fmt.Sprintf("pandoc %s installed at %s", verdict.Version, target), "")
	m.logger.Info("pandoc installed", "attempt", attemptID, "version", verdict.Version, "path", target)
	return target, nil
}

// removeBroken deletes a managed binary that no longer verifies, so a failed
// attempt cannot leave it behind as a resolver candidate.
func (m *Manager) removeBroken(ctx context.Context, em *events.Emitter, target string) error {
	if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	verdict := m.verifier.Verify(ctx, target)
	if verdict.OK {
		return nil
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrapFS("remove broken binary", target, err)
	}
	em.Info(fmt.Sprintf("Removed broken pandoc at %s", target), verdict.Detail)
	m.logger.Info("removed broken managed binary", "path", target, "reason", verdict.Detail)
	return nil
}

// verifyArchive fetches the configured integrity files into staging and
// checks the archive against them.
func (m *Manager) verifyArchive(ctx context.Context, em *events.Emitter, art *Artifact, archivePath, staging string) error {
	var sigPath, sumPath string
	if art.ChecksumURL != "" {
		sumPath = filepath.Join(staging, "checksums.txt")
		if err := m.downloader.DownloadToFile(ctx, art.ChecksumURL, sumPath, nil); err != nil {
			return fmt.Errorf("download checksums: %w", err)
		}
	}
	if art.SignatureURL != "" {
		sigPath = archivePath + ".sig"
		if err := m.downloader.DownloadToFile(ctx, art.SignatureURL, sigPath, nil); err != nil {
			return fmt.Errorf("download signature: %w", err)
		}
	}

	result, err := m.verifier.VerifyArchive(archivePath, art.Name, sigPath, sumPath)
	if err != nil {
		return err
	}
	em.Info(fmt.Sprintf("Archive verification: %s", result.Method), "")
	return nil
}

// finish removes the staging directory and the journal. If cleanup fails the
// journal is kept so Recover can retry it.
func (m *Manager) finish(txn *transaction.InstallTxn, staging string, errp *error) {
	if rmErr := os.RemoveAll(staging); rmErr != nil {
		m.logger.Warn("failed to remove staging directory", "path", staging, "error", rmErr)
		if txn.State != transaction.StateCompleted {
			_ = txn.SetState(m.layout.TxnDir(), transaction.StateFailed, *errp)
		}
		return
	}
	if rmErr := txn.Remove(m.layout.TxnDir()); rmErr != nil {
		m.logger.Warn("failed to remove install journal", "attempt", txn.ID, "error", rmErr)
	}
}

// Recover cleans up after attempts interrupted by a crash. It is a no-op
// when another process holds the install lock.
func (m *Manager) Recover() (*transaction.RecoveryReport, error) {
	lock, err := transaction.AcquireLock(m.layout.LockDir(), transaction.InstallLockName)
	if errors.Is(err, transaction.ErrLockExists) {
		return &transaction.RecoveryReport{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	report, err := transaction.Recover(m.layout.TxnDir())
	if err != nil {
		return report, err
	}

	// Nothing is in flight while the lock is held, so anything left in the
	// staging area is an orphan.
	entries, err := os.ReadDir(m.layout.TmpDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return report, fmt.Errorf("read staging area: %w", err)
	}
	for _, e := range entries {
		dir := filepath.Join(m.layout.TmpDir(), e.Name())
		if err := os.RemoveAll(dir); err != nil {
			return report, fmt.Errorf("remove %s: %w", dir, err)
		}
		report.RemovedDir = append(report.RemovedDir, dir)
	}

	if len(report.Abandoned) > 0 || len(report.RemovedDir) > 0 {
		m.logger.Info("cleaned up interrupted installs",
			"abandoned", len(report.Abandoned), "removed", len(report.RemovedDir))
	}
	return report, nil
}

// progressReporter turns byte counts into DownloadProgress events for one
// attempt.
type progressReporter struct {
	em         *events.Emitter
	downloaded uint64
	total      uint64
}

func (p *progressReporter) downloading(downloaded, total uint64) {
	p.downloaded, p.total = downloaded, total
	msg := fmt.Sprintf("Downloading %s", humanize.Bytes(downloaded))
	if total > 0 {
		msg = fmt.Sprintf("Downloading %s / %s", humanize.Bytes(downloaded), humanize.Bytes(total))
	}
	p.emit(events.StatusDownloading, msg)
}

func (p *progressReporter) complete() {
	if p.total == 0 || p.downloaded > p.total {
		p.total = p.downloaded
	}
	p.downloaded = p.total
	p.em.Progress(events.DownloadProgress{
		DownloadedBytes: p.downloaded,
		TotalBytes:      p.total,
		Percentage:      100,
		Status:          events.StatusComplete,
		Message:         "Installation complete",
	})
}

func (p *progressReporter) emit(status events.Status, msg string) {
	p.em.Progress(events.DownloadProgress{
		DownloadedBytes: p.downloaded,
		TotalBytes:      p.total,
		Percentage:      events.Percent(p.downloaded, p.total),
		Status:          status,
		Message:         msg,
	})
}

// describe renders the full diagnostic for an acquisition failure, including
// a remediation hint for permission problems.
func describe(err error) string {
	msg := err.Error()
	var perm *PermissionError
	if errors.As(err, &perm) {
		msg += "\nhint: " + perm.Hint()
	}
	return msg
}
