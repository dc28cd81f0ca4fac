package binary

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/logging"
	"github.com/ZebulonRouseFrantzich/pandock/internal/settings"
)

// Installer places a converter binary at its managed location.
type Installer interface {
	Install(ctx context.Context, attemptID string, commit CommitFunc) (string, error)
	InstallPath() string
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	Store     settings.Store
	Verifier  *Verifier
	Installer Installer
	Bus       *events.Bus
	Clock     events.Clock
	Logger    logging.Logger
	// LookPath searches PATH for a system pandoc. Nil disables that candidate.
	LookPath func(file string) (string, error)
	// ExecutableName is the file name searched on PATH (default "pandoc").
	ExecutableName string
	// NewID generates attempt ids (default uuid).
	NewID func() string
}

// Resolver locates a verified converter binary and, on request, acquires
// one. At most one acquisition runs at a time; concurrent callers share its
// outcome.
type Resolver struct {
	store     settings.Store
	verifier  *Verifier
	installer Installer
	bus       *events.Bus
	clock     events.Clock
	logger    logging.Logger
	lookPath  func(string) (string, error)
	exeName   string
	newID     func() string

	group singleflight.Group

	mu   sync.Mutex
	idle chan struct{} // closed when the in-flight attempt ends; nil if none
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if cfg.Installer == nil {
		return nil, fmt.Errorf("installer is required")
	}
	r := &Resolver{
		store:     cfg.Store,
		verifier:  cfg.Verifier,
		installer: cfg.Installer,
		bus:       cfg.Bus,
		clock:     cfg.Clock,
		logger:    logging.OrNop(cfg.Logger),
		lookPath:  cfg.LookPath,
		exeName:   cfg.ExecutableName,
		newID:     cfg.NewID,
	}
	if r.verifier == nil {
		r.verifier = NewVerifier(VerifierOptions{})
	}
	if r.exeName == "" {
		r.exeName = BinaryName
	}
	if r.newID == nil {
		r.newID = func() string { return uuid.New().String() }
	}
	return r, nil
}

// SystemLookPath is exec.LookPath, for ResolverConfig.LookPath.
func SystemLookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Persisted returns the stored binary path, if any.
func (r *Resolver) Persisted() (string, bool) {
	path, ok, err := r.store.Get(settings.KeyPandocPath)
	if err != nil {
		r.logger.Warn("failed to read settings", "error", err)
		return "", false
	}
	return path, ok && path != ""
}

// Check verifies path without persisting anything.
func (r *Resolver) Check(ctx context.Context, path string) Verdict {
	return r.verifier.Verify(ctx, path)
}

// Resolve returns the first verified candidate among the persisted path, the
// managed install location and a pandoc found on PATH. A verified candidate
// that differs from the stored one is persisted; a stored path that fails
// verification is cleared. It never downloads.
func (r *Resolver) Resolve(ctx context.Context) (Location, error) {
	persisted, hasPersisted := r.Persisted()

	for _, path := range r.candidates(persisted, hasPersisted) {
		verdict := r.verifier.Verify(ctx, path)
		if !verdict.OK {
			r.logger.Debug("candidate rejected", "path", path, "reason", verdict.Detail)
			if hasPersisted && path == persisted {
				if err := r.store.Delete(settings.KeyPandocPath); err != nil {
					r.logger.Warn("failed to clear stale pandoc path", "path", path, "error", err)
				} else {
					r.logger.Info("cleared stale pandoc path", "path", path, "reason", verdict.Detail)
				}
			}
			continue
		}

		if !hasPersisted || path != persisted {
			if err := r.store.Set(settings.KeyPandocPath, path); err != nil {
				r.logger.Warn("failed to persist pandoc path", "path", path, "error", err)
			}
		}
		return Location{Path: path, Verified: true}, nil
	}
	return Location{}, ErrNotAvailable
}

func (r *Resolver) candidates(persisted string, hasPersisted bool) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" {
			return
		}
		clean := filepath.Clean(p)
		if seen[clean] {
			return
		}
		seen[clean] = true
		out = append(out, p)
	}

	if hasPersisted {
		add(persisted)
	}
	add(r.installer.InstallPath())
	if r.lookPath != nil {
		if p, err := r.lookPath(r.exeName); err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			add(p)
		}
	}
	return out
}

// Use verifies a user-chosen binary and persists it on success.
func (r *Resolver) Use(ctx context.Context, path string) (Location, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	verdict := r.verifier.Verify(ctx, path)
	if !verdict.OK {
		return Location{}, &VerificationError{Path: path, Reason: verdict.Detail}
	}
	if err := r.store.Set(settings.KeyPandocPath, path); err != nil {
		return Location{}, fmt.Errorf("persist pandoc path: %w", err)
	}
	return Location{Path: path, Verified: true}, nil
}

// EnsureInstalled returns a verified binary, acquiring one when none is
// present. Concurrent calls join the in-flight attempt. ctx bounds only the
// caller's wait; a started attempt runs to completion.
func (r *Resolver) EnsureInstalled(ctx context.Context) (Location, error) {
	work := context.WithoutCancel(ctx)
	ch := r.group.DoChan("acquire", func() (interface{}, error) {
		return r.acquire(work)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Location{}, res.Err
		}
		return res.Val.(Location), nil
	case <-ctx.Done():
		return Location{}, ctx.Err()
	}
}

func (r *Resolver) acquire(ctx context.Context) (loc Location, err error) {
	r.begin()
	defer r.end()

	id := r.newID()
	defer func() {
		if rec := recover(); rec != nil {
			err = &AcquisitionError{Stage: StageInstall, Err: fmt.Errorf("panic: %v", rec)}
			em := events.NewEmitter(r.bus, r.clock, events.SourceAcquisition, id)
			em.Progress(events.DownloadProgress{Status: events.StatusFailed, Message: "Installation failed"})
			em.Error("pandoc installation failed", err.Error())
			r.logger.Error("pandoc acquisition panicked", "attempt", id, "panic", rec)
		}
	}()

	if loc, err := r.Resolve(ctx); err == nil {
		return loc, nil
	}

	r.logger.Info("acquiring pandoc", "attempt", id)
	path, err := r.installer.Install(ctx, id, r.commit)
	if err != nil {
		var acq *AcquisitionError
		if !errors.As(err, &acq) {
			err = &AcquisitionError{Stage: StageInstall, Err: err}
		}
		return Location{}, err
	}
	return Location{Path: path, Verified: true}, nil
}

// commit re-verifies the installed binary and persists its path.
func (r *Resolver) commit(ctx context.Context, path string) error {
	verdict := r.verifier.Verify(ctx, path)
	if !verdict.OK {
		return &AcquisitionError{Stage: StageVerify, Err: &VerificationError{Path: path, Reason: verdict.Detail}}
	}
	if err := r.store.Set(settings.KeyPandocPath, path); err != nil {
		return &AcquisitionError{Stage: StagePersist, Err: err}
	}
	return nil
}

// WaitIdle blocks until no acquisition attempt is in flight or ctx is done.
func (r *Resolver) WaitIdle(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy reports whether an acquisition attempt is in flight.
func (r *Resolver) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle != nil
}

func (r *Resolver) begin() {
	r.mu.Lock()
	r.idle = make(chan struct{})
	r.mu.Unlock()
}

func (r *Resolver) end() {
	r.mu.Lock()
	close(r.idle)
	r.idle = nil
	r.mu.Unlock()
}
