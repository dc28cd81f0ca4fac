// Package service provides the operations presentation surfaces use:
// locating and installing pandoc, converting documents and observing the
// resulting event stream.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ZebulonRouseFrantzich/pandock/internal/binary"
	"github.com/ZebulonRouseFrantzich/pandock/internal/config"
	"github.com/ZebulonRouseFrantzich/pandock/internal/convert"
	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/logging"
	"github.com/ZebulonRouseFrantzich/pandock/internal/paths"
	"github.com/ZebulonRouseFrantzich/pandock/internal/platform"
	"github.com/ZebulonRouseFrantzich/pandock/internal/settings"
)

// Options wires a Service. Only Layout is required.
type Options struct {
	Layout paths.Layout
	// Config defaults to config.Default().
	Config *config.Config
	// Platform skips detection when set.
	Platform *platform.Info
	Detector platform.Detector
	// Store defaults to a settings file in the data directory.
	Store  settings.Store
	Logger logging.Logger
	// MirrorLogs forwards the event transcript to Logger.
	MirrorLogs bool
	Clock      events.Clock
	// IgnoreSystemPath stops the resolver from considering a pandoc on PATH.
	IgnoreSystemPath bool
	HTTPClient       *http.Client
	Runner           convert.Runner
}

// InstallResult is the outcome of EnsureInstalled. Exactly one of
// InstalledPath and Error is set.
type InstallResult struct {
	Success       bool
	InstalledPath string
	Error         string
	Err           error `json:"-"`
}

// Service is the boundary facade over the resolver, download manager,
// conversion invoker and event bus.
type Service struct {
	layout   paths.Layout
	cfg      *config.Config
	platform *platform.Info
	bus      *events.Bus
	manager  *binary.Manager
	resolver *binary.Resolver
	invoker  *convert.Invoker
	mirror   *logging.Mirror
	logger   logging.Logger

	closeOnce sync.Once
}

// New builds a Service and cleans up installs interrupted by a previous crash.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Layout.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)

	if err := opts.Layout.Ensure(); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}

	info := opts.Platform
	if info == nil {
		detector := opts.Detector
		if detector == nil {
			detector = platform.NewDetector()
		}
		var err error
		if info, err = detector.Detect(ctx); err != nil {
			return nil, fmt.Errorf("detect platform: %w", err)
		}
	}

	store := opts.Store
	if store == nil {
		store = settings.NewFileStore(opts.Layout.DataDir)
	}

	bus := events.NewBus()
	verifier := binary.NewVerifier(binary.VerifierOptions{
		KeyringPath:  cfg.Converter.Keyring,
		ProbeTimeout: cfg.Converter.ProbeTimeoutDuration(),
	})

	manager, err := binary.NewManager(binary.Config{
		Layout:   opts.Layout,
		Platform: info,
		Artifact: binary.ArtifactOptions{
			Version:         cfg.Converter.Version,
			Mirror:          cfg.Converter.Mirror,
			ChecksumURL:     cfg.Converter.ChecksumURL,
			SignatureSuffix: cfg.Converter.SignatureSuffix,
		},
		Download: downloadOptions(cfg.Download, opts.HTTPClient),
		Verifier: verifier,
		Bus:      bus,
		Clock:    opts.Clock,
		Logger:   logger,
	})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("create binary manager: %w", err)
	}

	lookPath := binary.SystemLookPath
	if opts.IgnoreSystemPath {
		lookPath = nil
	}
	resolver, err := binary.NewResolver(binary.ResolverConfig{
		Store:          store,
		Verifier:       verifier,
		Installer:      manager,
		Bus:            bus,
		Clock:          opts.Clock,
		Logger:         logger,
		LookPath:       lookPath,
		ExecutableName: info.ExecutableName(binary.BinaryName),
	})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("create resolver: %w", err)
	}

	invoker, err := convert.NewInvoker(convert.Config{
		Bus:    bus,
		Clock:  opts.Clock,
		Logger: logger,
		Runner: opts.Runner,
		Gate:   resolver,
		Locate: func(ctx context.Context) (string, error) {
			loc, err := resolver.Resolve(ctx)
			return loc.Path, err
		},
		Workers:        cfg.Conversion.Workers,
		DefaultOptions: cfg.Conversion.Options,
		Timeout:        cfg.Conversion.TimeoutDuration(),
		ProbeTimeout:   cfg.Converter.ProbeTimeoutDuration(),
	})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("create invoker: %w", err)
	}

	s := &Service{
		layout:   opts.Layout,
		cfg:      cfg,
		platform: info,
		bus:      bus,
		manager:  manager,
		resolver: resolver,
		invoker:  invoker,
		logger:   logger,
	}
	if opts.MirrorLogs {
		s.mirror = logging.StartMirror(bus.Logs, logger)
	}

	if _, err := manager.Recover(); err != nil {
		logger.Warn("failed to clean up interrupted installs", "error", err)
	}
	return s, nil
}

// downloadOptions maps the download config. A configured retry count of zero
// disables retrying.
func downloadOptions(c config.DownloadConfig, client *http.Client) binary.DownloadOptions {
	retries := c.Retries
	if retries == 0 {
		retries = -1
	}
	return binary.DownloadOptions{
		Timeout:          c.TimeoutDuration(),
		Retries:          retries,
		ProgressInterval: c.ProgressInterval(),
		ProgressBytes:    uint64(c.ProgressBytes),
		Client:           client,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Platform returns the platform pandoc is installed for.
func (s *Service) Platform() *platform.Info { return s.platform }

// InstallPath returns where a managed pandoc is installed.
func (s *Service) InstallPath() string { return s.manager.InstallPath() }

// GetBinaryPath returns the persisted pandoc path, if any. It does not verify
// the binary.
func (s *Service) GetBinaryPath() (string, bool) {
	return s.resolver.Persisted()
}

// ResolveBinary returns a verified pandoc without downloading.
func (s *Service) ResolveBinary(ctx context.Context) (binary.Location, error) {
	return s.resolver.Resolve(ctx)
}

// CheckBinaryPath reports whether path is a working pandoc. Nothing is
// persisted.
func (s *Service) CheckBinaryPath(ctx context.Context, path string) bool {
	return s.resolver.Check(ctx, path).OK
}

// CheckBinary returns the full verdict for path.
func (s *Service) CheckBinary(ctx context.Context, path string) binary.Verdict {
	return s.resolver.Check(ctx, path)
}

// UseBinaryPath verifies path and makes it the persisted pandoc.
func (s *Service) UseBinaryPath(ctx context.Context, path string) (binary.Location, error) {
	return s.resolver.Use(ctx, path)
}

// EnsureInstalled returns a verified pandoc, downloading one when none is
// present. Progress is published on the progress topic while it runs.
func (s *Service) EnsureInstalled(ctx context.Context) InstallResult {
	loc, err := s.resolver.EnsureInstalled(ctx)
	if err != nil {
		return InstallResult{Error: err.Error(), Err: err}
	}
	return InstallResult{Success: true, InstalledPath: loc.Path}
}

// Convert submits a conversion and returns its task at once. An empty
// BinaryPath is resolved inside the task, after any in-flight install
// finishes.
func (s *Service) Convert(ctx context.Context, req convert.Request) *convert.Task {
	return s.invoker.Convert(ctx, req)
}

// ConvertDocument converts and waits for the outcome.
func (s *Service) ConvertDocument(ctx context.Context, req convert.Request) convert.Result {
	return s.Convert(ctx, req).Wait(ctx)
}

// ConverterVersion runs `pandoc --version` on the resolved binary.
func (s *Service) ConverterVersion(ctx context.Context) (string, error) {
	loc, err := s.resolver.Resolve(ctx)
	if err != nil && !errors.Is(err, binary.ErrNotAvailable) {
		return "", err
	}
	return s.invoker.Version(ctx, loc.Path)
}

// Formats lists the output formats ConvertDocument accepts.
func (s *Service) Formats() []convert.Format {
	return convert.Formats()
}

// SubscribeProgress attaches an observer to acquisition progress.
func (s *Service) SubscribeProgress() *events.Subscription[events.DownloadProgress] {
	return s.bus.Progress.Subscribe()
}

// SubscribeLogs attaches an observer to the log transcript.
func (s *Service) SubscribeLogs() *events.Subscription[events.LogEntry] {
	return s.bus.Logs.Subscribe()
}

// Close waits for running conversions, then closes both topics. Subscribers
// drain what was already published.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.invoker.Wait()
		s.bus.Close()
		if s.mirror != nil {
			s.mirror.Wait()
		}
	})
}
