package binary

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/paths"
	"github.com/ZebulonRouseFrantzich/pandock/internal/platform"
	"github.com/ZebulonRouseFrantzich/pandock/internal/testutil"
	"github.com/ZebulonRouseFrantzich/pandock/internal/transaction"
)

const testArtifactPath = "/3.6.4/pandoc-3.6.4-linux-amd64.tar.gz"

// pandocArchive builds a release-shaped tar.gz holding a fake pandoc script.
func pandocArchive(t *testing.T, opts testutil.FakeOptions, padding int) []byte {
	t.Helper()
	script := testutil.FakePandocScript(filepath.Join(t.TempDir(), "calls"), opts)
	entries := []testutil.Entry{
		{Name: "pandoc-3.6.4/", Dir: true},
		{Name: "pandoc-3.6.4/bin/pandoc", Body: script, Mode: 0o755},
	}
	if padding > 0 {
		// Incompressible filler so the archive spans many reads
		buf := make([]byte, padding)
		rand.New(rand.NewSource(1)).Read(buf)
		entries = append(entries, testutil.Entry{Name: "pandoc-3.6.4/share/filler", Body: string(buf)})
	}
	return testutil.TarGz(t, entries...)
}

func serveArchive(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(testArtifactPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
		w.Write(archive)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type managerFixture struct {
	mgr    *Manager
	bus    *events.Bus
	layout paths.Layout
}

func newManagerFixture(t *testing.T, mirror string, info *platform.Info, artifact ArtifactOptions) *managerFixture {
	t.Helper()
	testutil.SkipOnWindows(t)
	if info == nil {
		info = &platform.Info{OS: "linux", Arch: "amd64"}
	}
	artifact.Mirror = mirror
	artifact.Version = "3.6.4"

	layout := paths.Layout{DataDir: filepath.Join(t.TempDir(), "data")}
	bus := events.NewBus()
	mgr, err := NewManager(Config{
		Layout:   layout,
		Platform: info,
		Artifact: artifact,
		Download: DownloadOptions{Retries: -1, Backoff: time.Millisecond},
		Bus:      bus,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return &managerFixture{mgr: mgr, bus: bus, layout: layout}
}

func drain[T any](s *events.Subscription[T]) []T {
	var out []T
	for v := range s.C() {
		out = append(out, v)
	}
	return out
}

func statuses(progress []events.DownloadProgress) []events.Status {
	out := make([]events.Status, 0, len(progress))
	for _, p := range progress {
		out = append(out, p.Status)
	}
	return out
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("%s should be empty, found %s", dir, e.Name())
	}
}

func TestNewManager(t *testing.T) {
	info := &platform.Info{OS: "linux", Arch: "amd64"}
	bus := events.NewBus()
	layout := paths.Layout{DataDir: t.TempDir()}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Layout: layout, Platform: info, Bus: bus}, false},
		{"missing_data_dir", Config{Platform: info, Bus: bus}, true},
		{"missing_platform", Config{Layout: layout, Bus: bus}, true},
		{"missing_bus", Config{Layout: layout, Platform: info}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewManager() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	mgr, _ := NewManager(Config{Layout: layout, Platform: &platform.Info{OS: "windows", Arch: "amd64"}, Bus: bus})
	if filepath.Base(mgr.InstallPath()) != "pandoc.exe" {
		t.Errorf("InstallPath() = %s", mgr.InstallPath())
	}
}

func TestManagerInstall_Success(t *testing.T) {
	server := serveArchive(t, pandocArchive(t, testutil.FakeOptions{Version: "3.6.4"}, 0))
	f := newManagerFixture(t, server.URL, nil, ArtifactOptions{})

	progressSub := f.bus.Progress.Subscribe()
	logSub := f.bus.Logs.Subscribe()

	var committed string
	path, err := f.mgr.Install(context.Background(), "attempt-1", func(ctx context.Context, p string) error {
		committed = p
		return nil
	})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if path != f.mgr.InstallPath() || committed != path {
		t.Errorf("path = %s, committed = %s, want %s", path, committed, f.mgr.InstallPath())
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("installed binary missing or not executable: %v", err)
	}

	f.bus.Close()
	progress := drain(progressSub)
	logs := drain(logSub)

	st := statuses(progress)
	if st[0] != events.StatusChecking {
		t.Errorf("first status = %s, want checking", st[0])
	}
	want := []events.Status{events.StatusDownloading, events.StatusVerifying, events.StatusInstalling, events.StatusComplete}
	idx := 0
	for _, s := range st {
		if idx < len(want) && s == want[idx] {
			idx++
		}
	}
	if idx != len(want) {
		t.Errorf("status sequence %v does not contain %v in order", st, want)
	}

	for i, p := range progress {
		if p.AttemptID != "attempt-1" {
			t.Errorf("progress %d has attempt id %q", i, p.AttemptID)
		}
		if i > 0 && p.DownloadedBytes < progress[i-1].DownloadedBytes {
			t.Errorf("downloaded bytes decreased at %d", i)
		}
		if p.Status.IsTerminal() && i != len(progress)-1 {
			t.Errorf("terminal status %s before the end", p.Status)
		}
	}
	last := progress[len(progress)-1]
	if last.Percentage != 100 || last.DownloadedBytes != last.TotalBytes || last.TotalBytes == 0 {
		t.Errorf("final progress = %+v", last)
	}

	if lastLog := logs[len(logs)-1]; lastLog.Level != events.LevelSuccess || lastLog.Source != events.SourceAcquisition {
		t.Errorf("last log = %+v", lastLog)
	}

	assertEmptyDir(t, f.layout.TmpDir())
	assertEmptyDir(t, f.layout.TxnDir())
	if _, err := os.Stat(filepath.Join(f.layout.LockDir(), transaction.InstallLockName)); !os.IsNotExist(err) {
		t.Error("install lock not released")
	}
}

func TestManagerInstall_Failures(t *testing.T) {
	goodArchive := pandocArchive(t, testutil.FakeOptions{}, 0)

	tests := []struct {
		name     string
		archive  []byte
		platform *platform.Info
		artifact ArtifactOptions
		commit   CommitFunc
		// brokenInstall seeds a failing binary at the install location.
		brokenInstall bool
		wantStage     Stage
		check         func(t *testing.T, err error)
	}{
		{
			name:      "not_found",
			archive:   nil,
			wantStage: StageDownload,
			check: func(t *testing.T, err error) {
				var netErr *NetworkError
				if !errors.As(err, &netErr) || netErr.StatusCode != http.StatusNotFound {
					t.Errorf("expected 404 NetworkError, got %v", err)
				}
			},
		},
		{
			name:          "not_found_with_broken_install",
			archive:       nil,
			brokenInstall: true,
			wantStage:     StageDownload,
		},
		{
			name:      "unsupported_platform",
			archive:   goodArchive,
			platform:  &platform.Info{OS: "windows", Arch: "arm64"},
			wantStage: StagePlatform,
			check: func(t *testing.T, err error) {
				var unsupported *UnsupportedPlatformError
				if !errors.As(err, &unsupported) {
					t.Errorf("expected UnsupportedPlatformError, got %v", err)
				}
			},
		},
		{
			name:      "binary_fails_probe",
			archive:   pandocArchive(t, testutil.FakeOptions{VersionExit: 1}, 0),
			wantStage: StageVerify,
			check: func(t *testing.T, err error) {
				var verr *VerificationError
				if !errors.As(err, &verr) {
					t.Errorf("expected VerificationError, got %v", err)
				}
			},
		},
		{
			name:      "archive_without_binary",
			archive:   testutil.TarGz(t, testutil.Entry{Name: "README", Body: "hi"}),
			wantStage: StageExtract,
		},
		{
			name:      "corrupt_archive",
			archive:   []byte("definitely not gzip"),
			wantStage: StageExtract,
		},
		{
			name:      "commit_panics",
			archive:   goodArchive,
			commit:    func(context.Context, string) error { panic("settings store exploded") },
			wantStage: StageInstall,
			check: func(t *testing.T, err error) {
				if !strings.Contains(err.Error(), "settings store exploded") {
					t.Errorf("error should carry the panic value, got %v", err)
				}
			},
		},
		{
			name:      "commit_rejects",
			archive:   goodArchive,
			commit:    func(context.Context, string) error { return errors.New("disk full") },
			wantStage: StagePersist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var server *httptest.Server
			if tt.archive == nil {
				server = httptest.NewServer(http.NotFoundHandler())
				t.Cleanup(server.Close)
			} else {
				server = serveArchive(t, tt.archive)
			}
			f := newManagerFixture(t, server.URL, tt.platform, tt.artifact)
			if tt.brokenInstall {
				os.MkdirAll(filepath.Dir(f.mgr.InstallPath()), 0o755)
				if err := os.WriteFile(f.mgr.InstallPath(), []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
					t.Fatal(err)
				}
			}
			progressSub := f.bus.Progress.Subscribe()
			logSub := f.bus.Logs.Subscribe()

			path, err := f.mgr.Install(context.Background(), "attempt-x", tt.commit)
			if err == nil {
				t.Fatalf("Install succeeded unexpectedly: %s", path)
			}
			var acq *AcquisitionError
			if !errors.As(err, &acq) || acq.Stage != tt.wantStage {
				t.Fatalf("expected AcquisitionError at %s, got %v", tt.wantStage, err)
			}
			if tt.check != nil {
				tt.check(t, err)
			}

			f.bus.Close()
			progress := drain(progressSub)
			logs := drain(logSub)

			if last := progress[len(progress)-1]; last.Status != events.StatusFailed {
				t.Errorf("last status = %s, want failed", last.Status)
			}
			for _, p := range progress[:len(progress)-1] {
				if p.Status.IsTerminal() {
					t.Errorf("unexpected terminal status %s before failure", p.Status)
				}
			}
			lastLog := logs[len(logs)-1]
			if lastLog.Level != events.LevelError || lastLog.Details == "" {
				t.Errorf("last log = %+v, want error with details", lastLog)
			}

			if _, err := os.Stat(f.mgr.InstallPath()); !os.IsNotExist(err) {
				t.Error("nothing should be installed after a failure")
			}
			assertEmptyDir(t, f.layout.TmpDir())
			assertEmptyDir(t, f.layout.TxnDir())
		})
	}
}

func TestManagerInstall_Checksum(t *testing.T) {
	archive := pandocArchive(t, testutil.FakeOptions{}, 0)

	for _, tc := range []struct {
		name    string
		sum     string
		wantErr bool
	}{
		{"match", sha256Hex(string(archive)), false},
		{"mismatch", sha256Hex("other"), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc(testArtifactPath, func(w http.ResponseWriter, r *http.Request) { w.Write(archive) })
			mux.HandleFunc("/3.6.4/SHA256SUMS", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, "%s  pandoc-3.6.4-linux-amd64.tar.gz\n", tc.sum)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			f := newManagerFixture(t, server.URL, nil, ArtifactOptions{ChecksumURL: server.URL + "/{version}/SHA256SUMS"})
			_, err := f.mgr.Install(context.Background(), "sum", nil)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("Install failed: %v", err)
				}
				return
			}
			var acq *AcquisitionError
			var verr *VerificationError
			if !errors.As(err, &acq) || acq.Stage != StageVerify || !errors.As(err, &verr) {
				t.Errorf("expected verify-stage VerificationError, got %v", err)
			}
		})
	}
}

func TestManagerInstall_LockHeld(t *testing.T) {
	server := serveArchive(t, pandocArchive(t, testutil.FakeOptions{}, 0))
	f := newManagerFixture(t, server.URL, nil, ArtifactOptions{})

	lock, err := transaction.AcquireLock(f.layout.LockDir(), transaction.InstallLockName)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err = f.mgr.Install(context.Background(), "locked", nil)
	var acq *AcquisitionError
	if !errors.As(err, &acq) || acq.Stage != StageLock || !errors.Is(err, transaction.ErrLockExists) {
		t.Errorf("expected lock-stage failure, got %v", err)
	}
}

func TestManagerInstall_MidDownloadSubscriber(t *testing.T) {
	archive := pandocArchive(t, testutil.FakeOptions{}, 512*1024)
	firstPart := len(archive) / 4
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(testArtifactPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
		w.Write(archive[:firstPart])
		w.(http.Flusher).Flush()
		<-release
		w.Write(archive[firstPart:])
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newManagerFixture(t, server.URL, nil, ArtifactOptions{})
	early := f.bus.Progress.Subscribe()

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Install(context.Background(), "mid", nil)
		done <- err
	}()

	// Wait until bytes are flowing, then attach a second observer
	var seen []events.DownloadProgress
	for {
		p := <-early.C()
		seen = append(seen, p)
		if p.Status == events.StatusDownloading && p.DownloadedBytes > 0 {
			break
		}
	}
	late := f.bus.Progress.Subscribe()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	f.bus.Close()

	earlyAll := append(seen, drain(early)...)
	lateAll := drain(late)

	if len(lateAll) == 0 {
		t.Fatal("late subscriber received nothing")
	}
	for _, p := range lateAll {
		if p.Status == events.StatusChecking {
			t.Error("late subscriber received an event published before it subscribed")
		}
	}
	// The late stream is a suffix of the early stream
	offset := len(earlyAll) - len(lateAll)
	if offset <= 0 {
		t.Fatalf("late subscriber saw %d events, early %d", len(lateAll), len(earlyAll))
	}
	for i, p := range lateAll {
		if earlyAll[offset+i] != p {
			t.Fatalf("event %d differs between subscribers: %+v vs %+v", i, earlyAll[offset+i], p)
		}
	}
	if lateAll[len(lateAll)-1].Status != events.StatusComplete {
		t.Errorf("late subscriber missed the terminal status")
	}
}

func TestManagerRecover(t *testing.T) {
	f := newManagerFixture(t, "http://127.0.0.1:0", nil, ArtifactOptions{})

	staging := filepath.Join(f.layout.TmpDir(), "crashed")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(staging, "pandoc.tar.gz.tmp"), []byte("partial"), 0o644)
	txn := transaction.NewInstall("crashed", "pandoc.tar.gz", staging, f.mgr.InstallPath())
	if err := txn.SetState(f.layout.TxnDir(), transaction.StateInProgress, nil); err != nil {
		t.Fatal(err)
	}
	orphan := filepath.Join(f.layout.TmpDir(), "orphan")
	os.MkdirAll(orphan, 0o755)

	report, err := f.mgr.Recover()
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if len(report.Abandoned) != 1 || report.Abandoned[0] != "crashed" {
		t.Errorf("Abandoned = %v", report.Abandoned)
	}
	assertEmptyDir(t, f.layout.TmpDir())
	assertEmptyDir(t, f.layout.TxnDir())

	// A held lock means another process is installing; leave its files alone
	lock, err := transaction.AcquireLock(f.layout.LockDir(), transaction.InstallLockName)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()
	os.MkdirAll(orphan, 0o755)
	if _, err := f.mgr.Recover(); err != nil {
		t.Fatalf("Recover with held lock failed: %v", err)
	}
	if _, err := os.Stat(orphan); err != nil {
		t.Error("Recover should not touch staging while another process holds the lock")
	}
}
