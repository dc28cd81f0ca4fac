package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/testutil"
)

// fakeRunner records invocations and by default writes the -o file.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	running    atomic.Int32
	maxRunning atomic.Int32
	release    chan struct{}

	fn func(args []string) ([]byte, []byte, int, error)
}

func (r *fakeRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		cur := r.maxRunning.Load()
		if n <= cur || r.maxRunning.CompareAndSwap(cur, n) {
			break
		}
	}
	if r.release != nil {
		<-r.release
	}
	if r.fn != nil {
		return r.fn(args)
	}
	if err := os.WriteFile(outputArg(args), []byte("converted"), 0o644); err != nil {
		return nil, nil, -1, err
	}
	return nil, nil, 0, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func outputArg(args []string) string {
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

type fixture struct {
	inv    *Invoker
	bus    *events.Bus
	runner *fakeRunner
	logs   *events.Subscription[events.LogEntry]
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	bus := events.NewBus()
	runner, _ := cfg.Runner.(*fakeRunner)
	if cfg.Runner == nil {
		runner = &fakeRunner{}
		cfg.Runner = runner
	}
	cfg.Bus = bus
	inv, err := NewInvoker(cfg)
	require.NoError(t, err)
	return &fixture{inv: inv, bus: bus, runner: runner, logs: bus.Logs.Subscribe()}
}

// transcript closes the bus and returns every log entry published.
func (f *fixture) transcript() []events.LogEntry {
	f.inv.Wait()
	f.bus.Close()
	var out []events.LogEntry
	for e := range f.logs.C() {
		out = append(out, e)
	}
	return out
}

func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("# Title\n"), 0o644))
	return path
}

func levels(entries []events.LogEntry) []events.Level {
	out := make([]events.Level, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Level)
	}
	return out
}

func wait(t *testing.T, task *Task) Result {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	return task.Wait(context.Background())
}

func TestConvert_Success(t *testing.T) {
	f := newFixture(t, Config{})
	input := writeInput(t, "notes.md")
	wantOut := filepath.Join(filepath.Dir(input), "notes.docx")

	res := wait(t, f.inv.Convert(context.Background(), Request{
		BinaryPath:   "/opt/pandoc",
		InputPath:    input,
		OutputFormat: "docx",
	}))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, wantOut, res.OutputPath)
	assert.Empty(t, res.Error)
	require.Equal(t, 1, f.runner.callCount())
	assert.Equal(t, []string{"/opt/pandoc", input, "-t", "docx", "-o", wantOut}, f.runner.calls[0])

	logs := f.transcript()
	require.Equal(t, []events.Level{events.LevelInfo, events.LevelSuccess}, levels(logs))
	assert.Equal(t, `$ /opt/pandoc "`+input+`" -t docx -o "`+wantOut+`"`, logs[0].Message)
	assert.Equal(t, "Successfully created: "+wantOut, logs[1].Message)
	for _, e := range logs {
		assert.Equal(t, events.SourceConversion, e.Source)
		assert.Equal(t, logs[0].CorrelationID, e.CorrelationID)
	}
}

func TestConvert_OverwritesExistingOutput(t *testing.T) {
	f := newFixture(t, Config{})
	input := writeInput(t, "page.md")
	out := filepath.Join(filepath.Dir(input), "page.html")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0o644))

	res := wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: input, OutputFormat: "html"}))
	require.True(t, res.Success)
	data, _ := os.ReadFile(out)
	assert.Equal(t, "converted", string(data))
}

func TestConvert_EchoesOutputOnSuccess(t *testing.T) {
	runner := &fakeRunner{fn: func(args []string) ([]byte, []byte, int, error) {
		os.WriteFile(outputArg(args), nil, 0o644)
		return []byte("hello\n"), []byte("[WARNING] Missing title\n"), 0, nil
	}}
	f := newFixture(t, Config{Runner: runner})

	res := wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: writeInput(t, "a.md"), OutputFormat: "html"}))
	require.True(t, res.Success)

	logs := f.transcript()
	require.Equal(t, []events.Level{events.LevelInfo, events.LevelInfo, events.LevelInfo, events.LevelSuccess}, levels(logs))
	assert.Equal(t, "hello", logs[1].Message)
	assert.Equal(t, "[WARNING] Missing title", logs[2].Message)
}

func TestConvert_RejectedRequests(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty_binary", Request{InputPath: input, OutputFormat: "html"}, "binary path"},
		{"empty_input", Request{BinaryPath: "pandoc", OutputFormat: "html"}, "input"},
		{"missing_input", Request{BinaryPath: "pandoc", InputPath: filepath.Join(dir, "nope.md"), OutputFormat: "html"}, "input"},
		{"directory_input", Request{BinaryPath: "pandoc", InputPath: dir, OutputFormat: "html"}, "input"},
		{"unknown_format", Request{BinaryPath: "pandoc", InputPath: input, OutputFormat: "zzz"}, "format"},
		{"overwrites_input", Request{BinaryPath: "pandoc", InputPath: input, OutputFormat: "md"}, "format"},
		{"invalid_option", Request{BinaryPath: "pandoc", InputPath: input, OutputFormat: "html", Options: map[string]string{"Bad_Key": "1"}}, "option"},
		{"reserved_option", Request{BinaryPath: "pandoc", InputPath: input, OutputFormat: "html", Options: map[string]string{"output": "/tmp/x"}}, "option"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			task := f.inv.Convert(context.Background(), tt.req)

			select {
			case <-task.Done():
			default:
				t.Fatal("rejected request should complete immediately")
			}
			res := wait(t, task)
			assert.False(t, res.Success)
			assert.Empty(t, res.OutputPath)
			assert.NotEmpty(t, res.Error)

			var invalid *InvalidRequestError
			require.ErrorAs(t, res.Err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
			assert.Zero(t, f.runner.callCount(), "no process should be spawned")

			logs := f.transcript()
			require.Len(t, logs, 1)
			assert.Equal(t, events.LevelError, logs[0].Level)
		})
	}
}

func TestConvert_ProcessFailure(t *testing.T) {
	tests := []struct {
		name        string
		fn          func(args []string) ([]byte, []byte, int, error)
		wantError   string
		wantDetails string
	}{
		{
			name: "nonzero_exit_with_stderr",
			fn: func([]string) ([]byte, []byte, int, error) {
				return nil, []byte("pandoc: Unknown extension\nsecond line\n"), 2, nil
			},
			wantError:   "pandoc: Unknown extension",
			wantDetails: "exit status 2",
		},
		{
			name:        "nonzero_exit_silent",
			fn:          func([]string) ([]byte, []byte, int, error) { return nil, nil, 1, nil },
			wantError:   "conversion failed (exit status 1)",
			wantDetails: "exit status 1",
		},
		{
			name:        "missing_output",
			fn:          func([]string) ([]byte, []byte, int, error) { return nil, nil, 0, nil },
			wantError:   "conversion failed: output file was not created",
			wantDetails: "output file was not created",
		},
		{
			name: "spawn_failure",
			fn: func([]string) ([]byte, []byte, int, error) {
				return nil, nil, -1, errors.New("exec: permission denied")
			},
			wantError:   "conversion failed: execute pandoc: exec: permission denied",
			wantDetails: "permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{Runner: &fakeRunner{fn: tt.fn}})
			res := wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: writeInput(t, "a.md"), OutputFormat: "docx"}))

			assert.False(t, res.Success)
			assert.Empty(t, res.OutputPath)
			assert.Equal(t, tt.wantError, res.Error)
			var perr *ProcessError
			require.ErrorAs(t, res.Err, &perr)

			logs := f.transcript()
			require.Equal(t, []events.Level{events.LevelInfo, events.LevelError}, levels(logs))
			assert.True(t, strings.HasPrefix(logs[0].Message, "$ pandoc"))
			assert.Contains(t, logs[1].Details, tt.wantDetails)
		})
	}
}

func TestConvert_PanicRecovered(t *testing.T) {
	calls := 0
	runner := &fakeRunner{fn: func(args []string) ([]byte, []byte, int, error) {
		calls++
		if calls == 1 {
			panic("runner exploded")
		}
		os.WriteFile(outputArg(args), nil, 0o644)
		return nil, nil, 0, nil
	}}
	f := newFixture(t, Config{Runner: runner, Workers: 1})
	input := writeInput(t, "a.md")

	res := wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: input, OutputFormat: "html"}))
	assert.False(t, res.Success)
	var perr *ProcessError
	require.ErrorAs(t, res.Err, &perr)
	assert.Contains(t, res.Error, "runner exploded")

	// The worker slot and dedupe entry were released
	res = wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: input, OutputFormat: "html"}))
	assert.True(t, res.Success)

	logs := f.transcript()
	assert.Equal(t, []events.Level{events.LevelInfo, events.LevelError, events.LevelInfo, events.LevelSuccess}, levels(logs))
}

func TestConvert_Options(t *testing.T) {
	f := newFixture(t, Config{DefaultOptions: map[string]string{"standalone": "", "toc": ""}})
	input := writeInput(t, "a.md")

	res := wait(t, f.inv.Convert(context.Background(), Request{
		BinaryPath:   "pandoc",
		InputPath:    input,
		OutputFormat: "html",
		Options:      map[string]string{"metadata": "title=Report", "toc": "true"},
	}))
	require.True(t, res.Success)

	call := f.runner.calls[0]
	assert.Equal(t, []string{"--metadata=title=Report", "--standalone", "--toc=true"}, call[6:])
}

func TestNewInvoker_InvalidDefaultOptions(t *testing.T) {
	_, err := NewInvoker(Config{DefaultOptions: map[string]string{"9lives": ""}})
	require.Error(t, err)
	var invalid *InvalidRequestError
	assert.ErrorAs(t, err, &invalid)
}

func TestConvert_DedupesIdenticalRequests(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	f := newFixture(t, Config{Runner: runner})
	req := Request{BinaryPath: "pandoc", InputPath: writeInput(t, "a.md"), OutputFormat: "html"}

	first := f.inv.Convert(context.Background(), req)
	second := f.inv.Convert(context.Background(), req)
	assert.Same(t, first, second)

	other := req
	other.OutputFormat = "docx"
	third := f.inv.Convert(context.Background(), other)
	assert.NotSame(t, first, third)

	close(runner.release)
	assert.True(t, wait(t, first).Success)
	assert.True(t, wait(t, third).Success)
	assert.Equal(t, 2, runner.callCount())

	// Finished tasks are not joined
	fourth := f.inv.Convert(context.Background(), req)
	assert.NotSame(t, first, fourth)
	assert.True(t, wait(t, fourth).Success)
	assert.Equal(t, 3, runner.callCount())

	logs := f.transcript()
	terminal := 0
	for _, e := range logs {
		if e.Level != events.LevelInfo {
			terminal++
		}
	}
	assert.Equal(t, 3, terminal, "one terminal entry per process")
}

func TestConvert_WorkerLimit(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	f := newFixture(t, Config{Runner: runner, Workers: 2})

	var tasks []*Task
	for _, name := range []string{"a.md", "b.md", "c.md", "d.md", "e.md"} {
		tasks = append(tasks, f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: writeInput(t, name), OutputFormat: "html"}))
	}

	require.Eventually(t, func() bool { return runner.running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return runner.running.Load() > 2 }, 100*time.Millisecond, 5*time.Millisecond)

	close(runner.release)
	for _, task := range tasks {
		assert.True(t, wait(t, task).Success)
	}
	assert.EqualValues(t, 2, runner.maxRunning.Load())
	assert.Equal(t, 5, runner.callCount())
}

type chanGate struct{ open chan struct{} }

func (g chanGate) WaitIdle(ctx context.Context) error {
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestConvert_WaitsForGate(t *testing.T) {
	gate := chanGate{open: make(chan struct{})}
	f := newFixture(t, Config{Gate: gate})

	task := f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: writeInput(t, "a.md"), OutputFormat: "html"})
	assert.Never(t, func() bool { return f.runner.callCount() > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	close(gate.open)
	assert.True(t, wait(t, task).Success)
	assert.Equal(t, 1, f.runner.callCount())
}

func TestConvert_LocatesBinaryAfterGate(t *testing.T) {
	gate := chanGate{open: make(chan struct{})}
	var located atomic.Int32
	f := newFixture(t, Config{Gate: gate, Locate: func(context.Context) (string, error) {
		located.Add(1)
		return "/opt/pandoc/bin/pandoc", nil
	}})

	start := time.Now()
	task := f.inv.Convert(context.Background(), Request{InputPath: writeInput(t, "a.md"), OutputFormat: "html"})
	assert.Less(t, time.Since(start), time.Second, "Convert must return before the gate opens")
	assert.Never(t, func() bool { return located.Load() > 0 }, 50*time.Millisecond, 10*time.Millisecond)

	close(gate.open)
	require.True(t, wait(t, task).Success)
	f.runner.mu.Lock()
	assert.Equal(t, "/opt/pandoc/bin/pandoc", f.runner.calls[0][0])
	f.runner.mu.Unlock()

	logs := f.transcript()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Message, "/opt/pandoc/bin/pandoc")
}

func TestConvert_LocateFails(t *testing.T) {
	f := newFixture(t, Config{Locate: func(context.Context) (string, error) {
		return "", errors.New("pandoc is not available")
	}})

	res := wait(t, f.inv.Convert(context.Background(), Request{InputPath: writeInput(t, "a.md"), OutputFormat: "html"}))
	assert.False(t, res.Success)
	var invalid *InvalidRequestError
	require.ErrorAs(t, res.Err, &invalid)
	assert.Contains(t, res.Error, "not available")
	assert.Zero(t, f.runner.callCount())

	logs := f.transcript()
	require.Len(t, logs, 1)
	assert.Equal(t, events.LevelError, logs[0].Level)
}

func TestTaskWait_ContextExpires(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	f := newFixture(t, Config{Runner: runner})
	task := f.inv.Convert(context.Background(), Request{BinaryPath: "pandoc", InputPath: writeInput(t, "a.md"), OutputFormat: "html"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := task.Wait(ctx)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)

	// The conversion keeps running and finishes normally
	close(runner.release)
	assert.True(t, wait(t, task).Success)
}

func TestConvert_RealProcess(t *testing.T) {
	testutil.SkipOnWindows(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "my notes.md")
	require.NoError(t, os.WriteFile(input, []byte("# hi"), 0o644))

	t.Run("success", func(t *testing.T) {
		bin := testutil.FakePandoc(t, t.TempDir(), testutil.FakeOptions{Stderr: "[WARNING] minor"})
		f := newFixture(t, Config{Runner: ExecRunner{}})
		res := wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: bin, InputPath: input, OutputFormat: "latex"}))

		require.True(t, res.Success, res.Error)
		assert.Equal(t, filepath.Join(dir, "my notes.tex"), res.OutputPath)
		data, err := os.ReadFile(res.OutputPath)
		require.NoError(t, err)
		assert.Equal(t, "converted\n", string(data))

		calls := testutil.Calls(t, bin)
		require.Len(t, calls, 1)
		assert.Equal(t, input+" -t latex -o "+res.OutputPath, calls[0])

		logs := f.transcript()
		assert.Equal(t, []events.Level{events.LevelInfo, events.LevelInfo, events.LevelSuccess}, levels(logs))
	})

	t.Run("failure", func(t *testing.T) {
		bin := testutil.FakePandoc(t, t.TempDir(), testutil.FakeOptions{Stderr: "pandoc: cannot parse", ExitCode: 64})
		f := newFixture(t, Config{Runner: ExecRunner{}})
		res := wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: bin, InputPath: input, OutputFormat: "rst"}))

		assert.False(t, res.Success)
		assert.Equal(t, "pandoc: cannot parse", res.Error)
		var perr *ProcessError
		require.ErrorAs(t, res.Err, &perr)
		assert.Equal(t, 64, perr.ExitCode)
	})

	t.Run("timeout", func(t *testing.T) {
		bin := testutil.FakePandoc(t, t.TempDir(), testutil.FakeOptions{Delay: "5"})
		f := newFixture(t, Config{Runner: ExecRunner{WaitDelay: 100 * time.Millisecond}, Timeout: 100 * time.Millisecond})
		res := wait(t, f.inv.Convert(context.Background(), Request{BinaryPath: bin, InputPath: input, OutputFormat: "org"}))

		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	})
}

func TestExecRunner(t *testing.T) {
	testutil.SkipOnWindows(t)
	bin := testutil.FakePandoc(t, t.TempDir(), testutil.FakeOptions{VersionExit: 3})

	_, _, code, err := ExecRunner{}.Run(context.Background(), bin, []string{"--version"})
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	_, _, _, err = ExecRunner{}.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestCommandLine(t *testing.T) {
	got := commandLine("/usr/bin/pandoc", []string{"/in.md", "-t", "html", "-o", "/in.html", "--metadata=title=A B"}, "/in.md", "/in.html")
	assert.Equal(t, `/usr/bin/pandoc "/in.md" -t html -o "/in.html" "--metadata=title=A B"`, got)
}

func TestValidateOptionKey(t *testing.T) {
	for _, key := range []string{"toc", "pdf-engine", "number-sections", "a1"} {
		assert.NoError(t, ValidateOptionKey(key), key)
	}
	for _, key := range []string{"", "Toc", "-toc", "1toc", "pdf_engine", "to", "output", "write", "toc=1"} {
		assert.Error(t, ValidateOptionKey(key), key)
	}
}
