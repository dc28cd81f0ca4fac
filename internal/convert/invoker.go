// Package convert runs pandoc conversions as subprocesses.
//
// A conversion request is validated up front; invalid requests are answered
// immediately with a single error log entry and never start a process. Valid
// requests run on a bounded pool of workers and report their transcript on
// the shared event bus:
//
//	info     $ pandoc "in.md" -t docx -o "in.docx"
//	info     <stdout / warnings, if any>
//	success  Successfully created: in.docx      (or one error entry)
//
// Two identical requests submitted while the first is still running share
// one process and one Task.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/pandock/internal/events"
	"github.com/ZebulonRouseFrantzich/pandock/internal/logging"
)

// DefaultProbeTimeout bounds a --version run.
const DefaultProbeTimeout = 10 * time.Second

var optionKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Options that would redirect pandoc's output away from the computed path.
var reservedOptions = map[string]bool{
	"output": true,
	"to":     true,
	"write":  true,
}

// Request describes one conversion.
type Request struct {
	BinaryPath   string
	InputPath    string
	OutputFormat string
	// Options are passed as --key=value (or --key when the value is empty).
	Options map[string]string
}

// Result is the outcome of a conversion. Exactly one of OutputPath and Error
// is set.
type Result struct {
	Success    bool
	OutputPath string
	Error      string
	// Err is the typed cause of a failure.
	Err error
}

func failure(err error) Result {
	return Result{Error: err.Error(), Err: err}
}

// Gate delays conversions, e.g. while the converter binary is being replaced.
type Gate interface {
	WaitIdle(ctx context.Context) error
}

// Config wires an Invoker.
type Config struct {
	Bus    *events.Bus
	Clock  events.Clock
	Logger logging.Logger
	// Runner defaults to ExecRunner.
	Runner Runner
	Gate   Gate
	// Locate supplies the binary for requests without a BinaryPath. It runs
	// inside the task, after Gate. Without it such requests are rejected.
	Locate func(ctx context.Context) (string, error)
	// Workers bounds concurrent pandoc processes (default runtime.NumCPU()).
	Workers int
	// DefaultOptions are merged under each request's options.
	DefaultOptions map[string]string
	// Timeout bounds a single pandoc run; zero means no limit.
	Timeout      time.Duration
	ProbeTimeout time.Duration
	NewID        func() string
}

// Invoker validates conversion requests and runs pandoc for them.
type Invoker struct {
	bus          *events.Bus
	clock        events.Clock
	logger       logging.Logger
	runner       Runner
	gate         Gate
	locate       func(context.Context) (string, error)
	defaults     map[string]string
	timeout      time.Duration
	probeTimeout time.Duration
	newID        func() string

	slots chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[uint64]*Task
}

// NewInvoker creates an invoker. It fails when a default option has an
// invalid name.
func NewInvoker(cfg Config) (*Invoker, error) {
	if _, err := optionArgs(cfg.DefaultOptions); err != nil {
		return nil, fmt.Errorf("default options: %w", err)
	}

	i := &Invoker{
		bus:          cfg.Bus,
		clock:        cfg.Clock,
		logger:       logging.OrNop(cfg.Logger),
		runner:       cfg.Runner,
		gate:         cfg.Gate,
		locate:       cfg.Locate,
		defaults:     copyOptions(cfg.DefaultOptions),
		timeout:      cfg.Timeout,
		probeTimeout: cfg.ProbeTimeout,
		newID:        cfg.NewID,
		inflight:     make(map[uint64]*Task),
	}
	if i.runner == nil {
		i.runner = ExecRunner{}
	}
	if i.probeTimeout <= 0 {
		i.probeTimeout = DefaultProbeTimeout
	}
	if i.newID == nil {
		i.newID = func() string { return uuid.New().String() }
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	i.slots = make(chan struct{}, workers)
	return i, nil
}

// Task is a handle on a submitted conversion.
type Task struct {
	// ID correlates the task's log entries.
	ID string

	done   chan struct{}
	result Result
}

func newTask(id string) *Task {
	return &Task{ID: id, done: make(chan struct{})}
}

func (t *Task) finish(res Result) {
	t.result = res
	close(t.done)
}

// Done is closed when the result is available.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait returns the result, or a failed Result carrying ctx's error if ctx ends
// first. The conversion itself keeps running.
func (t *Task) Wait(ctx context.Context) Result {
	select {
	case <-t.done:
		return t.result
	case <-ctx.Done():
		return failure(ctx.Err())
	}
}

// Convert submits req and returns immediately. The conversion is detached from
// ctx's cancellation; use Task.Wait to bound how long a caller waits.
func (i *Invoker) Convert(ctx context.Context, req Request) *Task {
	id := i.newID()
	em := events.NewEmitter(i.bus, i.clock, events.SourceConversion, id)

	p, err := i.prepare(req)
	if err != nil {
		em.Error(err.Error(), "")
		i.logger.Warn("conversion rejected", "request", id, "error", err)
		t := newTask(id)
		t.finish(failure(err))
		return t
	}

	i.mu.Lock()
	if running, ok := i.inflight[p.key]; ok {
		i.mu.Unlock()
		i.logger.Debug("joining running conversion", "request", running.ID, "input", p.input)
		return running
	}
	t := newTask(id)
	i.inflight[p.key] = t
	i.wg.Add(1)
	i.mu.Unlock()

	go i.run(context.WithoutCancel(ctx), t, em, p)
	return t
}

// Wait blocks until every submitted conversion has finished.
func (i *Invoker) Wait() {
	i.wg.Wait()
}

func (i *Invoker) run(ctx context.Context, t *Task, em *events.Emitter, p *plan) {
	var res Result
	defer func() {
		if rec := recover(); rec != nil {
			err := &ProcessError{Err: fmt.Errorf("panic: %v", rec)}
			em.Error("Conversion failed", err.Details())
			i.logger.Error("conversion panicked", "request", t.ID, "panic", rec)
			res = failure(err)
		}
		i.mu.Lock()
		delete(i.inflight, p.key)
		i.mu.Unlock()
		t.finish(res)
		i.wg.Done()
	}()
	res = i.execute(ctx, em, p)
}

func (i *Invoker) execute(ctx context.Context, em *events.Emitter, p *plan) Result {
	if i.gate != nil {
		if err := i.gate.WaitIdle(ctx); err != nil {
			return i.fail(em, p, &ProcessError{Err: fmt.Errorf("wait for pandoc: %w", err)})
		}
	}

	binary := p.binary
	if binary == "" {
		path, err := i.locate(ctx)
		if err != nil || path == "" {
			reason := "no pandoc binary configured"
			if err != nil {
				reason = err.Error()
			}
			err := &InvalidRequestError{Field: "binary path", Reason: reason}
			em.Error(err.Error(), "")
			i.logger.Warn("conversion rejected", "request", em.CorrelationID(), "error", err)
			return failure(err)
		}
		binary = path
	}

	i.slots <- struct{}{}
	defer func() { <-i.slots }()

	em.Info("$ "+commandLine(binary, p.args, p.input, p.output), "")

	runCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	stdout, stderr, code, err := i.runner.Run(runCtx, binary, p.args)
	if err != nil {
		return i.fail(em, p, &ProcessError{Stderr: string(stderr), Err: fmt.Errorf("execute pandoc: %w", err)})
	}

	if out := strings.TrimSpace(string(stdout)); out != "" {
		em.Info(out, "")
	}
	if code != 0 {
		return i.fail(em, p, &ProcessError{ExitCode: code, Stderr: string(stderr)})
	}
	// pandoc reports warnings on stderr even when it succeeds
	if warn := strings.TrimSpace(string(stderr)); warn != "" {
		em.Info(warn, "")
	}

	info, err := os.Stat(p.output)
	if err != nil || info.IsDir() {
		return i.fail(em, p, &ProcessError{Err: errors.New("output file was not created")})
	}

	em.Success("Successfully created: "+p.output, "")
	i.logger.Info("conversion complete", "request", em.CorrelationID(), "output", p.output, "format", p.format.Name)
	return Result{Success: true, OutputPath: p.output}
}

func (i *Invoker) fail(em *events.Emitter, p *plan, err *ProcessError) Result {
	em.Error("Conversion failed: "+err.Error(), err.Details())
	i.logger.Warn("conversion failed", "request", em.CorrelationID(), "input", p.input, "error", err)
	return failure(err)
}

// plan is a validated request ready to run.
type plan struct {
	binary string
	input  string
	output string
	format Format
	args   []string
	key    uint64
}

// prepare validates req. An empty BinaryPath is accepted only when the
// invoker can locate a binary later.
func (i *Invoker) prepare(req Request) (*plan, error) {
	if strings.TrimSpace(req.BinaryPath) == "" && i.locate == nil {
		return nil, &InvalidRequestError{Field: "binary path", Reason: "no pandoc binary configured"}
	}
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, &InvalidRequestError{Field: "input", Reason: "no input file given"}
	}
	input, err := filepath.Abs(req.InputPath)
	if err != nil {
		return nil, &InvalidRequestError{Field: "input", Reason: err.Error()}
	}
	info, err := os.Stat(input)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, &InvalidRequestError{Field: "input", Reason: fmt.Sprintf("%s does not exist", input)}
	case err != nil:
		return nil, &InvalidRequestError{Field: "input", Reason: err.Error()}
	case info.IsDir():
		return nil, &InvalidRequestError{Field: "input", Reason: fmt.Sprintf("%s is a directory", input)}
	}

	format, ok := LookupFormat(req.OutputFormat)
	if !ok {
		return nil, &InvalidRequestError{Field: "format", Reason: fmt.Sprintf("unknown output format %q", req.OutputFormat)}
	}

	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	output := filepath.Join(filepath.Dir(input), stem+"."+format.Extension)
	if output == input {
		return nil, &InvalidRequestError{Field: "format", Reason: fmt.Sprintf("output %s would overwrite the input", output)}
	}

	opts := copyOptions(i.defaults)
	for k, v := range req.Options {
		opts[k] = v
	}
	extra, err := optionArgs(opts)
	if err != nil {
		return nil, err
	}

	args := append([]string{input, "-t", format.Writer, "-o", output}, extra...)
	p := &plan{
		binary: req.BinaryPath,
		input:  input,
		output: output,
		format: format,
		args:   args,
	}

	h := xxhash.New()
	h.WriteString(p.binary)
	for _, a := range args {
		h.Write([]byte{0})
		h.WriteString(a)
	}
	p.key = h.Sum64()
	return p, nil
}

// ValidateOptionKey reports whether key may be used as a pandoc option name.
func ValidateOptionKey(key string) error {
	if !optionKeyPattern.MatchString(key) {
		return &InvalidRequestError{Field: "option", Reason: fmt.Sprintf("%q is not a valid option name", key)}
	}
	if reservedOptions[key] {
		return &InvalidRequestError{Field: "option", Reason: fmt.Sprintf("%q is set by pandock", key)}
	}
	return nil
}

// optionArgs renders options as sorted --key=value arguments.
func optionArgs(opts map[string]string) ([]string, error) {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		if err := ValidateOptionKey(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := opts[k]; v != "" {
			args = append(args, "--"+k+"="+v)
		} else {
			args = append(args, "--"+k)
		}
	}
	return args, nil
}

func copyOptions(opts map[string]string) map[string]string {
	out := make(map[string]string, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	return out
}

// commandLine renders the command for the log transcript, always quoting
// the input and output paths.
func commandLine(binary string, args []string, input, output string) string {
	var b strings.Builder
	b.WriteString(binary)
	for _, a := range args {
		b.WriteByte(' ')
		if a == input || a == output || a == "" || strings.ContainsAny(a, " \t\"'") {
			b.WriteString(strconv.Quote(a))
		} else {
			b.WriteString(a)
		}
	}
	return b.String()
}
