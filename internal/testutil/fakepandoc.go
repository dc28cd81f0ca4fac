package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// FakeOptions shapes the behaviour of a fake pandoc script.
type FakeOptions struct {
	// Version printed by --version (default "3.6.4").
	Version string
	// VersionOutput replaces the whole --version output when set.
	VersionOutput string
	// VersionExit is the exit code of --version.
	VersionExit int

	// Stdout and Stderr are written during a conversion.
	Stdout string
	Stderr string
	// ExitCode of a conversion.
	ExitCode int
	// SkipOutput exits without creating the -o file.
	SkipOutput bool
	// Delay is passed to sleep(1) before a conversion finishes, e.g. "0.3".
	Delay string
}

// SkipOnWindows skips tests that rely on shell scripts.
func SkipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake pandoc scripts require a POSIX shell")
	}
}

// FakePandoc writes an executable shell script at dir/pandoc behaving like
// pandoc for --version and simple conversions. Every invocation appends its
// arguments to <script>.calls.
func FakePandoc(t *testing.T, dir string, opts FakeOptions) string {
	t.Helper()
	SkipOnWindows(t)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create fake pandoc dir: %v", err)
	}
	path := filepath.Join(dir, "pandoc")
	if err := os.WriteFile(path, []byte(FakePandocScript(path+".calls", opts)), 0o755); err != nil {
		t.Fatalf("write fake pandoc: %v", err)
	}
	return path
}

// FakePandocScript renders the script body used by FakePandoc, recording
// invocations in callsPath.
func FakePandocScript(callsPath string, opts FakeOptions) string {
	version := opts.Version
	if version == "" {
		version = "3.6.4"
	}
	versionOut := opts.VersionOutput
	if versionOut == "" {
		versionOut = fmt.Sprintf("pandoc %s\nFeatures: +server +lua\nScripting engine: Lua 5.4\n", version)
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "echo \"$*\" >> %s\n", shellQuote(callsPath))
	b.WriteString("if [ \"$1\" = \"--version\" ]; then\n")
	fmt.Fprintf(&b, "  printf '%%s' %s\n", shellQuote(versionOut))
	fmt.Fprintf(&b, "  exit %d\n", opts.VersionExit)
	b.WriteString("fi\n")
	b.WriteString("out=\"\"\nprev=\"\"\n")
	b.WriteString("for a in \"$@\"; do\n  if [ \"$prev\" = \"-o\" ]; then out=\"$a\"; fi\n  prev=\"$a\"\ndone\n")
	if opts.Delay != "" {
		fmt.Fprintf(&b, "sleep %s\n", opts.Delay)
	}
	if opts.Stdout != "" {
		fmt.Fprintf(&b, "printf '%%s\\n' %s\n", shellQuote(opts.Stdout))
	}
	if opts.Stderr != "" {
		fmt.Fprintf(&b, "printf '%%s\\n' %s >&2\n", shellQuote(opts.Stderr))
	}
	if opts.ExitCode == 0 && !opts.SkipOutput {
		b.WriteString("if [ -n \"$out\" ]; then printf 'converted\\n' > \"$out\"; fi\n")
	}
	fmt.Fprintf(&b, "exit %d\n", opts.ExitCode)
	return b.String()
}

// Calls returns the recorded argument lines of a fake pandoc, excluding
// --version probes.
func Calls(t *testing.T, script string) []string {
	t.Helper()
	data, err := os.ReadFile(script + ".calls")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read calls: %v", err)
	}
	var out []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" || line == "--version" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
