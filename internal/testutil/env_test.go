package testutil_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/pandock/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	env := testutil.SetupTestEnv(t)

	if got := os.Getenv("PANDOCK_DATA_DIR"); got != env.DataDir {
		t.Errorf("PANDOCK_DATA_DIR = %q, want %q", got, env.DataDir)
	}
	if got := os.Getenv("PANDOCK_CONFIG_DIR"); got != env.ConfigDir {
		t.Errorf("PANDOCK_CONFIG_DIR = %q, want %q", got, env.ConfigDir)
	}

	for _, dir := range []string{env.DataDir, env.ConfigDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory %s does not exist", dir)
		}
		if !filepath.IsAbs(dir) {
			t.Errorf("path %s is not absolute", dir)
		}
	}
}

func TestSetupTestEnv_Isolation(t *testing.T) {
	env1 := testutil.SetupTestEnv(t)

	t.Run("subtest", func(t *testing.T) {
		env2 := testutil.SetupTestEnv(t)
		if env1.Root == env2.Root {
			t.Error("expected different temp directories for different test contexts")
		}
	})
}

func TestFakePandoc(t *testing.T) {
	dir := t.TempDir()
	script := testutil.FakePandoc(t, dir, testutil.FakeOptions{Version: "3.1.9", Stderr: "[WARNING] it's fine"})

	out, err := exec.Command(script, "--version").Output()
	if err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !strings.HasPrefix(string(out), "pandoc 3.1.9\n") {
		t.Errorf("unexpected version output %q", out)
	}

	target := filepath.Join(dir, "doc.html")
	cmd := exec.Command(script, "doc.md", "-t", "html", "-o", target)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("output not written: %v", err)
	}
	if !strings.Contains(stderr.String(), "it's fine") {
		t.Errorf("stderr = %q", stderr.String())
	}

	calls := testutil.Calls(t, script)
	if len(calls) != 1 || !strings.Contains(calls[0], "-t html") {
		t.Errorf("calls = %v", calls)
	}
}

func TestTarGz(t *testing.T) {
	data := testutil.TarGz(t,
		testutil.Entry{Name: "pandoc-3.6.4/", Dir: true},
		testutil.Entry{Name: "pandoc-3.6.4/bin/pandoc", Body: "#!/bin/sh\n", Mode: 0o755},
	)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	if len(names) != 2 || names[1] != "pandoc-3.6.4/bin/pandoc" {
		t.Errorf("names = %v", names)
	}
}
