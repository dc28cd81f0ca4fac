package binary

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// DefaultProbeTimeout bounds a single `--version` probe.
const DefaultProbeTimeout = 10 * time.Second

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	// KeyringPath is an OpenPGP public keyring used for detached signatures.
	KeyringPath  string
	ProbeTimeout time.Duration
}

// Verifier checks downloaded archives and candidate binaries. It never
// touches persisted settings.
type Verifier struct {
	keyringPath  string
	probeTimeout time.Duration
}

// NewVerifier creates a new verifier
func NewVerifier(opts VerifierOptions) *Verifier {
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Verifier{keyringPath: opts.KeyringPath, probeTimeout: timeout}
}

// HasKeyring reports whether signature verification is configured.
func (v *Verifier) HasKeyring() bool {
	return v.keyringPath != ""
}

// Verify reports whether path is a working converter binary: an existing,
// non-empty regular file with execute permission whose `--version` output
// starts with "pandoc". A missing execute bit is added on unix.
//
// Verify is idempotent; a failing probe yields a negative Verdict, not an
// error.
func (v *Verifier) Verify(ctx context.Context, path string) Verdict {
	if path == "" {
		return Verdict{Detail: "empty path"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Verdict{Detail: fmt.Sprintf("%s does not exist", path)}
		}
		return Verdict{Detail: fmt.Sprintf("stat %s: %v", path, err)}
	}
	if !info.Mode().IsRegular() {
		return Verdict{Detail: fmt.Sprintf("%s is not a regular file", path)}
	}
	if info.Size() == 0 {
		return Verdict{Detail: fmt.Sprintf("%s is empty", path)}
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		if err := os.Chmod(path, info.Mode().Perm()|0o755); err != nil {
			return Verdict{Detail: fmt.Sprintf("%s is not executable: %v", path, err)}
		}
	}

	version, _, err := v.Probe(ctx, path)
	if err != nil {
		return Verdict{Detail: err.Error()}
	}
	return Verdict{OK: true, Version: version}
}

// Probe runs `path --version` and returns the reported version and the
// non-empty output lines.
func (v *Verifier) Probe(ctx context.Context, path string) (string, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("probe %s: timed out after %s", path, v.probeTimeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", nil, fmt.Errorf("probe %s: %v: %s", path, err, msg)
		}
		return "", nil, fmt.Errorf("probe %s: %w", path, err)
	}

	lines := nonEmptyLines(stdout.String())
	if len(lines) == 0 {
		return "", nil, fmt.Errorf("probe %s: no version output", path)
	}
	version, ok := parseVersionLine(lines[0])
	if !ok {
		return "", lines, fmt.Errorf("probe %s: unexpected version output %q", path, lines[0])
	}
	return version, lines, nil
}

// parseVersionLine accepts "pandoc 3.6.4" and "pandoc.exe 3.6.4".
func parseVersionLine(line string) (string, bool) {
	if !strings.HasPrefix(line, BinaryName) {
		return "", false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", true
	}
	return fields[1], true
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r "); strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// VerifyArchive checks a downloaded archive against whichever integrity
// files were fetched. With neither a signature nor a checksum list the
// result is VerificationNone; the extracted binary is still probed later.
func (v *Verifier) VerifyArchive(archivePath, artifactName, signaturePath, checksumPath string) (*VerificationResult, error) {
	result := &VerificationResult{Method: VerificationNone, Success: true}

	if checksumPath != "" {
		r, err := v.verifySHA256(archivePath, artifactName, checksumPath)
		if err != nil {
			return r, &VerificationError{Path: archivePath, Reason: "checksum", Err: err}
		}
		result = r
	}

	if signaturePath != "" {
		r, err := v.verifyGPG(archivePath, signaturePath)
		if err != nil {
			return r, &VerificationError{Path: archivePath, Reason: "signature", Err: err}
		}
		result = r
	}

	return result, nil
}

// verifyGPG verifies a file using GPG signature
func (v *Verifier) verifyGPG(archivePath, signaturePath string) (*VerificationResult, error) {
	fail := func(err error) (*VerificationResult, error) {
		return &VerificationResult{Method: VerificationGPG, Success: false, Error: err}, err
	}

	keyring, err := LoadKeyring(v.keyringPath)
	if err != nil {
		return fail(fmt.Errorf("load keyring: %w", err))
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fail(fmt.Errorf("open archive: %w", err))
	}
	defer archiveFile.Close()

	sigFile, err := os.Open(signaturePath)
	if err != nil {
		return fail(fmt.Errorf("open signature: %w", err))
	}
	defer sigFile.Close()

	// Try armored first, then binary
	_, err = openpgp.CheckArmoredDetachedSignature(keyring, archiveFile, sigFile, nil)
	if err != nil {
		archiveFile.Seek(0, io.SeekStart)
		sigFile.Seek(0, io.SeekStart)
		_, err = openpgp.CheckDetachedSignature(keyring, archiveFile, sigFile, nil)
	}
	if err != nil {
		return fail(fmt.Errorf("verify signature: %w", err))
	}

	return &VerificationResult{Method: VerificationGPG, Success: true}, nil
}

// verifySHA256 verifies a file using SHA256 checksum
func (v *Verifier) verifySHA256(archivePath, artifactName, checksumPath string) (*VerificationResult, error) {
	fail := func(err error) (*VerificationResult, error) {
		return &VerificationResult{Method: VerificationSHA256, Success: false, Error: err}, err
	}

	actualChecksum, err := calculateSHA256(archivePath)
	if err != nil {
		return fail(fmt.Errorf("calculate checksum: %w", err))
	}

	expectedChecksum, err := findChecksum(checksumPath, artifactName)
	if err != nil {
		return fail(fmt.Errorf("find checksum: %w", err))
	}

	if !strings.EqualFold(actualChecksum, expectedChecksum) {
		return fail(fmt.Errorf("checksum mismatch: actual %s, expected %s", actualChecksum, expectedChecksum))
	}

	return &VerificationResult{Method: VerificationSHA256, Success: true}, nil
}

// calculateSHA256 calculates the SHA256 checksum of a file
func calculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// findChecksum finds the checksum for a specific filename in a checksum file
// Format: "abc123def456  filename.tar.gz" (a leading '*' marks binary mode)
func findChecksum(checksumPath, filename string) (string, error) {
	file, err := os.Open(checksumPath)
	if err != nil {
		return "", fmt.Errorf("open checksum file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}

		checksumFilename := strings.TrimPrefix(parts[1], "*")
		if checksumFilename == filename || filepath.Base(checksumFilename) == filename {
			return parts[0], nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan checksum file: %w", err)
	}

	return "", fmt.Errorf("checksum not found for %s", filename)
}
