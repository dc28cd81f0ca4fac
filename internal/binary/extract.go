package binary

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// maxEntrySize bounds a single extracted file. Current pandoc binaries are
// well under 300 MiB.
const maxEntrySize = 1 << 30

// Extractor handles archive extraction
type Extractor struct{}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract unpacks archivePath into destDir according to format.
func (e *Extractor) Extract(archivePath string, format ArchiveFormat, destDir string) error {
	switch format {
	case FormatTarGz:
		return e.ExtractTarGz(archivePath, destDir)
	case FormatZip:
		return e.ExtractZip(archivePath, destDir)
	default:
		return fmt.Errorf("unsupported archive format: %q", format)
	}
}

// ExtractTarGz extracts a .tar.gz archive to a destination directory
func (e *Extractor) ExtractTarGz(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return wrapFS("create directory", destDir, err)
	}

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return wrapFS("create directory", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tarReader, fs.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		default:
			// Links and device nodes are not needed to run pandoc
			continue
		}
	}
}

// ExtractZip extracts a .zip archive to a destination directory
func (e *Extractor) ExtractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return wrapFS("create directory", destDir, err)
	}

	for _, f := range reader.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return wrapFS("create directory", target, err)
			}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s in archive: %w", f.Name, err)
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = writeEntry(target, rc, perm)
			rc.Close()
			if err != nil {
				return err
			}
		default:
			continue
		}
	}
	return nil
}

// FindExecutable walks dir for a regular file called name and returns the
// shallowest match.
func (e *Extractor) FindExecutable(dir, name string) (string, error) {
	var found string
	depth := -1
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || d.Name() != name {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		n := strings.Count(rel, string(os.PathSeparator))
		if depth == -1 || n < depth {
			found, depth = path, n
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search extracted archive: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("binary %s not found in archive", name)
	}
	return found, nil
}

// SetExecutable sets executable permissions on a file
func SetExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return wrapFS("set executable", path, err)
	}
	return nil
}

// safeJoin resolves name under destDir, rejecting absolute names and entries
// that escape destDir.
func safeJoin(destDir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("illegal file path: %s", name)
	}
	target := filepath.Join(destDir, name)
	root := filepath.Clean(destDir)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path: %s", name)
	}
	return target, nil
}

func writeEntry(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return wrapFS("create directory", filepath.Dir(target), err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return wrapFS("create", target, err)
	}
	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write file %s: %w", target, err)
	}
	if n > maxEntrySize {
		return errors.New("archive entry exceeds size limit: " + filepath.Base(target))
	}
	return nil
}
