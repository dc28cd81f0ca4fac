package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io/fs"
	"testing"
)

// Entry is one file in a test archive.
type Entry struct {
	Name string
	Body string
	Mode int64
	Dir  bool
}

// TarGz builds an in-memory .tar.gz archive.
func TarGz(t *testing.T, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: e.Mode}
		if e.Dir {
			hdr.Typeflag = tar.TypeDir
			if hdr.Mode == 0 {
				hdr.Mode = 0o755
			}
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
			if hdr.Mode == 0 {
				hdr.Mode = 0o644
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if !e.Dir {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				t.Fatalf("write tar body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// Zip builds an in-memory .zip archive.
func Zip(t *testing.T, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		name := e.Name
		if e.Dir && name[len(name)-1] != '/' {
			name += "/"
		}
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		fm := fs.FileMode(mode)
		if e.Dir {
			fm |= fs.ModeDir
		}
		hdr.SetMode(fm)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if !e.Dir {
			if _, err := w.Write([]byte(e.Body)); err != nil {
				t.Fatalf("write zip entry: %v", err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
