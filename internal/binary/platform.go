package binary

import (
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/pandock/internal/platform"
)

// ArtifactOptions controls where a release artifact and its integrity files
// are fetched from.
type ArtifactOptions struct {
	Version string
	Mirror  string
	// ChecksumURL may contain {version}, which is replaced by Version.
	ChecksumURL string
	// SignatureSuffix enables signature lookup when non-empty.
	SignatureSuffix string
}

// ResolveArtifact builds the release artifact description for the platform.
// Pattern: {mirror}/{version}/pandoc-{version}-{platform suffix}
func ResolveArtifact(info *platform.Info, opts ArtifactOptions) (*Artifact, error) {
	if info == nil {
		return nil, fmt.Errorf("platform info is required")
	}

	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}
	mirror := strings.TrimRight(opts.Mirror, "/")
	if mirror == "" {
		mirror = DefaultMirror
	}

	suffix, format, err := artifactSuffix(info.OS, info.Arch)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("pandoc-%s-%s", version, suffix)
	art := &Artifact{
		Version:    version,
		OS:         info.OS,
		Arch:       info.Arch,
		Name:       name,
		URL:        fmt.Sprintf("%s/%s/%s", mirror, version, name),
		Format:     format,
		Executable: info.ExecutableName(BinaryName),
	}
	if opts.SignatureSuffix != "" {
		art.SignatureURL = art.URL + opts.SignatureSuffix
	}
	if opts.ChecksumURL != "" {
		art.ChecksumURL = strings.ReplaceAll(opts.ChecksumURL, "{version}", version)
	}
	return art, nil
}

// artifactSuffix maps a normalized OS/arch pair to pandoc's release naming.
// Note: macOS and Windows use {arch}-{os} order with x86_64 for amd64.
func artifactSuffix(goos, goarch string) (string, ArchiveFormat, error) {
	switch goos {
	case "linux":
		switch goarch {
		case "amd64", "arm64":
			return fmt.Sprintf("linux-%s.tar.gz", goarch), FormatTarGz, nil
		}
	case "darwin":
		switch goarch {
		case "amd64":
			return "x86_64-macOS.zip", FormatZip, nil
		case "arm64":
			return "arm64-macOS.zip", FormatZip, nil
		}
	case "windows":
		if goarch == "amd64" {
			return "windows-x86_64.zip", FormatZip, nil
		}
	}
	return "", "", &UnsupportedPlatformError{OS: goos, Arch: goarch}
}
