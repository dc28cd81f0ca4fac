// Package platform detects the operating system, CPU architecture and (on
// Linux) the distribution pandock runs on.
//
// The result selects which converter release artifact to download and is
// exposed to the Lua configuration as a read-only `platform` table.
package platform

import (
	"context"
	"fmt"
)

// Distribution family names as reported in Info.Family.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info contains platform detection information.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // normalized: "amd64", "arm64", or the raw value when unknown
	ArchRaw string // runtime.GOARCH as reported
	Distro  string // distro ID, Linux only (e.g. "ubuntu")
	Family  string // canonical family, Linux only
	Version string // distro version, Linux only
}

// String renders the OS/arch pair, e.g. "linux/amd64".
func (i *Info) String() string {
	return fmt.Sprintf("%s/%s", i.OS, i.Arch)
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// IsAMD64 returns true if the architecture is amd64.
func (i *Info) IsAMD64() bool { return i.Arch == "amd64" }

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool { return i.Arch == "arm64" }

// ExecutableName appends the platform executable suffix to name.
func (i *Info) ExecutableName(name string) string {
	if i.IsWindows() {
		return name + ".exe"
	}
	return name
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Used when the platform is already known
// (tests, cross-platform dry runs).
type StaticDetector struct {
	Info *Info
}

// Detect returns a copy of the configured Info.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if s.Info == nil {
		return nil, fmt.Errorf("static detector: no platform info")
	}
	info := *s.Info
	return &info, nil
}
