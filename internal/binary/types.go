package binary

const (
	// BinaryName is the converter executable name without platform suffix.
	BinaryName = "pandoc"
	// DefaultVersion is the pandoc release installed when none is configured.
	DefaultVersion = "3.6.4"
	// DefaultMirror is the base URL release artifacts are fetched from.
	DefaultMirror = "https://github.com/jgm/pandoc/releases/download"
	// DefaultSignatureSuffix is appended to the artifact URL to locate a
	// detached OpenPGP signature.
	DefaultSignatureSuffix = ".asc"
)

// Location is a converter binary on disk.
type Location struct {
	Path     string
	Verified bool
}

// ArchiveFormat is the container format of a release artifact.
type ArchiveFormat string

const (
	FormatTarGz ArchiveFormat = "tar.gz"
	FormatZip   ArchiveFormat = "zip"
)

// Artifact describes the release file for one platform.
type Artifact struct {
	Version      string
	OS           string // "linux", "darwin", "windows"
	Arch         string // "amd64", "arm64"
	Name         string // file name, e.g. pandoc-3.6.4-linux-amd64.tar.gz
	URL          string
	Format       ArchiveFormat
	Executable   string // binary file name inside the archive
	SignatureURL string // detached signature URL (may be empty)
	ChecksumURL  string // SHA-256 list URL (may be empty)
}

// VerificationMethod indicates how a downloaded archive was checked.
type VerificationMethod int

const (
	// VerificationNone means no archive-level check was configured. The
	// extracted binary is still probed.
	VerificationNone VerificationMethod = iota
	// VerificationGPG indicates GPG signature verification was used
	VerificationGPG
	// VerificationSHA256 indicates SHA256 checksum verification was used
	VerificationSHA256
)

// String returns the string representation of the verification method
func (v VerificationMethod) String() string {
	switch v {
	case VerificationGPG:
		return "GPG"
	case VerificationSHA256:
		return "SHA256"
	case VerificationNone:
		return "None"
	default:
		return "Unknown"
	}
}

// VerificationResult contains the outcome of an archive verification.
type VerificationResult struct {
	Method  VerificationMethod
	Success bool
	Error   error
}

// Verdict is the outcome of probing a candidate binary.
type Verdict struct {
	OK      bool
	Version string
	// Detail explains a negative verdict.
	Detail string
}
