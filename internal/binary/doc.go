// Package binary locates, downloads, verifies and installs the pandoc
// executable that pandock drives.
//
// # Acquisition
//
// A Resolver looks for a working binary in three places, in order: the path
// stored in settings, the managed install location (<data>/bin/pandoc) and
// PATH. When none verifies, EnsureInstalled runs a single acquisition attempt
// through the Manager:
//
//	Checking → Downloading → Verifying → Installing → Complete
//	                                                 ↘ Failed (any step)
//
// Each step publishes a DownloadProgress and a log entry on the event bus,
// tagged with the attempt id. Concurrent EnsureInstalled calls join the
// in-flight attempt instead of starting another; a lock file in the data
// directory keeps two processes from installing at once.
//
// # Security Model
//
// Archives come from the official pandoc GitHub releases (or a configured
// mirror) and are staged under <data>/tmp/<attempt>. When configured, the
// archive is checked against a SHA-256 list and a detached OpenPGP signature
// before extraction. Entries that would escape the staging directory are
// rejected. The extracted binary must answer `--version` with a line
// starting with "pandoc" before it is moved into place, and the path is only
// persisted after a second successful probe at its final location.
//
// # Usage
//
//	mgr, err := binary.NewManager(binary.Config{
//	    Layout:   layout,
//	    Platform: info,
//	    Bus:      bus,
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := binary.NewResolver(binary.ResolverConfig{
//	    Store:     settings.NewFileStore(layout.DataDir),
//	    Installer: mgr,
//	    Bus:       bus,
//	    LookPath:  binary.SystemLookPath,
//	})
//	if err != nil {
//	    return err
//	}
//	loc, err := res.EnsureInstalled(ctx)
//
// # Architecture
//
// The package is organized into several components:
//   - Resolver: candidate lookup, single-flight acquisition, persistence
//   - Manager: orchestration of one install attempt
//   - Downloader: HTTP download with retry logic and rate-limited progress
//   - Verifier: archive checksum/signature checks and the `--version` probe
//   - Extractor: tar.gz and zip extraction
//   - ResolveArtifact: platform-specific release naming
package binary
