// Package config loads pandock's Lua configuration.
//
// # Overview
//
// The user config lives at <config dir>/pandock.lua. It is ordinary Lua run in
// a sandboxed gopher-lua VM, so settings can depend on the machine through the
// injected read-only platform table:
//
//	pandock = {
//	  converter = {
//	    version = "3.6.4",
//	    mirror = "https://github.com/jgm/pandoc/releases/download",
//	    probe_timeout = 10,
//	  },
//	  download = {
//	    timeout = 300,
//	    retries = 3,
//	  },
//	  conversion = {
//	    workers = platform.is_windows and 2 or 4,
//	    options = { standalone = true, ["pdf-engine"] = "xelatex" },
//	  },
//	  logging = { level = "info", format = "console" },
//	}
//
// Every field is optional; anything omitted keeps its value from Default.
// A missing file is not an error.
//
// # Security Model
//
// The VM only opens the base, string, table and math libraries, and the
// base functions that load code or touch metatables are removed. Parsing is
// bounded by DefaultParseTimeout and configs larger than MaxConfigSize are
// rejected. Validate rejects mirror URLs with embedded credentials, and
// ScanSecrets flags tokens or passwords written into the file so the caller
// can warn about them.
//
// # Usage
//
//	parser := config.NewParser(platform.NewDetector()).WithLogger(logger)
//	cfg, err := parser.ParseFile(ctx, layout.ConfigFile())
//	if err != nil {
//	    return fmt.Errorf("load config: %w", err)
//	}
//
// NewGenerator renders a Config back to Lua; `pandock config init` uses it to
// write the default file.
//
// # Error Types
//
// Lua errors and type mismatches are reported as *ParseError; values that
// parse but are out of range are reported as *ValidationError naming the
// offending field (e.g. "download.retries").
package config
