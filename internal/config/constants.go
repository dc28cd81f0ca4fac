package config

import "time"

// Lua schema field names and globals
const (
	luaGlobalPandock = "pandock"

	luaFieldConverter  = "converter"
	luaFieldDownload   = "download"
	luaFieldConversion = "conversion"
	luaFieldLogging    = "logging"

	luaFieldVersion         = "version"
	luaFieldMirror          = "mirror"
	luaFieldChecksumURL     = "checksum_url"
	luaFieldKeyring         = "keyring"
	luaFieldSignatureSuffix = "signature_suffix"
	luaFieldProbeTimeout    = "probe_timeout"

	luaFieldTimeout          = "timeout"
	luaFieldRetries          = "retries"
	luaFieldProgressInterval = "progress_interval_ms"
	luaFieldProgressBytes    = "progress_bytes"

	luaFieldWorkers = "workers"
	luaFieldOptions = "options"

	luaFieldLevel  = "level"
	luaFieldFormat = "format"
)

// Resource limits
const (
	// MaxConfigSize is the largest config file accepted.
	MaxConfigSize = 1 << 20
	// DefaultParseTimeout applies when the caller's context has no deadline.
	DefaultParseTimeout = 5 * time.Second
	// MaxOptionCount bounds conversion.options.
	MaxOptionCount = 64
	// MaxWorkers bounds conversion.workers.
	MaxWorkers = 64
	// MaxRetries bounds download.retries.
	MaxRetries = 10
)
