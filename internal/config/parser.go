package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/pandock/internal/logging"
	"github.com/ZebulonRouseFrantzich/pandock/internal/platform"
)

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
	logger   logging.Logger
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform table undefined.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, logger: logging.Nop()}
}

// WithLogger returns a copy of the parser that logs to logger.
func (p *Parser) WithLogger(logger logging.Logger) *Parser {
	cp := *p
	cp.logger = logging.OrNop(logger)
	return &cp
}

// ParseFile reads and parses the config at path. A missing file yields
// Default().
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		p.logger.Debug("no config file, using defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > MaxConfigSize {
		return nil, &ParseError{Message: "config file too large", Detail: fmt.Sprintf("%s exceeds %d bytes", path, MaxConfigSize)}
	}

	for _, finding := range ScanSecrets(string(data)) {
		p.logger.Warn("config may contain a secret", "path", path, "line", finding.Line, "kind", finding.Kind, "preview", finding.Preview)
	}

	cfg, err := p.ParseString(ctx, string(data))
	if err != nil {
		return nil, err
	}
	p.logger.Debug("config loaded", "path", path)
	return cfg, nil
}

// ParseString parses a Lua config from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultParseTimeout)
		defer cancel()
	}

	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		if ctx.Err() != nil {
			return nil, &ParseError{Message: "config evaluation timed out", Detail: ctx.Err().Error()}
		}
		return nil, &ParseError{Message: "Lua syntax error", Detail: err.Error()}
	}

	cfg, err := extractConfig(L)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig overlays the global "pandock" table onto Default().
func extractConfig(L *lua.LState) (*Config, error) {
	root := L.GetGlobal(luaGlobalPandock)
	if root.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'pandock' table",
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	table := root.(*lua.LTable)
	cfg := Default()

	if t, err := section(table, luaFieldConverter); err != nil {
		return nil, err
	} else if t != nil {
		r := reader{table: t, prefix: luaFieldConverter}
		r.str(luaFieldVersion, &cfg.Converter.Version)
		r.str(luaFieldMirror, &cfg.Converter.Mirror)
		r.str(luaFieldChecksumURL, &cfg.Converter.ChecksumURL)
		r.str(luaFieldKeyring, &cfg.Converter.Keyring)
		r.str(luaFieldSignatureSuffix, &cfg.Converter.SignatureSuffix)
		r.integer(luaFieldProbeTimeout, &cfg.Converter.ProbeTimeout)
		if r.err != nil {
			return nil, r.err
		}
		keyring, err := expandHome(cfg.Converter.Keyring)
		if err != nil {
			return nil, &ParseError{Message: "invalid converter.keyring", Detail: err.Error()}
		}
		cfg.Converter.Keyring = keyring
	}

	if t, err := section(table, luaFieldDownload); err != nil {
		return nil, err
	} else if t != nil {
		r := reader{table: t, prefix: luaFieldDownload}
		r.integer(luaFieldTimeout, &cfg.Download.Timeout)
		r.integer(luaFieldRetries, &cfg.Download.Retries)
		r.integer(luaFieldProgressInterval, &cfg.Download.ProgressIntervalMS)
		var progressBytes int
		if r.integer(luaFieldProgressBytes, &progressBytes) {
			cfg.Download.ProgressBytes = int64(progressBytes)
		}
		if r.err != nil {
			return nil, r.err
		}
	}

	if t, err := section(table, luaFieldConversion); err != nil {
		return nil, err
	} else if t != nil {
		r := reader{table: t, prefix: luaFieldConversion}
		r.integer(luaFieldWorkers, &cfg.Conversion.Workers)
		r.integer(luaFieldTimeout, &cfg.Conversion.Timeout)
		r.options(luaFieldOptions, &cfg.Conversion.Options)
		if r.err != nil {
			return nil, r.err
		}
	}

	if t, err := section(table, luaFieldLogging); err != nil {
		return nil, err
	} else if t != nil {
		r := reader{table: t, prefix: luaFieldLogging}
		r.str(luaFieldLevel, &cfg.Logging.Level)
		r.str(luaFieldFormat, &cfg.Logging.Format)
		if r.err != nil {
			return nil, r.err
		}
		cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	}

	return cfg, nil
}

// section returns the named sub-table, nil when absent.
func section(table *lua.LTable, name string) (*lua.LTable, error) {
	v := table.RawGetString(name)
	switch v.Type() {
	case lua.LTNil:
		return nil, nil
	case lua.LTTable:
		return v.(*lua.LTable), nil
	default:
		return nil, typeError(name, "table", v)
	}
}

// reader copies typed fields out of a Lua table, keeping the first error.
type reader struct {
	table  *lua.LTable
	prefix string
	err    error
}

func (r *reader) get(name string) lua.LValue {
	if r.err != nil {
		return lua.LNil
	}
	return r.table.RawGetString(name)
}

func (r *reader) str(name string, dst *string) bool {
	v := r.get(name)
	switch v.Type() {
	case lua.LTNil:
		return false
	case lua.LTString:
		*dst = v.String()
		return true
	default:
		r.err = typeError(r.prefix+"."+name, "string", v)
		return false
	}
}

func (r *reader) integer(name string, dst *int) bool {
	v := r.get(name)
	switch v.Type() {
	case lua.LTNil:
		return false
	case lua.LTNumber:
		n := float64(v.(lua.LNumber))
		if n != float64(int(n)) {
			r.err = &ParseError{Message: fmt.Sprintf("invalid %s.%s", r.prefix, name), Detail: fmt.Sprintf("expected integer, got %v", n)}
			return false
		}
		*dst = int(n)
		return true
	default:
		r.err = typeError(r.prefix+"."+name, "number", v)
		return false
	}
}

// options reads a table of pandoc options. true maps to a bare flag, false
// and nil drop the option, numbers are formatted.
func (r *reader) options(name string, dst *map[string]string) {
	v := r.get(name)
	if v.Type() == lua.LTNil {
		return
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		r.err = typeError(r.prefix+"."+name, "table", v)
		return
	}

	out := make(map[string]string)
	t.ForEach(func(key, value lua.LValue) {
		if r.err != nil {
			return
		}
		if key.Type() != lua.LTString {
			r.err = &ParseError{Message: fmt.Sprintf("invalid %s.%s", r.prefix, name), Detail: fmt.Sprintf("option names must be strings, got %s", key.Type())}
			return
		}
		k := key.String()
		switch value.Type() {
		case lua.LTString:
			out[k] = value.String()
		case lua.LTBool:
			if bool(value.(lua.LBool)) {
				out[k] = ""
			}
		case lua.LTNumber:
			out[k] = strconv.FormatFloat(float64(value.(lua.LNumber)), 'f', -1, 64)
		default:
			r.err = typeError(fmt.Sprintf("%s.%s.%s", r.prefix, name, k), "string, boolean or number", value)
		}
	})
	if r.err == nil {
		*dst = out
	}
}

func typeError(field, want string, got lua.LValue) error {
	return &ParseError{
		Message: fmt.Sprintf("invalid %s", field),
		Detail:  fmt.Sprintf("expected %s, got %s", want, got.Type()),
	}
}

// FormatError formats a config error for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
