package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrConfigExists is returned by WriteFile when the target already exists.
var ErrConfigExists = errors.New("config file already exists")

// Generator generates Lua configuration code from Go structs.
type Generator struct {
	indent string // Indentation string (default: two spaces)
	now    func() time.Time
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{
		indent: "  ",
		now:    time.Now,
	}
}

// Generate renders config as a pandock.lua file. Every field is written so
// the result documents the full schema.
func (g *Generator) Generate(config *Config) (string, error) {
	if config == nil {
		return "", fmt.Errorf("config is nil")
	}
	var buf bytes.Buffer

	buf.WriteString("-- pandock configuration\n")
	buf.WriteString("-- Generated: ")
	buf.WriteString(g.now().UTC().Format(time.RFC3339))
	buf.WriteString("\n--\n")
	buf.WriteString("-- The read-only `platform` table (platform.is_linux, platform.arch, ...)\n")
	buf.WriteString("-- can be used to vary settings per machine.\n\n")

	buf.WriteString(luaGlobalPandock + " = {\n")
	g.writeConverter(&buf, config.Converter)
	g.writeDownload(&buf, config.Download)
	g.writeConversion(&buf, config.Conversion)
	g.writeLogging(&buf, config.Logging)
	buf.WriteString("}\n")

	return buf.String(), nil
}

// WriteFile renders config to path, creating parent directories. Unless
// force is set an existing file is left alone and ErrConfigExists returned.
func (g *Generator) WriteFile(path string, config *Config, force bool) error {
	content, err := g.Generate(config)
	if err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pandock-*.lua")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func (g *Generator) writeConverter(buf *bytes.Buffer, c ConverterConfig) {
	g.open(buf, luaFieldConverter)
	g.field(buf, luaFieldVersion, quoteLua(c.Version), "")
	g.field(buf, luaFieldMirror, quoteLua(c.Mirror), "")
	g.optionalString(buf, luaFieldChecksumURL, c.ChecksumURL, "sha256 list, {version} is substituted")
	g.optionalString(buf, luaFieldKeyring, c.Keyring, "OpenPGP keyring for release signatures")
	g.field(buf, luaFieldSignatureSuffix, quoteLua(c.SignatureSuffix), "used with keyring")
	g.field(buf, luaFieldProbeTimeout, fmt.Sprintf("%d", c.ProbeTimeout), "seconds")
	g.close(buf)
}

func (g *Generator) writeDownload(buf *bytes.Buffer, d DownloadConfig) {
	g.open(buf, luaFieldDownload)
	g.field(buf, luaFieldTimeout, fmt.Sprintf("%d", d.Timeout), "seconds")
	g.field(buf, luaFieldRetries, fmt.Sprintf("%d", d.Retries), "")
	g.field(buf, luaFieldProgressInterval, fmt.Sprintf("%d", d.ProgressIntervalMS), "")
	g.field(buf, luaFieldProgressBytes, fmt.Sprintf("%d", d.ProgressBytes), "")
	g.close(buf)
}

func (g *Generator) writeConversion(buf *bytes.Buffer, c ConversionConfig) {
	g.open(buf, luaFieldConversion)
	g.field(buf, luaFieldWorkers, fmt.Sprintf("%d", c.Workers), "concurrent pandoc processes")
	if c.Timeout > 0 {
		g.field(buf, luaFieldTimeout, fmt.Sprintf("%d", c.Timeout), "seconds")
	}

	keys := make([]string, 0, len(c.Options))
	for k := range c.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteString(g.indent + g.indent + luaFieldOptions + " = {")
	if len(keys) == 0 {
		buf.WriteString(" -- e.g. standalone = true, [\"pdf-engine\"] = \"xelatex\"\n")
	} else {
		buf.WriteString("\n")
	}
	for _, k := range keys {
		value := "true"
		if v := c.Options[k]; v != "" {
			value = quoteLua(v)
		}
		buf.WriteString(strings.Repeat(g.indent, 3))
		buf.WriteString(luaKey(k))
		buf.WriteString(" = ")
		buf.WriteString(value)
		buf.WriteString(",\n")
	}
	buf.WriteString(g.indent + g.indent + "},\n")
	g.close(buf)
}

func (g *Generator) writeLogging(buf *bytes.Buffer, l LoggingConfig) {
	g.open(buf, luaFieldLogging)
	g.field(buf, luaFieldLevel, quoteLua(l.Level), "debug, info, warn, error")
	g.field(buf, luaFieldFormat, quoteLua(l.Format), "console or json")
	buf.WriteString(g.indent + "},\n")
}

func (g *Generator) open(buf *bytes.Buffer, name string) {
	buf.WriteString(g.indent + name + " = {\n")
}

func (g *Generator) close(buf *bytes.Buffer) {
	buf.WriteString(g.indent + "},\n\n")
}

// field writes `name = value,` with an optional trailing comment.
func (g *Generator) field(buf *bytes.Buffer, name, value, comment string) {
	buf.WriteString(g.indent + g.indent + name + " = " + value + ",")
	if comment != "" {
		buf.WriteString(" -- " + comment)
	}
	buf.WriteString("\n")
}

// optionalString writes the field, or a commented-out placeholder when empty.
func (g *Generator) optionalString(buf *bytes.Buffer, name, value, comment string) {
	if value == "" {
		buf.WriteString(g.indent + g.indent + "-- " + name + " = nil, -- " + comment + "\n")
		return
	}
	g.field(buf, name, quoteLua(value), "")
}

var luaIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// luaKey renders a table key, bracket-quoting names that are not identifiers.
func luaKey(k string) string {
	if luaIdentifier.MatchString(k) {
		return k
	}
	return "[" + quoteLua(k) + "]"
}

var luaEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// quoteLua renders s as a double-quoted Lua string literal.
func quoteLua(s string) string {
	return `"` + luaEscaper.Replace(s) + `"`
}
