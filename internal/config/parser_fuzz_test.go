//go:build go1.18

package config

import (
	"context"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func FuzzParser_ParseString(f *testing.F) {
	for _, seed := range []string{
		`pandock = { converter = { version = "3.6.4" } }`,
		`pandock = { conversion = { options = { standalone = true, ["pdf-engine"] = "xelatex" } } }`,
		`pandock = { download = { retries = 0, progress_bytes = 1024 } }`,
		`pandock = { logging = { level = "DEBUG" } }`,
		`pandock = { conversion = { workers = platform.is_windows and 1 or 4 } }`,
	} {
		f.Add(seed)
	}
	parser := NewParser(nil)

	f.Fuzz(func(t *testing.T, luaCode string) {
		cfg, err := parser.ParseString(context.Background(), luaCode)
		if err != nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("accepted config fails validation: %v", err)
		}
	})
}

// FuzzQuoteLua evaluates the quoted form in the sandbox and expects the
// original string back.
func FuzzQuoteLua(f *testing.F) {
	for _, seed := range []string{"hello", `say "hello"`, "line1\nline2", `C:\Users\test`, "tab\there\r\n"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		quoted := quoteLua(input)
		if strings.ContainsAny(quoted, "\n\r") {
			t.Fatalf("quoteLua(%q) left a raw line break", input)
		}
		if !utf8.ValidString(input) || strings.IndexFunc(input, func(r rune) bool {
			return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
		}) >= 0 {
			return
		}

		L := newSandboxedVM()
		defer L.Close()
		if err := L.DoString("return " + quoted); err != nil {
			t.Fatalf("quoteLua(%q) = %s does not parse: %v", input, quoted, err)
		}
		if got := L.Get(-1).String(); got != input {
			t.Errorf("round trip of %q gave %q", input, got)
		}
	})
}
