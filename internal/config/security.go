package config

import (
	"regexp"
	"strings"
)

// secretPattern flags a line that likely holds a credential.
type secretPattern struct {
	kind    string
	pattern *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"url credentials", regexp.MustCompile(`https?://[^/\s:@"']+:[^/\s@"']+@`)},
	{"github token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{"token", regexp.MustCompile(`(?i)(token|api[_-]?key|bearer)\s*=\s*['"][A-Za-z0-9_\-.]{15,}['"]`)},
	{"password", regexp.MustCompile(`(?i)(password|passwd)\s*=\s*['"].+['"]`)},
}

// SecretFinding is a line of config that looks like it carries a secret.
type SecretFinding struct {
	Kind string
	Line int // 1-based
	// Preview is the line with the value redacted.
	Preview string
}

// ScanSecrets reports lines of a config that appear to contain credentials.
// Lua comments are ignored.
func ScanSecrets(content string) []SecretFinding {
	var findings []SecretFinding
	for i, line := range strings.Split(content, "\n") {
		code := line
		if idx := strings.Index(code, "--"); idx >= 0 {
			code = code[:idx]
		}
		for _, p := range secretPatterns {
			if p.pattern.MatchString(code) {
				findings = append(findings, SecretFinding{Kind: p.kind, Line: i + 1, Preview: redact(code)})
				break
			}
		}
	}
	return findings
}

// redact keeps the key of an assignment and hides the value.
func redact(line string) string {
	line = strings.TrimSpace(line)
	if eq := strings.Index(line, "="); eq > 0 {
		return strings.TrimSpace(line[:eq]) + " = [REDACTED]"
	}
	if len(line) > 20 {
		return line[:20] + "... [REDACTED]"
	}
	return "[REDACTED]"
}
