package platform

import "strings"

// archAliases folds names reported by uname and vendor tooling onto GOARCH.
var archAliases = map[string]string{
	"x86_64":  "amd64",
	"x64":     "amd64",
	"aarch64": "arm64",
	"armv8":   "arm64",
}

// families classifies distribution ids and gopsutil family names.
var families = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian,
	"mint":     FamilyDebian,
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"alma":     FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeArch returns the GOARCH spelling of arch. Unknown values come back
// lowercased so errors can quote them.
func normalizeArch(arch string) string {
	a := clean(arch)
	if canonical, ok := archAliases[a]; ok {
		return canonical
	}
	return a
}

// mapFamily prefers the family gopsutil reports and falls back to the
// distribution id, which is all some releases provide.
func mapFamily(family, distro string) string {
	for _, key := range []string{clean(family), clean(distro)} {
		if canonical, ok := families[key]; ok {
			return canonical
		}
	}
	return FamilyUnknown
}
