package convert

import (
	"sort"
	"strings"
)

// Format categories used to group output formats.
const (
	CategoryWeb           = "Web"
	CategoryMarkup        = "Markup"
	CategoryWordProcessor = "Word Processor"
	CategoryPrint         = "Print"
	CategoryOther         = "Other"
)

// Format describes an output format selectable by name.
type Format struct {
	// Name is the identifier used in requests ("docx", "md", ...).
	Name     string
	Label    string
	Category string
	// Writer is the pandoc writer passed to -t.
	Writer string
	// Extension of the output file, without the dot.
	Extension string
}

var outputFormats = []Format{
	{"html", "HTML", CategoryWeb, "html", "html"},
	{"md", "Markdown", CategoryMarkup, "markdown", "md"},
	{"txt", "Plain Text", CategoryMarkup, "plain", "txt"},
	{"docx", "Microsoft Word (.docx)", CategoryWordProcessor, "docx", "docx"},
	{"epub", "EPUB ebook", CategoryWeb, "epub", "epub"},
	{"latex", "LaTeX source", CategoryPrint, "latex", "tex"},
	{"rtf", "Rich Text Format (.rtf)", CategoryWordProcessor, "rtf", "rtf"},
	{"xml", "XML version of native AST", CategoryOther, "xml", "xml"},
	{"csv", "CSV table", CategoryOther, "csv", "csv"},
	{"asciidoc", "AsciiDoc", CategoryMarkup, "asciidoc", "adoc"},
	{"slidy", "Slidy HTML slideshow", CategoryWeb, "slidy", "html"},
	{"slideous", "Slideous HTML slideshow", CategoryWeb, "slideous", "html"},
	{"dzslides", "DZSlides HTML slideshow", CategoryWeb, "dzslides", "html"},
	{"s5", "S5 HTML slideshow", CategoryWeb, "s5", "html"},
	{"odt", "OpenDocument Text (.odt)", CategoryWordProcessor, "odt", "odt"},
	{"beamer", "LaTeX Beamer slideshow", CategoryPrint, "beamer", "tex"},
	{"context", "ConTeXt", CategoryPrint, "context", "tex"},
	{"man", "roff man page", CategoryPrint, "man", "man"},
	{"docbook", "DocBook XML", CategoryPrint, "docbook", "xml"},
	{"typst", "Typst markup", CategoryPrint, "typst", "typ"},
	{"commonmark_x", "CommonMark with extensions", CategoryMarkup, "commonmark_x", "md"},
	{"rst", "reStructuredText", CategoryMarkup, "rst", "rst"},
	{"mediawiki", "MediaWiki markup", CategoryMarkup, "mediawiki", "wiki"},
	{"org", "Emacs Org-Mode", CategoryMarkup, "org", "org"},
	{"json", "JSON version of native AST", CategoryOther, "json", "json"},
	{"ipynb", "Jupyter notebook", CategoryOther, "ipynb", "ipynb"},
	{"tsv", "TSV table", CategoryOther, "tsv", "tsv"},
}

var inputExtensions = []string{
	"md", "markdown", "txt", "rst", "org", "muse", "textile", "t2t", "djot",
	"html", "htm", "xhtml",
	"epub", "fb2",
	"pod", "haddock",
	"man", "mdoc",
	"tex", "latex",
	"xml", "docbook", "jats", "bits",
	"opml",
	"bib", "bibtex", "json", "yaml", "yml", "ris", "enl",
	"docx", "rtf", "odt",
	"ipynb",
	"typ", "typst",
	"wiki", "mediawiki", "dokuwiki", "tikiwiki", "twiki", "vimwiki", "jira", "creole",
	"csv", "tsv",
}

var formatIndex = func() map[string]Format {
	m := make(map[string]Format, len(outputFormats))
	for _, f := range outputFormats {
		m[f.Name] = f
	}
	return m
}()

// Formats returns the output formats in display order.
func Formats() []Format {
	out := make([]Format, len(outputFormats))
	copy(out, outputFormats)
	return out
}

// LookupFormat finds an output format by name (case-insensitive).
func LookupFormat(name string) (Format, bool) {
	f, ok := formatIndex[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// FormatNames returns the sorted output format names.
func FormatNames() []string {
	names := make([]string, 0, len(outputFormats))
	for _, f := range outputFormats {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// InputExtensions returns the file extensions accepted as conversion input.
func InputExtensions() []string {
	out := make([]string, len(inputExtensions))
	copy(out, inputExtensions)
	return out
}

// IsInputExtension reports whether ext (with or without the leading dot) is
// a known input extension.
func IsInputExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range inputExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
