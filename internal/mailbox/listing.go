package mailbox

import (
	"regexp"
	"strings"
)

var (
	listLinePattern   = regexp.MustCompile(`^\((?P<flags>.*?)\) "(?P<delimiter>.*?)" (?P<name>.*)$`)
	trailingQuoteName = regexp.MustCompile(`"([^"]*)"\s*$`)
)

// Folder is one parsed LIST entry
type Folder struct {
	Name      string
	Delimiter string
	Flags     []string
}

// ParseListLine parses `(<flags>) "<delimiter>" <name>`. Lines that do not
// follow that grammar go through ParseListFallback.
func ParseListLine(line string) (Folder, bool) {
	line = strings.TrimRight(line, "\r\n")

	m := listLinePattern.FindStringSubmatch(line)
	if m == nil {
		return ParseListFallback(line)
	}

	name := strings.TrimSpace(stripQuotes(m[listLinePattern.SubexpIndex("name")]))
	if name == "" {
		return Folder{}, false
	}

	return Folder{
		Name:      name,
		Delimiter: m[listLinePattern.SubexpIndex("delimiter")],
		Flags:     strings.Fields(m[listLinePattern.SubexpIndex("flags")]),
	}, true
}

// ParseListFallback extracts the trailing quoted token of a LIST line.
// The delimiter is unknown on this path.
func ParseListFallback(line string) (Folder, bool) {
	m := trailingQuoteName.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil || m[1] == "" {
		return Folder{}, false
	}
	return Folder{Name: m[1]}, true
}

// ParseList parses every line, dropping those neither parser accepts
func ParseList(lines []string) []Folder {
	folders := make([]Folder, 0, len(lines))
	for _, line := range lines {
		if f, ok := ParseListLine(line); ok {
			folders = append(folders, f)
		}
	}
	return folders
}

// stripQuotes removes a single matching pair of double or single quotes
func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// LastSegment returns the final path segment of the folder name
func (f Folder) LastSegment() string {
	delim := f.Delimiter
	if delim == "" || delim == "NIL" {
		delim = "/"
	}
	parts := strings.Split(f.Name, delim)
	return parts[len(parts)-1]
}

// Excluded reports whether the folder's full name or last segment is listed
func (f Folder) Excluded(exclude []string) bool {
	last := f.LastSegment()
	for _, e := range exclude {
		if e == f.Name || e == last {
			return true
		}
	}
	return false
}
