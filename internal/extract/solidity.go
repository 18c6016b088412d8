package extract

import (
	"regexp"
	"strings"
)

// SolidityDoc is what extraction reads from a Solidity source file.
type SolidityDoc struct {
	Title      string
	Contract   string
	Pragma     string
	Notice     string
	Tags       Metadata
	LineCount  int
	HasNatSpec bool
}

var (
	pragmaRe   = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	contractRe = regexp.MustCompile(`(?m)^\s*(?:abstract\s+)?(?:contract|library|interface)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	natspecRe  = regexp.MustCompile(`@(title|notice|dev|author|custom:[a-z][a-z0-9-]*)\s+(.+)`)
)

// ParseSolidity reads NatSpec tags, the compiler pragma and the first
// declared contract of src.
func ParseSolidity(src []byte) *SolidityDoc {
	doc := &SolidityDoc{
		Tags:      make(Metadata),
		LineCount: countLines(src),
	}
	content := string(src)

	if m := pragmaRe.FindStringSubmatch(content); m != nil {
		doc.Pragma = strings.TrimSpace(m[1])
	}
	if m := contractRe.FindStringSubmatch(content); m != nil {
		doc.Contract = m[1]
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "///") && !strings.HasPrefix(trimmed, "*") && !strings.HasPrefix(trimmed, "/**") {
			continue
		}
		m := natspecRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		doc.HasNatSpec = true
		tag := strings.TrimPrefix(m[1], "custom:")
		value := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[2]), "*/"))
		key := metaKey(tag)
		doc.Tags[key] = append(doc.Tags[key], value)
	}

	if t, ok := doc.Tags.First("title"); ok {
		doc.Title = t
	}
	if n, ok := doc.Tags.First("notice"); ok {
		doc.Notice = n
	}
	return doc
}

// CompilerVersion returns the version number from the pragma, e.g.
// "^0.8.20" yields "0.8.20".
func (d *SolidityDoc) CompilerVersion() (string, bool) {
	if d.Pragma == "" {
		return "", false
	}
	m := semverRe.FindString(d.Pragma)
	if m == "" {
		return "", false
	}
	return m, true
}
