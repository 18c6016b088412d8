package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Metadata holds key/value markers found in a document. Keys are
// normalized with metaKey; scalar values are single-element lists.
type Metadata map[string][]string

// First returns the first non-empty value stored under any of keys.
func (m Metadata) First(keys ...string) (string, bool) {
	for _, k := range keys {
		for _, v := range m[metaKey(k)] {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// List returns the values stored under the first present key. A single
// scalar value is split on commas.
func (m Metadata) List(keys ...string) []string {
	for _, k := range keys {
		vals, ok := m[metaKey(k)]
		if !ok {
			continue
		}
		if len(vals) == 1 {
			vals = splitList(vals[0])
		}
		var out []string
		for _, v := range vals {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (m Metadata) setIfAbsent(key string, vals ...string) {
	key = metaKey(key)
	if key == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = vals
	}
}

// Document is the parsed structure of a markdown (or converted HTML) file.
type Document struct {
	Title    string
	Headings []string
	// Sections maps a lower-cased H2/H3 heading to the list items below it.
	Sections  map[string][]string
	Summary   string
	Body      string
	Meta      Metadata
	LineCount int
}

// SectionItems returns list items of the first section whose heading
// contains one of names.
func (d *Document) SectionItems(names ...string) []string {
	for _, name := range names {
		for _, h := range d.Headings {
			key := strings.ToLower(h)
			if strings.Contains(key, name) && len(d.Sections[key]) > 0 {
				return d.Sections[key]
			}
		}
	}
	return nil
}

var (
	inlineBoldMeta  = regexp.MustCompile(`^\s*[-*]?\s*\*\*([A-Za-z][A-Za-z0-9 _-]{0,40}?)(?::\*\*|\*\*:)\s*(.+?)\s*$`)
	inlinePlainMeta = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 _-]{0,40}?):\s+(.+?)\s*$`)
	fenceLine       = regexp.MustCompile("^\\s*(```|~~~)")
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ParseMarkdown parses front matter, inline metadata lines and the goldmark
// AST of src. Front matter errors are returned alongside the partially
// parsed document.
func ParseMarkdown(src []byte) (*Document, error) {
	doc := &Document{
		Sections:  make(map[string][]string),
		Meta:      make(Metadata),
		LineCount: countLines(src),
	}

	body, fmErr := parseFrontMatter(src, doc.Meta)
	parseInlineMeta(body, doc.Meta)

	root := markdown.Parser().Parse(text.NewReader(body))
	var (
		section    string
		paragraphs []string
	)
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			title := nodeText(node, body)
			if node.Level == 1 && doc.Title == "" {
				doc.Title = title
			} else if node.Level <= 3 {
				doc.Headings = append(doc.Headings, title)
				section = strings.ToLower(title)
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if section != "" {
				doc.Sections[section] = append(doc.Sections[section], firstLine(nodeText(node, body)))
			}
		case *ast.Paragraph:
			if p := nodeText(node, body); p != "" {
				paragraphs = append(paragraphs, p)
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	for _, p := range paragraphs {
		if !isMetaParagraph(p) {
			doc.Summary = p
			break
		}
	}
	doc.Body = strings.Join(paragraphs, "\n")
	if doc.Title == "" {
		if t, ok := doc.Meta.First("title"); ok {
			doc.Title = t
		}
	}

	if fmErr != nil {
		return doc, fmt.Errorf("front matter: %w", fmErr)
	}
	return doc, nil
}

// nodeText concatenates the text segments below n.
func nodeText(n ast.Node, src []byte) string {
	var buf strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(t.Value)
			default:
				if c.Kind() == ast.KindParagraph || c.Kind() == ast.KindTextBlock {
					if buf.Len() > 0 {
						buf.WriteByte('\n')
					}
				}
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}

// parseFrontMatter strips a leading YAML (---) or TOML (+++) block into meta
// and returns the remaining body.
func parseFrontMatter(src []byte, meta Metadata) ([]byte, error) {
	var delim string
	switch {
	case bytes.HasPrefix(src, []byte("---\n")), bytes.HasPrefix(src, []byte("---\r\n")):
		delim = "---"
	case bytes.HasPrefix(src, []byte("+++\n")), bytes.HasPrefix(src, []byte("+++\r\n")):
		delim = "+++"
	default:
		return src, nil
	}

	rest := src[bytes.IndexByte(src, '\n')+1:]
	end := -1
	offset := 0
	for _, line := range bytes.SplitAfter(rest, []byte("\n")) {
		if strings.TrimSpace(string(line)) == delim {
			end = offset
			offset += len(line)
			break
		}
		offset += len(line)
	}
	if end < 0 {
		return src, fmt.Errorf("unterminated %s block", delim)
	}
	block, body := rest[:end], rest[offset:]

	raw := make(map[string]any)
	var err error
	if delim == "---" {
		err = yaml.Unmarshal(block, &raw)
	} else {
		err = toml.Unmarshal(block, &raw)
	}
	if err != nil {
		return body, err
	}
	for k, v := range raw {
		if vals := flattenValue(v); len(vals) > 0 {
			meta[metaKey(k)] = vals
		}
	}
	return body, nil
}

func flattenValue(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, flattenValue(item)...)
		}
		return out
	case map[string]any:
		return nil
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return []string{val.Format("2006-01-02")}
		}
		return []string{val.Format(time.RFC3339)}
	default:
		return []string{strings.TrimSpace(fmt.Sprint(val))}
	}
}

// parseInlineMeta records "Key: value" and "**Key:** value" lines outside
// code fences. Front matter values take precedence.
func parseInlineMeta(body []byte, meta Metadata) {
	inFence := false
	for _, line := range strings.Split(string(body), "\n") {
		if fenceLine.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		line = strings.TrimRight(line, "\r")
		if m := inlineBoldMeta.FindStringSubmatch(line); m != nil {
			meta.setIfAbsent(m[1], strings.TrimSpace(m[2]))
			continue
		}
		if m := inlinePlainMeta.FindStringSubmatch(line); m != nil && !strings.Contains(m[1], "  ") {
			meta.setIfAbsent(m[1], strings.TrimSpace(m[2]))
		}
	}
}

func isMetaParagraph(p string) bool {
	line := firstLine(p)
	return inlinePlainMeta.MatchString(line) && len(strings.Fields(strings.SplitN(line, ":", 2)[0])) <= 3
}

func metaKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	return strings.Trim(k, "_:")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func countLines(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	n := bytes.Count(src, []byte("\n"))
	if src[len(src)-1] != '\n' {
		n++
	}
	return n
}
