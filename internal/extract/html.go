package extract

import (
	"bytes"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

// htmlConverter turns HTML documents into markdown for ParseMarkdown.
type htmlConverter struct {
	converter *md.Converter
}

func newHTMLConverter() *htmlConverter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	converter.Remove("script", "style", "nav", "footer")
	return &htmlConverter{converter: converter}
}

// Parse converts src and parses the result. The <title> element is used
// when the body has no H1.
func (c *htmlConverter) Parse(src []byte) (*Document, error) {
	markdownText, err := c.converter.ConvertString(string(src))
	if err != nil {
		return nil, err
	}
	doc, err := ParseMarkdown([]byte(markdownText))
	if doc != nil {
		doc.LineCount = countLines(src)
		if doc.Title == "" {
			doc.Title = htmlTitle(src)
		}
	}
	return doc, err
}

func htmlTitle(src []byte) string {
	root, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return ""
	}
	var title string
	var find func(*html.Node)
	find = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(root)
	return title
}
