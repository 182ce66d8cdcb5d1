package webref

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{4,}`)

// ConvertResult is one page reduced to markdown.
type ConvertResult struct {
	Title    string
	Markdown string
}

// Converter reduces fetched HTML to article markdown: readability strips
// the page down to its main content, then the result converts to
// GitHub-flavored markdown.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates a converter.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Converter{converter: converter}
}

// Convert transforms HTML into titled markdown. pageURL resolves relative
// links; it may be nil.
func (c *Converter) Convert(htmlContent []byte, pageURL *url.URL) (*ConvertResult, error) {
	title := extractHTMLTitle(htmlContent)
	content := string(htmlContent)

	article, err := readability.FromReader(bytes.NewReader(htmlContent), pageURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
		if title == "" {
			title = article.Title
		}
	}

	markdown, err := c.converter.ConvertString(content)
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}

	markdown = strings.TrimSpace(excessiveLinesRe.ReplaceAllString(markdown, "\n\n\n"))
	if title == "" {
		title = extractMarkdownTitle(markdown)
	}

	return &ConvertResult{Title: title, Markdown: markdown}, nil
}

// extractHTMLTitle pulls the <title> text out of the document.
func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)
	return title
}

// extractMarkdownTitle uses the first heading as a fallback title.
func extractMarkdownTitle(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}
