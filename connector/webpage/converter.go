package webpage

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	blanksRe = regexp.MustCompile(`\n{4,}`)
)

// chrome is the set of elements stripped when no main content area is
// marked up.
var chrome = []string{
	"nav", "header", "footer", "aside", "script", "style", "noscript",
	"iframe", "object", "embed", "form", "input", "button",
}

// converter turns fetched HTML into title + markdown, keeping only the
// page's main content.
type converter struct {
	md *md.Converter
}

func newConverter() *converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &converter{md: c}
}

// convert extracts the main content of htmlContent and renders it as
// markdown.
func (c *converter) convert(htmlContent []byte) (title, markdown string, err error) {
	doc, parseErr := html.Parse(strings.NewReader(string(htmlContent)))

	source := string(htmlContent)
	if parseErr == nil {
		title = findTitle(doc)
		source = mainContent(doc, string(htmlContent))
	} else {
		source = styleRe.ReplaceAllString(scriptRe.ReplaceAllString(source, ""), "")
	}

	markdown, err = c.md.ConvertString(source)
	if err != nil {
		return "", "", err
	}
	markdown = tidyMarkdown(markdown)

	if title == "" {
		title = firstHeading(markdown)
	}
	return title, markdown, nil
}

func findTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// mainContent prefers an explicit <main> or <article> region; otherwise
// it strips page chrome and uses the body.
func mainContent(doc *html.Node, fallback string) string {
	for _, tag := range []string{"main", "article"} {
		if n := findTag(doc, tag); n != nil {
			return render(n)
		}
	}
	stripTags(doc, chrome)
	if body := findTag(doc, "body"); body != nil {
		return render(body)
	}
	return fallback
}

func findTag(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findTag(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func stripTags(n *html.Node, tags []string) {
	drop := make(map[string]bool, len(tags))
	for _, tag := range tags {
		drop[tag] = true
	}

	var doomed []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && drop[node.Data] {
			doomed = append(doomed, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	for _, node := range doomed {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func render(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}

func tidyMarkdown(content string) string {
	content = blanksRe.ReplaceAllString(content, "\n\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
