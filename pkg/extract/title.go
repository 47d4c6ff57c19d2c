package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// htmlTitle pulls the <title> text out of a page, tolerating broken
// markup. Returns "" when no title exists.
func htmlTitle(source string) string {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return ""
	}
	title, _ := findTitle(doc)
	return strings.TrimSpace(title)
}

func findTitle(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}
		return "", true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result, ok := findTitle(c); ok {
			return result, ok
		}
	}
	return "", false
}
