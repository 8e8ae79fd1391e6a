package crawl

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractPage converts a document into markdown-flavored text: headings
// keep their level, list items become bullets, pre blocks become fenced
// code. Script, style, and navigation chrome are dropped first.
func extractPage(u *url.URL, doc *goquery.Document) *Page {
	doc.Find("script, style, noscript, nav, footer, iframe").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = u.Host + u.Path
	}

	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	var lines []string
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// pre often nests code; skip children of an already rendered pre.
		if s.ParentsFiltered("pre").Length() > 0 {
			return
		}
		switch name := goquery.NodeName(s); name {
		case "pre":
			lines = append(lines, "```\n"+strings.Trim(s.Text(), "\n")+"\n```")
		case "li":
			if text := collapseSpace(s.Text()); text != "" {
				lines = append(lines, "- "+text)
			}
		case "blockquote":
			if text := collapseSpace(s.Text()); text != "" {
				lines = append(lines, "> "+text)
			}
		case "p":
			// List items already render their paragraph text.
			if s.ParentsFiltered("li").Length() > 0 {
				return
			}
			if text := collapseSpace(s.Text()); text != "" {
				lines = append(lines, text)
			}
		default:
			if text := collapseSpace(s.Text()); text != "" {
				level := int(name[1] - '0')
				lines = append(lines, strings.Repeat("#", level)+" "+text)
			}
		}
	})

	content := strings.Join(lines, "\n\n")
	if content == "" {
		content = collapseSpace(root.Text())
	}
	return &Page{URL: u.String(), Title: title, Content: content}
}

func collapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
