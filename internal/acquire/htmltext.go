package acquire

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlToText returns the visible text of an HTML fragment with whitespace
// collapsed. Non-HTML input comes back trimmed.
func htmlToText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapse(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapse(fragment)
	}
	doc.Find("script, style, table").Remove()

	// Reddit feed bodies end with a "submitted by /u/x [link] [comments]" footer.
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		switch strings.TrimSpace(a.Text()) {
		case "[link]", "[comments]":
			a.Remove()
		}
	})

	var parts []string
	doc.Find("p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return collapse(doc.Text())
	}
	return strings.Join(parts, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
