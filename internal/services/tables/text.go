package tables

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// PlainText strips markup, collapses whitespace and trims
func PlainText(htmlStr string) string {
	return strings.Join(PlainTextLines(htmlStr), " ")
}

// PlainTextLines renders one whitespace-collapsed line per table row.
// Input without rows yields its non-empty text lines.
func PlainTextLines(htmlStr string) []string {
	if strings.TrimSpace(htmlStr) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nonEmptyLines(stripHTMLTags(htmlStr))
	}

	rows := doc.Find("tr")
	if rows.Length() == 0 {
		return nonEmptyLines(doc.Text())
	}

	var lines []string
	rows.Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			if text := collapse(cell.Text()); text != "" {
				cells = append(cells, text)
			}
		})
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " "))
		}
	})
	return lines
}

// Markdown converts the table HTML to a human-readable markdown copy.
// Conversion failures fall back to stripped text.
func Markdown(htmlStr string) string {
	if htmlStr == "" {
		return ""
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	converted, err := converter.ConvertString(htmlStr)
	if err != nil || strings.TrimSpace(converted) == "" {
		return stripHTMLTags(htmlStr)
	}
	return converted
}

// stripHTMLTags removes tags with a regex when the document cannot be parsed
func stripHTMLTags(htmlStr string) string {
	stripped := tagPattern.ReplaceAllString(htmlStr, "\n")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return replacer.Replace(stripped)
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if collapsed := collapse(line); collapsed != "" {
			lines = append(lines, collapsed)
		}
	}
	return lines
}

func collapse(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
