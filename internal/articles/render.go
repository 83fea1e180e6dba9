package articles

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"atlas/internal/services"
)

const minReadableText = 200

// sanitizer strips scripts, event handlers and inline styles readability
// leaves behind while keeping links, images and basic formatting.
var sanitizer = bluemonday.UGCPolicy()

// Rendered is the readable form of one page.
type Rendered struct {
	Title     string
	HTML      string
	Text      string
	Markdown  string
	WordCount int
}

// Render extracts the main content of page. Pages whose readable text is
// shorter than a couple of sentences are rejected as permanent failures.
func Render(page []byte, pageURL string) (Rendered, error) {
	var base *url.URL
	if parsed, err := url.Parse(pageURL); err == nil {
		base = parsed
	}
	article, err := readability.FromReader(bytes.NewReader(page), base)
	if err != nil {
		return Rendered{}, services.Wrap(services.ErrPermanent, "articles", "render", pageURL, err)
	}
	var text, body strings.Builder
	if err := article.RenderText(&text); err != nil {
		return Rendered{}, services.Wrap(services.ErrPermanent, "articles", "render text", pageURL, err)
	}
	if len(strings.TrimSpace(text.String())) < minReadableText {
		return Rendered{}, services.Wrap(services.ErrPermanent, "articles", "render",
			fmt.Sprintf("%s has no readable content", pageURL), nil)
	}
	if err := article.RenderHTML(&body); err != nil {
		return Rendered{}, services.Wrap(services.ErrPermanent, "articles", "render html", pageURL, err)
	}
	out := Rendered{
		Title:     pageTitle(page),
		HTML:      sanitizer.Sanitize(body.String()),
		Text:      strings.TrimSpace(text.String()),
		WordCount: len(strings.Fields(text.String())),
	}
	out.Markdown = toMarkdown(out.HTML)
	return out, nil
}

// pageTitle prefers og:title over the document title.
func pageTitle(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// toMarkdown converts the block structure of readable HTML into Markdown.
// Inline formatting other than links is flattened to text.
func toMarkdown(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, pre, blockquote, li").Each(func(_ int, sel *goquery.Selection) {
		// Nested blocks are emitted by their innermost match.
		if sel.ParentsFiltered("pre, blockquote, li").Length() > 0 && goquery.NodeName(sel) != "li" {
			return
		}
		switch name := goquery.NodeName(sel); name {
		case "pre":
			blocks = append(blocks, "```\n"+strings.TrimRight(sel.Text(), "\n")+"\n```")
		case "blockquote":
			if text := inline(sel); text != "" {
				blocks = append(blocks, "> "+text)
			}
		case "li":
			if text := inline(sel); text != "" {
				blocks = append(blocks, "- "+text)
			}
		case "p":
			if text := inline(sel); text != "" {
				blocks = append(blocks, text)
			}
		default:
			if text := inline(sel); text != "" {
				level := int(name[1] - '0')
				blocks = append(blocks, strings.Repeat("#", level)+" "+text)
			}
		}
	})
	return strings.Join(blocks, "\n\n") + "\n"
}

func inline(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		text := strings.TrimSpace(a.Text())
		if text == "" || href == "" {
			return
		}
		a.ReplaceWithHtml("[" + escapeHTML(text) + "](" + escapeHTML(href) + ")")
	})
	return strings.Join(strings.Fields(clone.Text()), " ")
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
