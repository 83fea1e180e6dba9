package discovery

import (
	"bytes"
	"errors"
	"html"
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Extractor turns a fetched page into transcript text.
type Extractor interface {
	Name() string
	Match(host string) bool
	Extract(page []byte, pageURL string) (string, error)
}

var errNoTranscript = errors.New("no transcript content found")

// DefaultExtractors returns the domain-specific extractors. Pages on other
// hosts use the generic extractor.
func DefaultExtractors() []Extractor {
	return []Extractor{
		selectorExtractor{name: "podscripts", hosts: []string{"podscripts.co"},
			selectors: []string{".podcast-transcript", ".transcript-text", "#transcript"}},
		selectorExtractor{name: "podscribe", hosts: []string{"podscribe.com", "app.podscribe.com"},
			selectors: []string{"#transcript", ".transcript", "[data-transcript]"}},
		selectorExtractor{name: "happyscribe", hosts: []string{"happyscribe.com", "podcasts.happyscribe.com"},
			selectors: []string{".hsp-paragraph", ".transcript"}},
	}
}

type selectorExtractor struct {
	name      string
	hosts     []string
	selectors []string
}

func (e selectorExtractor) Name() string { return e.name }

func (e selectorExtractor) Match(host string) bool { return hostMatches(host, e.hosts) }

func (e selectorExtractor) Extract(page []byte, pageURL string) (string, error) {
	doc, err := parsePage(page)
	if err != nil {
		return "", err
	}
	if text := selectText(doc, e.selectors); text != "" {
		return text, nil
	}
	return genericExtractor{}.Extract(page, pageURL)
}

// genericExtractor prefers containers labelled as a transcript and falls back
// to readability's main-content detection.
type genericExtractor struct{}

var transcriptContainers = []string{
	`[id*="transcript"]`,
	`[class*="transcript"]`,
	`article`,
}

func (genericExtractor) Name() string { return "generic" }

func (genericExtractor) Match(string) bool { return true }

func (genericExtractor) Extract(page []byte, pageURL string) (string, error) {
	doc, err := parsePage(page)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, header, footer, aside, form").Remove()
	if text := selectText(doc, transcriptContainers[:2]); text != "" {
		return text, nil
	}

	var base *url.URL
	if parsed, err := url.Parse(pageURL); err == nil {
		base = parsed
	}
	article, err := readability.FromReader(bytes.NewReader(page), base)
	if err == nil {
		var buf strings.Builder
		if err := article.RenderText(&buf); err == nil {
			if text := cleanText(buf.String()); text != "" {
				return text, nil
			}
		}
	}
	if text := selectText(doc, transcriptContainers[2:]); text != "" {
		return text, nil
	}
	return "", errNoTranscript
}

// selectText returns the text of the largest element matched by the first
// selector with any hit.
func selectText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		var best string
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			inner, err := sel.Html()
			if err != nil {
				return
			}
			if text := cleanText(blockText(inner)); len(text) > len(best) {
				best = text
			}
		})
		if best != "" {
			return best
		}
	}
	return ""
}

// blockText puts block-level boundaries on their own lines before tags are
// stripped so paragraphs survive sanitization.
func blockText(fragment string) string {
	replacer := strings.NewReplacer(
		"</p>", "</p>\n", "<br>", "\n", "<br/>", "\n", "<br />", "\n",
		"</div>", "</div>\n", "</li>", "</li>\n",
	)
	return replacer.Replace(fragment)
}

var strictPolicy = bluemonday.StrictPolicy()

// cleanText strips markup, decodes entities and collapses whitespace within
// lines while keeping line structure.
func cleanText(raw string) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(raw))
	lines := strings.Split(stripped, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
