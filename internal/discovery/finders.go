package discovery

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"atlas/internal/config"
	"atlas/internal/textutil"
)

// Minimum title similarity for a link to count as the episode.
const titleMatchThreshold = 0.5

// Hosts of third-party sites that publish podcast transcripts.
var transcripterHosts = []string{
	"podscripts.co",
	"podscribe.com",
	"happyscribe.com",
	"podcasts.musixmatch.com",
	"rev.com",
}

func expandTemplate(template string, q Query) string {
	query := strings.TrimSpace(q.ShowName + " " + q.EpisodeTitle)
	replacer := strings.NewReplacer(
		"{show}", textutil.Slug(q.ShowName),
		"{query}", url.QueryEscape(query+" transcript"),
	)
	return replacer.Replace(template)
}

func parsePage(page []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(page))
}

func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := baseURL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func hostMatches(host string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func mentionsTranscript(values ...string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), "transcript") {
			return true
		}
	}
	return false
}

// serviceFinder queries a dedicated transcript service and picks the link
// whose text best matches the episode title.
type serviceFinder struct {
	method   string
	template string
	fetch    fetchFunc
}

func (f *serviceFinder) Method() string { return f.method }

func (f *serviceFinder) Find(ctx context.Context, q Query) ([]Candidate, error) {
	if strings.TrimSpace(f.template) == "" || strings.TrimSpace(q.EpisodeTitle) == "" {
		return nil, nil
	}
	pageURL := expandTemplate(f.template, q)
	page, err := f.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := parsePage(page)
	if err != nil {
		return nil, err
	}
	var (
		best      string
		bestScore float64
	)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := resolve(pageURL, sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		score := textutil.TitleSimilarity(strings.TrimSpace(sel.Text()), q.EpisodeTitle)
		if score > bestScore {
			best, bestScore = href, score
		}
	})
	if best == "" || bestScore < titleMatchThreshold {
		return nil, nil
	}
	return []Candidate{{URL: best, Method: f.method, Confidence: ConfidenceService}}, nil
}

// publisherFinder inspects the show or episode page for transcript links.
// Confidence grows with the number of heuristic hits.
type publisherFinder struct {
	fetch fetchFunc
}

func (f *publisherFinder) Method() string { return config.MethodPublisher }

func (f *publisherFinder) Find(ctx context.Context, q Query) ([]Candidate, error) {
	pageURL := strings.TrimSpace(q.EpisodeURL)
	if pageURL == "" {
		pageURL = strings.TrimSpace(q.ShowURL)
	}
	if pageURL == "" {
		return nil, nil
	}
	page, err := f.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := parsePage(page)
	if err != nil {
		return nil, err
	}

	hits := 0
	var titled, first string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := resolve(pageURL, sel.AttrOr("href", ""))
		text := strings.TrimSpace(sel.Text())
		if href == "" || !mentionsTranscript(text, href) {
			return
		}
		hits++
		if first == "" {
			first = href
		}
		if titled == "" && q.EpisodeTitle != "" &&
			(textutil.TitleSimilarity(text, q.EpisodeTitle) >= titleMatchThreshold ||
				strings.Contains(href, textutil.Slug(q.EpisodeTitle))) {
			titled = href
			hits++
		}
	})
	inline := doc.Find(`[id*="transcript"], [class*="transcript"]`).Length() > 0
	if inline {
		hits++
	}

	target := titled
	if target == "" {
		target = first
	}
	if target == "" && inline {
		target = pageURL
	}
	if target == "" {
		return nil, nil
	}
	confidence := ConfidencePublisherMin + 0.15*float64(hits-1)
	confidence = min(max(confidence, ConfidencePublisherMin), ConfidencePublisherMax)
	return []Candidate{{URL: target, Method: config.MethodPublisher, Confidence: confidence}}, nil
}

// searchFinder runs a web search and returns the top results. Results on
// known transcript sites rank above generic pages.
type searchFinder struct {
	template string
	fetch    fetchFunc
}

const maxSearchResults = 3

func (f *searchFinder) Method() string { return config.MethodSearch }

func (f *searchFinder) Find(ctx context.Context, q Query) ([]Candidate, error) {
	if strings.TrimSpace(f.template) == "" {
		return nil, nil
	}
	searchURL := expandTemplate(f.template, q)
	page, err := f.fetch(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	doc, err := parsePage(page)
	if err != nil {
		return nil, err
	}
	searchHost := hostOf(searchURL)
	links := doc.Find("a.result__a")
	if links.Length() == 0 {
		links = doc.Find("a[href]")
	}

	var preferred, rest []Candidate
	seen := make(map[string]struct{})
	links.Each(func(_ int, sel *goquery.Selection) {
		raw := resolve(searchURL, sel.AttrOr("href", ""))
		href := unwrapRedirect(raw)
		host := hostOf(href)
		if href == "" || (href == raw && host == searchHost) {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		if hostMatches(host, transcripterHosts) {
			preferred = append(preferred, Candidate{URL: href, Method: config.MethodSearch, Confidence: ConfidenceTranscripter})
			return
		}
		rest = append(rest, Candidate{URL: href, Method: config.MethodSearch, Confidence: ConfidenceSearch})
	})
	out := append(preferred, rest...)
	if len(out) > maxSearchResults {
		out = out[:maxSearchResults]
	}
	return out, nil
}

// unwrapRedirect extracts the target of search-engine click-through links
// such as /l/?uddg=<target>.
func unwrapRedirect(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	for _, key := range []string{"uddg", "url", "q"} {
		if target := u.Query().Get(key); strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			return target
		}
	}
	return rawURL
}
