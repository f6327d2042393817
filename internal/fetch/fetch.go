// Package fetch retrieves web pages and reduces them to readable text for
// the research agent.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	userAgent    = "quorum/1.0 (research fetcher)"
	maxBodyBytes = 2 << 20
	maxTextSize  = 15000
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)

// Page is the readable content of one fetched URL.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Fetcher downloads pages with a bounded body size and keeps a small cache
// of recent results keyed by URL.
type Fetcher struct {
	client *http.Client
	cache  *lru.Cache[string, Page]
}

func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cache, _ := lru.New[string, Page](64)
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}
}

// Fetch downloads url and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if p, ok := f.cache.Get(url); ok {
		return p, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read response: %w", err)
	}

	title, text, err := Extract(string(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	p := Page{URL: resp.Request.URL.String(), Title: title, Text: text}
	f.cache.Add(url, p)
	return p, nil
}

// Extract converts HTML into markdown-like text and returns the page title
// alongside it.
func Extract(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", err
	}

	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	var b strings.Builder
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(i int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			level := int(s.Get(0).Data[1] - '0')
			b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
		}
	})

	doc.Find("p, article, section").Each(func(i int, s *goquery.Selection) {
		// nested blocks are picked up through their own paragraphs
		if s.Find("p").Length() > 0 {
			return
		}
		if text := collapse(s.Text()); len(text) > 30 {
			b.WriteString(text + "\n\n")
		}
	})

	doc.Find("ul, ol").Each(func(i int, s *goquery.Selection) {
		items := 0
		s.ChildrenFiltered("li").Each(func(j int, li *goquery.Selection) {
			if text := collapse(li.Text()); text != "" {
				b.WriteString("- " + text + "\n")
				items++
			}
		})
		if items > 0 {
			b.WriteString("\n")
		}
	})

	text := strings.TrimSpace(b.String())
	if len(text) > maxTextSize {
		text = text[:maxTextSize] + "\n\n[content truncated]"
	}
	return title, text, nil
}

// ExtractURLs returns the distinct http(s) URLs found in text, in order.
func ExtractURLs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?")
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
