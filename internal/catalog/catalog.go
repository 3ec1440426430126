// Package catalog scrapes the OpenRouter model directory so the local API
// can show which models are available without hardcoding the list.
package catalog

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultCatalogURL is the public model directory.
	DefaultCatalogURL = "https://openrouter.ai/models"

	// FetchTimeout bounds each directory request.
	FetchTimeout = 30 * time.Second
)

// ModelEntry is one model listed in the directory.
type ModelEntry struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Vendor        string    `json:"vendor"`
	ContextLength int       `json:"context_length,omitempty"`
	URL           string    `json:"url,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// Fetcher retrieves and parses the model directory.
type Fetcher struct {
	baseURL string
	client  *http.Client
}

// NewFetcher builds a fetcher. Empty baseURL uses the public directory.
func NewFetcher(baseURL string, client *http.Client) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultCatalogURL
	}
	if client == nil {
		client = &http.Client{Timeout: FetchTimeout}
	}
	return &Fetcher{baseURL: baseURL, client: client}
}

// Fetch downloads the directory page and extracts its model entries.
func (f *Fetcher) Fetch(ctx context.Context) ([]ModelEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from model directory", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	entries := ParseCatalogHTML(doc, f.baseURL)
	log.Printf("[catalog] fetched %d models from directory", len(entries))
	return entries, nil
}

var contextPattern = regexp.MustCompile(`([\d,]+)\s*(?:context|tokens)`)

// ParseCatalogHTML extracts model entries from a directory page. Entries
// are anchors whose href looks like /<vendor>/<model>; surrounding text
// supplies the display name and context window when present.
func ParseCatalogHTML(doc *goquery.Document, baseURL string) []ModelEntry {
	var entries []ModelEntry
	seen := make(map[string]bool)
	scrapedAt := time.Now()

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		id := modelIDFromHref(href)
		if id == "" || seen[id] {
			return
		}

		name := strings.TrimSpace(s.Find("h3, h2").First().Text())
		if name == "" {
			name = strings.TrimSpace(s.Text())
		}
		if name == "" {
			return
		}
		// Collapse internal whitespace from nested markup.
		name = strings.Join(strings.Fields(name), " ")
		if len(name) > 120 {
			return
		}

		entry := ModelEntry{
			ID:        id,
			Name:      name,
			Vendor:    strings.SplitN(id, "/", 2)[0],
			URL:       absoluteURL(baseURL, href),
			ScrapedAt: scrapedAt,
		}

		// Context window text sits next to the link inside its card. Only
		// trust the parent when the card holds just this one link, so a
		// page-level container never bleeds across entries.
		if parent := s.Parent(); parent.Find("a[href]").Length() == 1 {
			if m := contextPattern.FindStringSubmatch(parent.Text()); len(m) > 1 {
				raw := strings.ReplaceAll(m[1], ",", "")
				if n, err := strconv.Atoi(raw); err == nil {
					entry.ContextLength = n
				}
			}
		}

		seen[id] = true
		entries = append(entries, entry)
	})

	return entries
}

var modelHrefPattern = regexp.MustCompile(`^/([a-z0-9-]+)/([a-z0-9.:-]+)$`)

// modelIDFromHref turns a directory link into a vendor/model id, or ""
// when the link points elsewhere.
func modelIDFromHref(href string) string {
	href = strings.TrimSuffix(href, "/")
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	m := modelHrefPattern.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	// Skip site navigation that happens to match the shape.
	switch m[1] {
	case "docs", "api", "settings", "chat", "rankings":
		return ""
	}
	return m[1] + "/" + m[2]
}

func absoluteURL(baseURL, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base := strings.TrimSuffix(baseURL, "/models")
	if strings.HasPrefix(href, "/") {
		return base + href
	}
	return base + "/" + href
}
