// Package crawl fetches web pages and turns them into
// markdown-flavored text suitable for collection files.
package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
)

// Page is one extracted web page.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// LinkPreview lists a page's outgoing links split by host.
type LinkPreview struct {
	URL      string   `json:"url"`
	Internal []string `json:"internal"`
	External []string `json:"external"`
}

// Crawler fetches and extracts pages within configured bounds.
type Crawler struct {
	client *http.Client
	cfg    config.CrawlConfig
	logger *logging.Logger
}

// New builds a crawler. The HTTP client carries the configured fetch
// timeout; per-request contexts can cancel earlier.
func New(cfg config.CrawlConfig, logger *logging.Logger) *Crawler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Crawler{
		client: &http.Client{Timeout: cfg.FetchTimeout.Duration()},
		cfg:    cfg,
		logger: logger,
	}
}

// ExtractOne fetches a single URL and extracts its readable content.
func (c *Crawler) ExtractOne(ctx context.Context, rawURL string) (*Page, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := c.fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	return extractPage(u, doc), nil
}

// PreviewLinks fetches a URL and returns its outgoing links, resolved
// against the page and split into same-host and external.
func (c *Crawler) PreviewLinks(ctx context.Context, rawURL string) (*LinkPreview, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := c.fetch(ctx, u)
	if err != nil {
		return nil, err
	}

	preview := &LinkPreview{URL: u.String()}
	for _, link := range pageLinks(u, doc) {
		if link.Host == u.Host {
			preview.Internal = append(preview.Internal, link.String())
		} else {
			preview.External = append(preview.External, link.String())
		}
	}
	return preview, nil
}

// DeepCrawl walks same-host links breadth first from the start URL.
// Depth and page count are clamped to the configured maximums. Fetch
// failures skip the page; only the start page failing is an error.
func (c *Crawler) DeepCrawl(ctx context.Context, rawURL string, maxDepth, maxPages int) ([]Page, error) {
	start, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > c.cfg.MaxDepth {
		maxDepth = c.cfg.MaxDepth
	}
	if maxPages <= 0 || maxPages > c.cfg.MaxPages {
		maxPages = c.cfg.MaxPages
	}

	type target struct {
		url   *url.URL
		depth int
	}
	queue := []target{{url: start, depth: 0}}
	visited := map[string]bool{normalizeURL(start): true}
	var pages []Page

	for len(queue) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return pages, apperr.FromContext(err)
		}
		next := queue[0]
		queue = queue[1:]

		doc, err := c.fetch(ctx, next.url)
		if err != nil {
			if len(pages) == 0 && next.depth == 0 {
				return nil, err
			}
			c.logger.Warn(ctx, "crawl fetch skipped",
				zap.String("url", next.url.String()), zap.Error(err))
			continue
		}
		pages = append(pages, *extractPage(next.url, doc))

		if next.depth >= maxDepth {
			continue
		}
		for _, link := range pageLinks(next.url, doc) {
			if link.Host != start.Host {
				continue
			}
			key := normalizeURL(link)
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, target{url: link, depth: next.depth + 1})
		}
	}
	return pages, nil
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Errorf(apperr.KindValidation, "invalid_url",
			"url must be absolute http(s), got %q", rawURL)
	}
	return u, nil
}

// normalizeURL strips fragments so anchor variants of one page are
// crawled once.
func normalizeURL(u *url.URL) string {
	clean := *u
	clean.Fragment = ""
	return clean.String()
}

func (c *Crawler) fetch(ctx context.Context, u *url.URL) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid_url", "building request", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.FromContext(ctx.Err())
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "fetch_failed",
			fmt.Sprintf("fetching %s", u), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.Errorf(apperr.KindUnavailable, "fetch_failed",
			"fetching %s: status %d", u, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "fetch_failed",
			fmt.Sprintf("parsing %s", u), err)
	}
	return doc, nil
}

func pageLinks(base *url.URL, doc *goquery.Document) []*url.URL {
	seen := map[string]bool{}
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		key := normalizeURL(resolved)
		if seen[key] {
			return
		}
		seen[key] = true
		links = append(links, resolved)
	})
	return links
}
