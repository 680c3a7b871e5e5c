// Package discovery walks the paginated tender listing and collects
// detail-page links in document order.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/akarpov/tender-harvester/internal/crawler"
	"github.com/akarpov/tender-harvester/internal/metrics"
)

const (
	containerSelector  = "div.table-body"
	detailLinkSelector = "a.description.tender-info__description.tender-info__link"
)

// Config controls the Discoverer.
type Config struct {
	// BaseURL is the site root used to absolutize relative hrefs.
	BaseURL string
	// ListingPath is the search path appended to BaseURL.
	ListingPath string
	// PageSize is the fixed number of tenders per listing page.
	PageSize int
}

// Discoverer drives the fetcher across consecutive listing pages.
type Discoverer struct {
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &Discoverer{fetcher: fetcher, cfg: cfg, logger: logger}
}

// PagesNeeded returns how many listing pages cover the requested record
// count: ceil(target/pageSize), zero for non-positive targets.
func (d *Discoverer) PagesNeeded(target int) int {
	if target <= 0 {
		return 0
	}
	return (target + d.cfg.PageSize - 1) / d.cfg.PageSize
}

// Discover scans listing pages 1..PagesNeeded(target) in order and returns
// every detail link found, page order and within-page order preserved, no
// deduplication. A page whose fetch fails terminally or whose listing
// container is missing contributes zero links; remaining pages are still
// scanned. The result is not truncated to target; that happens one layer up.
func (d *Discoverer) Discover(ctx context.Context, target int) []crawler.TenderLink {
	pages := d.PagesNeeded(target)
	listingURL := d.cfg.BaseURL + d.cfg.ListingPath

	var links []crawler.TenderLink
	for page := 1; page <= pages; page++ {
		resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{
			URL:    listingURL,
			Params: map[string]string{"page": strconv.Itoa(page)},
		})
		if err != nil {
			metrics.ObserveListingPage("fetch_error")
			d.logger.Error("listing page fetch failed, skipping",
				zap.Int("page", page),
				zap.Int("pages", pages),
				zap.Error(err),
			)
			continue
		}

		pageLinks, err := d.extractLinks(resp.Body)
		if err != nil {
			metrics.ObserveListingPage("no_container")
			d.logger.Warn("listing container missing",
				zap.Int("page", page),
				zap.Int("pages", pages),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveListingPage("ok")
		links = append(links, pageLinks...)
		d.logger.Info("listing page scanned",
			zap.Int("page", page),
			zap.Int("pages", pages),
			zap.Int("page_links", len(pageLinks)),
			zap.Int("total_links", len(links)),
		)
	}
	d.logger.Info("discovery finished", zap.Int("links", len(links)))
	return links
}

// extractLinks pulls detail-page anchors out of the listing container.
func (d *Discoverer) extractLinks(body []byte) ([]crawler.TenderLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	container := doc.Find(containerSelector)
	if container.Length() == 0 {
		return nil, fmt.Errorf("listing container %q not found", containerSelector)
	}

	base, err := url.Parse(d.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var links []crawler.TenderLink
	container.Find(detailLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		links = append(links, crawler.TenderLink(resolveURL(base, href)))
	})
	return links, nil
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return base.String() + href
	}
	return base.ResolveReference(ref).String()
}
