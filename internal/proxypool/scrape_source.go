package proxypool

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// ScrapeSource collects proxy candidates with a colly crawler. Unlike
// TableSource it follows the site's own row markup and survives listing
// pages that interleave ads or header rows.
type ScrapeSource struct {
	name string
	url  string
}

// NewScrapeSource creates a colly-backed source for a proxy listing page.
func NewScrapeSource(name, rawURL string) *ScrapeSource {
	return &ScrapeSource{name: name, url: rawURL}
}

func (s *ScrapeSource) Name() string {
	return s.name
}

func (s *ScrapeSource) Fetch(ctx context.Context) ([]Candidate, error) {
	c := colly.NewCollector(
		colly.UserAgent(sourceUserAgent),
	)
	c.SetRequestTimeout(20 * time.Second)

	var (
		mu         sync.Mutex
		candidates []Candidate
	)

	c.OnHTML("tr", func(e *colly.HTMLElement) {
		cells := e.ChildTexts("td")
		if len(cells) < 2 {
			return
		}
		ip := strings.TrimSpace(cells[0])
		portStr := strings.TrimSpace(cells[1])
		if ip == "" || portStr == "" {
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return
		}
		mu.Lock()
		candidates = append(candidates, Candidate{
			Address:  net.JoinHostPort(ip, portStr),
			Protocol: ProtocolHTTP,
			Source:   s.name,
		})
		mu.Unlock()
	})

	if err := c.Visit(s.url); err != nil {
		return nil, fmt.Errorf("scrape of %s failed: %w", s.name, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}
