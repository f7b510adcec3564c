package proxypool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// TableSource scrapes proxy candidates from an HTML table, the layout used
// by most free-proxy listing sites: first cell IP, second cell port.
type TableSource struct {
	name     string
	url      string
	selector string
	client   *http.Client
}

// NewTableSource creates a source that parses an HTML proxy table. The
// selector addresses the table rows; it defaults to "table tbody tr".
func NewTableSource(name, rawURL, selector string) *TableSource {
	if selector == "" {
		selector = "table tbody tr"
	}
	return &TableSource{
		name:     name,
		url:      rawURL,
		selector: selector,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (s *TableSource) Name() string {
	return s.name
}

func (s *TableSource) Fetch(ctx context.Context) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.name, err)
	}
	req.Header.Set("User-Agent", sourceUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.name)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.name, err)
	}

	var candidates []Candidate
	doc.Find(s.selector).Each(func(_ int, sel *goquery.Selection) {
		ip := strings.TrimSpace(sel.Find("td").Eq(0).Text())
		portStr := strings.TrimSpace(sel.Find("td").Eq(1).Text())
		if ip == "" || portStr == "" {
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return
		}
		candidates = append(candidates, Candidate{
			Address:  net.JoinHostPort(ip, portStr),
			Protocol: ProtocolHTTP,
			Source:   s.name,
		})
	})
	return candidates, nil
}
