package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTMLMetaResult is the htmlmeta provider's slice of the report payload.
type HTMLMetaResult struct {
	FinalURL        string            `json:"final_url"`
	StatusCode      int               `json:"status_code"`
	Title           string            `json:"title"`
	MetaDescription string            `json:"meta_description"`
	Canonical       string            `json:"canonical"`
	OpenGraph       map[string]string `json:"open_graph,omitempty"`
	H1Count         int               `json:"h1_count"`
	HasViewport     bool              `json:"has_viewport"`
	ResponseMs      int64             `json:"response_ms"`
}

type htmlMetaProvider struct {
	client *http.Client
}

func NewHTMLMeta() Provider {
	return &htmlMetaProvider{
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *htmlMetaProvider) Name() string    { return "htmlmeta" }
func (p *htmlMetaProvider) CostUSD() float64 { return 0.002 }

func (p *htmlMetaProvider) Analyze(ctx context.Context, domain string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+domain+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "SiteInsightBot/1.0 (+https://siteinsight.io/bot)")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", domain, err)
	}
	defer resp.Body.Close()

	result := HTMLMetaResult{
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		ResponseMs: time.Since(start).Milliseconds(),
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", domain, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	result.MetaDescription, _ = doc.Find(`meta[name="description"]`).First().Attr("content")
	result.Canonical, _ = doc.Find(`link[rel="canonical"]`).First().Attr("href")
	result.H1Count = doc.Find("h1").Length()
	_, result.HasViewport = doc.Find(`meta[name="viewport"]`).First().Attr("content")

	og := map[string]string{}
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		content, _ := s.Attr("content")
		if prop != "" && content != "" {
			og[strings.TrimPrefix(prop, "og:")] = content
		}
	})
	if len(og) > 0 {
		result.OpenGraph = og
	}

	return json.Marshal(result)
}
