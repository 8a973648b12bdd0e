package playstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/review"
)

const maxDescriptionLen = 1200

var (
	titleSuffix     = regexp.MustCompile(`\s+-\s+(Apps|Aplikasi)\s+\S+.*$`)
	categoryPattern = regexp.MustCompile(`/store/apps/category/([A-Za-z0-9_]+)`)
)

// softwareApplication is the JSON-LD block embedded in details pages.
type softwareApplication struct {
	Type                string `json:"@type"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	ApplicationCategory string `json:"applicationCategory"`
	SoftwareVersion     string `json:"softwareVersion"`
}

// FetchMetadata loads the app details page and extracts title, description,
// genre, categories and version. A page that yields nothing returns a nil
// patch.
func (c *Client) FetchMetadata(ctx context.Context, appID, lang, country string) (*review.AppInfoPatch, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, &review.ValidationError{Field: "app_id", Message: "is required"}
	}
	q := url.Values{}
	q.Set("id", appID)
	if lang != "" {
		q.Set("hl", lang)
	}
	if country != "" {
		q.Set("gl", country)
	}
	target := c.baseURL + "/store/apps/details?" + q.Encode()

	if err := c.http.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var (
		patch    *review.AppInfoPatch
		fetchErr error
	)
	collector := c.newCollector(ctx)
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		patch = extractMetadata(e.DOM)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = &StatusError{Code: r.StatusCode, URL: target}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: details for %s: %w", review.ErrFetch, appID, ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			c.logger.Debug("details page failed", zap.String("app_id", appID), zap.Error(err))
			return nil, fmt.Errorf("%w: details for %s: %w", review.ErrFetch, appID, err)
		}
	}
	if patch == nil || patch.IsEmpty() {
		return nil, nil
	}
	return patch, nil
}

func (c *Client) newCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	collector.IgnoreRobotsTxt = true
	if c.userAgent != "" {
		collector.UserAgent = c.userAgent
	}
	collector.SetRequestTimeout(c.timeout)
	rt := c.http.client.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	collector.WithTransport(rt)
	return collector
}

func extractMetadata(doc *goquery.Selection) *review.AppInfoPatch {
	var (
		patch review.AppInfoPatch
		ld    softwareApplication
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var candidate softwareApplication
		if err := json.Unmarshal([]byte(s.Text()), &candidate); err != nil {
			return true
		}
		if candidate.Type == "SoftwareApplication" || candidate.Name != "" {
			ld = candidate
			return false
		}
		return true
	})

	title := strings.TrimSpace(ld.Name)
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		og, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
		title = strings.TrimSpace(titleSuffix.ReplaceAllString(og, ""))
	}
	patch.Title = nonEmpty(title)

	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	if strings.TrimSpace(description) == "" {
		description = ld.Description
	}
	if strings.TrimSpace(description) == "" {
		description, _ = doc.Find(`[data-g-id="description"]`).First().Html()
	}
	patch.Description = nonEmpty(cleanDescription(description))

	var (
		names   []string
		seen    = map[string]bool{}
		genreID string
	)
	doc.Find(`a[href*="/store/apps/category/"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		name := strings.TrimSpace(s.Text())
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
		if genreID == "" {
			if m := categoryPattern.FindStringSubmatch(href); m != nil {
				genreID = m[1]
			}
		}
	})
	if genreID == "" {
		genreID = ld.ApplicationCategory
	}
	if len(names) > 0 {
		patch.Genre = nonEmpty(names[0])
		patch.Categories = nonEmpty(strings.Join(names, ", "))
	}
	patch.GenreID = nonEmpty(genreID)
	patch.Version = nonEmpty(ld.SoftwareVersion)
	return &patch
}

// cleanDescription parses raw as an HTML fragment, keeps its text with
// single spaces between nodes and caps the length.
func cleanDescription(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	text := strings.Join(strings.Fields(strings.Join(textNodes(doc.Selection, nil), " ")), " ")
	runes := []rune(text)
	if len(runes) > maxDescriptionLen {
		return string(runes[:maxDescriptionLen-3]) + "..."
	}
	return text
}

func textNodes(sel *goquery.Selection, parts []string) []string {
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "#text":
			parts = append(parts, node.Text())
		case "script", "style":
		default:
			parts = textNodes(node, parts)
		}
	})
	return parts
}

func nonEmpty(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
