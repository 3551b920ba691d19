package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jobsift/jobsift/internal/model"
)

// BoardSource acquires listings from a job board: a JSON list endpoint for
// references and HTML detail pages expanded with goquery.
type BoardSource struct {
	baseURL string
	board   string
	client  *http.Client
}

// NewBoardSource creates a source for one board.
func NewBoardSource(baseURL, board string, client *http.Client) *BoardSource {
	return &BoardSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		board:   board,
		client:  client,
	}
}

// boardListing represents a single listing in the board list response.
type boardListing struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	AbsoluteURL string `json:"absolute_url"`
}

// boardListResponse is the top-level board list API response.
type boardListResponse struct {
	Listings []boardListing `json:"listings"`
}

// ListReferences fetches up to limit references, pushing the run filters into
// query parameters so the board does the narrowing. limit <= 0 means all.
func (s *BoardSource) ListReferences(ctx context.Context, limit int, filters model.SourceFilters) ([]model.ListingReference, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for _, org := range filters.Organizations {
		q.Add("organization", org)
	}
	for _, loc := range filters.Locations {
		q.Add("location", loc)
	}
	if filters.DateRange != nil {
		if !filters.DateRange.Start.IsZero() {
			q.Set("posted_after", filters.DateRange.Start.Format(time.RFC3339))
		}
		if !filters.DateRange.End.IsZero() {
			q.Set("posted_before", filters.DateRange.End.Format(time.RFC3339))
		}
	}

	listURL := fmt.Sprintf("%s/boards/%s/listings", s.baseURL, s.board)
	if encoded := q.Encode(); encoded != "" {
		listURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.board, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.board, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("list %s", s.board)}
	}

	var parsed boardListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("list %s: %w", s.board, err)
	}

	refs := make([]model.ListingReference, 0, len(parsed.Listings))
	for _, l := range parsed.Listings {
		refs = append(refs, model.ListingReference{
			ID:     l.ID,
			Title:  l.Title,
			URL:    l.AbsoluteURL,
			Source: s.board,
		})
		if limit > 0 && len(refs) == limit {
			break
		}
	}
	return refs, nil
}

// FetchDetail retrieves and parses one listing's detail page.
func (s *BoardSource) FetchDetail(ctx context.Context, ref model.ListingReference) (model.ListingDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return model.ListingDetail{}, fmt.Errorf("fetch %s: %w", ref.ID, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.ListingDetail{}, fmt.Errorf("fetch %s: %w", ref.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.ListingDetail{}, &model.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("fetch %s", ref.ID)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return model.ListingDetail{}, fmt.Errorf("parse %s: %w", ref.ID, err)
	}

	return parseDetail(doc, ref), nil
}

// parseDetail extracts the structured fields from a detail page document.
func parseDetail(doc *goquery.Document, ref model.ListingReference) model.ListingDetail {
	doc.Find("script, style, nav, header, footer, noscript, iframe").Remove()

	detail := model.ListingDetail{
		ID:     ref.ID,
		URL:    ref.URL,
		Source: ref.Source,
	}

	detail.Title = cleanText(doc.Find("h1").First().Text())
	if detail.Title == "" {
		detail.Title = ref.Title
	}
	detail.Organization = cleanText(doc.Find(".organization, [data-field=organization]").First().Text())
	detail.Location = cleanText(doc.Find(".location, [data-field=location]").First().Text())

	sections := sectionsByHeading(doc)
	detail.Description = sections["description"]
	detail.Responsibilities = sections["responsibilities"]
	detail.Requirements = sections["requirements"]
	detail.Notes = sections["notes"]

	// Pages without recognizable headings still yield usable text.
	if detail.Description == "" {
		detail.Description = cleanText(doc.Find("body").Text())
	}

	return detail
}

// sectionsByHeading collects text under h2/h3 headings keyed by a normalized
// section name. Content between one heading and the next belongs to it.
func sectionsByHeading(doc *goquery.Document) map[string]string {
	sections := make(map[string]string)
	doc.Find("h2, h3").Each(func(_ int, heading *goquery.Selection) {
		key := normalizeHeading(heading.Text())
		if key == "" {
			return
		}
		var parts []string
		for sib := heading.Next(); sib.Length() > 0; sib = sib.Next() {
			if goquery.NodeName(sib) == "h2" || goquery.NodeName(sib) == "h3" {
				break
			}
			if t := cleanText(sib.Text()); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			sections[key] = strings.Join(parts, "\n")
		}
	})
	return sections
}

func normalizeHeading(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(t, "responsibilit"), strings.Contains(t, "what you'll do"):
		return "responsibilities"
	case strings.Contains(t, "requirement"), strings.Contains(t, "qualification"):
		return "requirements"
	case strings.Contains(t, "description"), strings.Contains(t, "about the role"):
		return "description"
	case strings.Contains(t, "note"), strings.Contains(t, "benefit"):
		return "notes"
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
