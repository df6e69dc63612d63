package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lgomes/patentscope-api/internal/patents"
)

// DefaultBaseURL is the WIPO PatentScope portal root.
const DefaultBaseURL = "https://patentscope.wipo.int"

// DefaultTimeout bounds a single portal request.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent identifies the client to the portal.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PatentScopeAPI/1.0)"

const defaultMaxRetries = 3

// retryBaseDelay is the base backoff after an HTTP 429. Tests override
// it to avoid real sleeps.
var retryBaseDelay = 2 * time.Second

// Options configures the live PatentScope client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
	// MinDelay spaces out consecutive portal requests. Zero disables
	// pacing (used in tests).
	MinDelay time.Duration
	// UseLogin makes the client authenticate with the WIPO credentials
	// before its first search, via a headless browser session.
	UseLogin bool
	Username string
	Password string
	Logger   zerolog.Logger
}

// PatentScope is the live portal client. One instance serves a single
// task run; it is not safe for concurrent use across tasks.
type PatentScope struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	session  *browserSession
	loggedIn bool
}

// NewPatentScope builds a client. The returned client logs in lazily on
// first use when Options.UseLogin is set.
func NewPatentScope(opts Options) *PatentScope {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MinDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinDelay), 1)
	}

	return &PatentScope{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		log:     opts.Logger,
	}
}

// Close releases the browser session, if one was opened.
func (p *PatentScope) Close() {
	if p.session != nil {
		p.session.close()
		p.session = nil
	}
}

// Search implements Client. It fetches one result page for term, scoped
// to country when non-empty.
func (p *PatentScope) Search(ctx context.Context, term, country string, page int) (*Page, error) {
	const op = "patentscope.search"

	if err := p.ensureSession(ctx, op); err != nil {
		return nil, err
	}

	query := buildQuery(term, country)
	html, err := p.fetchResultPage(ctx, op, query, page)
	if err != nil {
		return nil, err
	}

	result, err := parseResultPage(html, country)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: op, Message: "unparseable result page", Cause: err}
	}

	p.log.Debug().
		Str("country", country).
		Int("page", page).
		Int("hits", len(result.Hits)).
		Bool("has_more", result.HasMore).
		Msg("result page parsed")
	return result, nil
}

// FetchDetail implements Client. It looks the publication number up via
// an exact PN query and parses the detail view.
func (p *PatentScope) FetchDetail(ctx context.Context, publicationNumber string) (*patents.DetailPayload, error) {
	const op = "patentscope.detail"

	if err := p.ensureSession(ctx, op); err != nil {
		return nil, err
	}

	detailURL := fmt.Sprintf("%s/search/en/detail.jsf?query=%s",
		p.opts.BaseURL, url.QueryEscape(fmt.Sprintf("PN:(%s)", publicationNumber)))

	html, err := p.get(ctx, op, detailURL)
	if err != nil {
		return nil, err
	}

	payload, err := parseDetailPage(html)
	if err != nil {
		return nil, &Error{Kind: KindParse, Op: op, Message: "unparseable detail page", Cause: err}
	}
	return payload, nil
}

// ensureSession performs the authenticated login once, when requested.
func (p *PatentScope) ensureSession(ctx context.Context, op string) error {
	if !p.opts.UseLogin || p.loggedIn {
		return nil
	}
	if p.opts.Username == "" || p.opts.Password == "" {
		return &Error{Kind: KindAuthRequired, Op: op, Message: "login requested but WIPO credentials are not configured"}
	}
	session, err := newBrowserSession(ctx, p.opts)
	if err != nil {
		return &Error{Kind: KindAuthRequired, Op: op, Message: "portal login failed", Cause: err}
	}
	p.session = session
	p.loggedIn = true
	p.log.Info().Msg("authenticated portal session established")
	return nil
}

// fetchResultPage retrieves the HTML of one result page, through the
// browser session when authenticated access was requested (the result
// list renders only partially without JavaScript for logged-in views).
func (p *PatentScope) fetchResultPage(ctx context.Context, op, query string, page int) (string, error) {
	pageURL := fmt.Sprintf("%s/search/en/result.jsf?query=%s&currentNavigationRow=%d",
		p.opts.BaseURL, url.QueryEscape(query), page)

	if p.session != nil {
		html, err := p.session.render(ctx, pageURL)
		if err != nil {
			return "", &Error{Kind: KindTransport, Op: op, Message: "browser rendering failed", Cause: err}
		}
		return html, nil
	}
	return p.get(ctx, op, pageURL)
}

// get performs a paced, retried GET and returns the body. HTTP 429 is
// retried with exponential backoff; a still-limited response after all
// retries surfaces as a rate_limited error.
func (p *PatentScope) get(ctx context.Context, op, rawURL string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", &Error{Kind: KindTransport, Op: op, Message: "request pacing interrupted", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &Error{Kind: KindTransport, Op: op, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept-Language", "en")

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		resp, err = p.client.Do(req.Clone(ctx))
		if err != nil {
			return "", &Error{Kind: KindTransport, Op: op, Message: "request failed", Cause: err}
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if attempt >= p.opts.MaxRetries {
			return "", &Error{Kind: KindRateLimited, Op: op,
				Message: fmt.Sprintf("still rate limited after %d retries", p.opts.MaxRetries)}
		}

		backoff := retryBaseDelay << attempt
		p.log.Warn().Dur("backoff", backoff).Int("attempt", attempt+1).Msg("rate limited, backing off")
		select {
		case <-ctx.Done():
			return "", &Error{Kind: KindTransport, Op: op, Message: "cancelled during backoff", Cause: ctx.Err()}
		case <-time.After(backoff):
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransport, Op: op, Message: "failed to read response body", Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &Error{Kind: KindAuthRequired, Op: op,
			Message: fmt.Sprintf("portal denied access (HTTP %d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", &Error{Kind: KindTransport, Op: op,
			Message: fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode)}
	}
	return string(body), nil
}

// buildQuery renders the advanced-search query string. FP searches all
// fields; a country filter narrows by publication country.
func buildQuery(term, country string) string {
	q := fmt.Sprintf("FP:(%s)", term)
	if country != "" {
		q = fmt.Sprintf("CTR:%s AND %s", country, q)
	}
	return q
}

// parseResultPage extracts raw hits from a PatentScope result list.
// The portal renders results as a table with alternating row classes;
// each row links to detail.jsf and carries per-field spans.
func parseResultPage(html, country string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	table := doc.Find("table.resultListTable").First()
	if table.Length() == 0 {
		table = doc.Find("table").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find(`a[href*="detail.jsf"]`).Length() > 0
		}).First()
	}
	if table.Length() == 0 {
		if hasNoResultsMarker(doc) {
			return &Page{}, nil
		}
		return nil, fmt.Errorf("no result table found")
	}

	rows := table.Find("tr.resultListEvenRow, tr.resultListOddRow")
	if rows.Length() == 0 {
		// Fall back to all rows, skipping a header row when present.
		rows = table.Find("tr")
		if rows.Length() > 1 {
			rows = rows.Slice(1, goquery.ToEnd)
		}
	}

	page := &Page{}
	rows.Each(func(_ int, row *goquery.Selection) {
		hit, ok := parseResultRow(row, country)
		if ok {
			page.Hits = append(page.Hits, hit)
		}
	})

	page.HasMore = hasNextPageLink(doc)
	return page, nil
}

func parseResultRow(row *goquery.Selection, country string) (patents.RawHit, bool) {
	hit := patents.RawHit{Country: country}

	link := row.Find(`a[href*="detail.jsf"]`).First()
	if link.Length() > 0 {
		number := link.Find("span").First()
		if number.Length() > 0 {
			hit.PublicationNumber = clean(number.Text())
		} else {
			hit.PublicationNumber = clean(link.Text())
		}
		if href, ok := link.Attr("href"); ok {
			hit.DetailURL = href
		}
	} else {
		hit.PublicationNumber = clean(row.Find("td").First().Text())
	}
	if hit.PublicationNumber == "" {
		return hit, false
	}

	hit.Title = clean(row.Find("span.title").First().Text())
	if hit.Title == "" && link.Length() > 0 {
		hit.Title = clean(link.Text())
	}
	hit.PublicationDate = clean(row.Find("span.date").First().Text())
	hit.Applicants = splitNames(row.Find("span.applicant").First().Text())
	hit.Inventors = splitNames(row.Find("span.inventor").First().Text())
	return hit, true
}

// parseDetailPage extracts the full payload from a PatentScope detail
// view. Missing sections leave their fields empty rather than failing;
// only a page without any recognizable detail markup is an error.
func parseDetailPage(html string) (*patents.DetailPayload, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	payload := &patents.DetailPayload{}
	found := false

	if abstract := doc.Find("div.abstract, #abstractText").First(); abstract.Length() > 0 {
		payload.Abstract = clean(abstract.Text())
		found = true
	}
	if desc := doc.Find("div.description, #descriptionText").First(); desc.Length() > 0 {
		payload.Description = clean(desc.Text())
		found = true
	}
	doc.Find("div.claims div.claim, #claimsText p").Each(func(_ int, s *goquery.Selection) {
		if text := clean(s.Text()); text != "" {
			payload.Claims = append(payload.Claims, text)
			found = true
		}
	})

	// Bibliographic rows render as label/value table cells.
	doc.Find("table.bibliographicData tr, div.patent-bibdata tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.ToLower(clean(cells.Eq(0).Text()))
		value := clean(cells.Eq(1).Text())
		if value == "" {
			return
		}
		switch {
		case strings.Contains(label, "application number"):
			payload.ApplicationNumber = value
		case strings.Contains(label, "application date"), strings.Contains(label, "filing date"):
			payload.ApplicationDate = value
		case strings.Contains(label, "priority number"):
			payload.PriorityNumber = value
		case strings.Contains(label, "priority date"):
			payload.PriorityDate = value
		case strings.Contains(label, "ipc"):
			payload.IPCClassifications = splitNames(value)
		case strings.Contains(label, "cpc"):
			payload.CPCClassifications = splitNames(value)
		default:
			return
		}
		found = true
	})

	doc.Find(`div.citations a[href*="detail.jsf"]`).Each(func(_ int, s *goquery.Selection) {
		if text := clean(s.Text()); text != "" {
			payload.CitedPatents = append(payload.CitedPatents, text)
			found = true
		}
	})
	doc.Find("div.citations li.npl").Each(func(_ int, s *goquery.Selection) {
		if text := clean(s.Text()); text != "" {
			payload.CitedLiterature = append(payload.CitedLiterature, text)
			found = true
		}
	})
	doc.Find(`div.relatedDocuments a`).Each(func(_ int, s *goquery.Selection) {
		if text := clean(s.Text()); text != "" {
			payload.RelatedDocuments = append(payload.RelatedDocuments, text)
			found = true
		}
	})

	if !found {
		return nil, fmt.Errorf("no detail sections recognized")
	}
	return payload, nil
}

func hasNoResultsMarker(doc *goquery.Document) bool {
	text := doc.Find("body").Text()
	return strings.Contains(text, "No results") || strings.Contains(text, "0 results")
}

func hasNextPageLink(doc *goquery.Document) bool {
	if doc.Find(`a[title="Next page"], a.next`).Length() > 0 {
		return true
	}
	next := false
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := clean(s.Text())
		if t == "Next" || t == "›" || t == "»" {
			next = true
			return false
		}
		return true
	})
	return next
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// splitNames splits PatentScope's semicolon-joined name lists.
func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if name := clean(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}
