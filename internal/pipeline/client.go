// Package pipeline downloads Federal Register documents and loads them into
// the document store.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/xiaot623/fedchat/internal/store"
)

// DefaultBaseURL is the public Federal Register API.
const DefaultBaseURL = "https://www.federalregister.gov/api/v1"

// DateLayout is the format of publication dates.
const DateLayout = "2006-01-02"

// perPage is the largest page the API serves for one day.
const perPage = 100

var documentFields = []string{
	"document_number",
	"title",
	"publication_date",
	"type",
	"abstract",
	"html_url",
	"pdf_url",
	"subtype",
}

// Client is an HTTP client for the Federal Register documents API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client. Requests are spaced at least interval apart;
// zero disables the spacing.
func NewClient(baseURL string, interval time.Duration) *Client {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// apiDocument is one entry of the API's results list.
type apiDocument struct {
	DocumentNumber  string `json:"document_number"`
	Title           string `json:"title"`
	PublicationDate string `json:"publication_date"`
	DocumentType    string `json:"document_type"`
	Abstract        string `json:"abstract"`
	HTMLURL         string `json:"html_url"`
	PDFURL          string `json:"pdf_url"`
	Type            string `json:"type"`
	Subtype         string `json:"subtype"`
}

type documentsResponse struct {
	Count   int           `json:"count"`
	Results []apiDocument `json:"results"`
}

type errorResponse struct {
	Errors  json.RawMessage `json:"errors"`
	Message string          `json:"message"`
}

// FetchDay calls GET /documents.json for the documents published on day and
// returns them cleaned up for the store.
func (c *Client) FetchDay(ctx context.Context, day time.Time) ([]store.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	date := day.Format(DateLayout)
	q := url.Values{}
	for _, f := range documentFields {
		q.Add("fields[]", f)
	}
	q.Set("conditions[publication_date][is]", date)
	q.Set("per_page", strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents.json?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "download documents for %s", date)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
			return nil, errors.Errorf("federal register error for %s: HTTP %d - %s", date, resp.StatusCode, errResp.Message)
		}
		return nil, errors.Errorf("federal register error for %s: HTTP %d - %s", date, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out documentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decode documents for %s", date)
	}
	return cleanDocuments(out.Results, day), nil
}

// cleanDocuments drops entries without a document number, names untitled
// ones and falls back to day for missing or invalid publication dates.
func cleanDocuments(results []apiDocument, day time.Time) []store.Document {
	docs := make([]store.Document, 0, len(results))
	for _, r := range results {
		if r.DocumentNumber == "" {
			continue
		}
		doc := store.Document{
			DocumentNumber:  r.DocumentNumber,
			Title:           r.Title,
			PublicationDate: r.PublicationDate,
			DocumentType:    r.DocumentType,
			Abstract:        r.Abstract,
			HTMLURL:         r.HTMLURL,
			PDFURL:          r.PDFURL,
			Type:            r.Type,
			Subtype:         r.Subtype,
		}
		if doc.Title == "" {
			doc.Title = "Untitled Document"
		}
		if doc.DocumentType == "" {
			doc.DocumentType = r.Type
		}
		if t, err := time.Parse(DateLayout, doc.PublicationDate); err == nil {
			doc.PublicationDate = t.Format(DateLayout)
		} else {
			doc.PublicationDate = day.Format(DateLayout)
		}
		docs = append(docs, doc)
	}
	return docs
}
