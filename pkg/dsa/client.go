// Package dsa provides a client for the Digital Slide Archive (Girder) REST
// API, covering the item, folder, and metadata operations the wrangler uses.
package dsa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// defaultPageSize matches the page size existing tooling uses against DSA
// deployments that reject unbounded listings.
const defaultPageSize = 500

// Client defines the archive operations consumed by the sync engine.
type Client interface {
	// ListItems returns every item under the resource (folder or
	// collection), recursively. It first asks for everything in one call
	// and falls back to offset pagination if the server rejects that.
	ListItems(ctx context.Context, resourceID, resourceType string) ([]Item, error)

	// GetItem fetches a single item by ID.
	GetItem(ctx context.Context, itemID string) (*Item, error)

	// UpdateItemAnnotation overwrites the item's bdsaLocal annotation
	// sub-document. The write is idempotent.
	UpdateItemAnnotation(ctx context.Context, itemID string, ann LocalAnnotation) (*Item, error)

	// ListFolders returns the immediate child folders of a parent.
	ListFolders(ctx context.Context, parentID, parentType string) ([]Folder, error)

	// CreateFolder creates a folder under the parent. With reuseExisting
	// the server returns the existing folder of the same name instead of
	// failing.
	CreateFolder(ctx context.Context, parentID, name, parentType string, reuseExisting bool) (*Folder, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default request rate (10 req/s). Zero or
// negative disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithPageSize overrides the pagination page size.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

type httpClient struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a DSA client for the given API root (e.g.
// "https://dsa.example.org/api/v1") authenticating with a Girder token.
// Token lifecycle is the caller's concern; the client only attaches it.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL:  baseURL,
		token:    token,
		pageSize: defaultPageSize,
		limiter:  rate.NewLimiter(10, 10),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// do issues one request and decodes either the response body or the
// archive's structured error into an APIError.
func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "dsa: rate limit")
	}

	u := c.baseURL + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "dsa: marshal request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return eris.Wrap(err, "dsa: build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Girder-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "dsa: %s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "dsa: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		}
		if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
			apiErr.Message = parsed.Message
			apiErr.Type = parsed.Type
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrapf(err, "dsa: decode %s %s response", method, path)
		}
	}
	return nil
}

func (c *httpClient) ListItems(ctx context.Context, resourceID, resourceType string) ([]Item, error) {
	path := fmt.Sprintf("resource/%s/items", url.PathEscape(resourceID))

	// limit=0 asks Girder for everything in one response.
	q := url.Values{"type": {resourceType}, "limit": {"0"}}
	var items []Item
	err := c.do(ctx, http.MethodGet, path, q, nil, &items)
	if err == nil {
		return items, nil
	}
	if !paginationMayHelp(err) {
		return nil, err
	}

	zap.L().Debug("unbounded listing failed, falling back to pagination",
		zap.String("resource", resourceID),
		zap.Error(err),
	)

	items = items[:0]
	offset := 0
	for {
		q := url.Values{
			"type":   {resourceType},
			"limit":  {strconv.Itoa(c.pageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		var page []Item
		if err := c.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
			return nil, eris.Wrapf(err, "dsa: list items page at offset %d", offset)
		}
		if len(page) == 0 {
			return items, nil
		}
		items = append(items, page...)
		if len(page) < c.pageSize {
			return items, nil
		}
		offset += len(page)
	}
}

// paginationMayHelp reports whether retrying a rejected unbounded listing
// in pages could change the outcome. Deployments that cap response sizes
// answer with a 400, 413, or a server error; auth and not-found failures
// repeat identically at any page size.
func paginationMayHelp(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return true
	}
	return apiErr.StatusCode >= 500
}

func (c *httpClient) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodGet, "item/"+url.PathEscape(itemID), nil, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *httpClient) UpdateItemAnnotation(ctx context.Context, itemID string, ann LocalAnnotation) (*Item, error) {
	if ann.Source == "" {
		ann.Source = AnnotationSource
	}
	if ann.LastUpdated.IsZero() {
		ann.LastUpdated = time.Now().UTC()
	}
	if ann.StainProtocol == nil {
		ann.StainProtocol = []string{}
	}
	if ann.RegionProtocol == nil {
		ann.RegionProtocol = []string{}
	}

	var meta bdsaMeta
	meta.BDSA.Local = &ann

	var item Item
	path := "item/" + url.PathEscape(itemID) + "/metadata"
	if err := c.do(ctx, http.MethodPut, path, nil, meta, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *httpClient) ListFolders(ctx context.Context, parentID, parentType string) ([]Folder, error) {
	q := url.Values{
		"parentId":   {parentID},
		"parentType": {parentType},
		"limit":      {"0"},
	}
	var folders []Folder
	if err := c.do(ctx, http.MethodGet, "folder", q, nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (c *httpClient) CreateFolder(ctx context.Context, parentID, name, parentType string, reuseExisting bool) (*Folder, error) {
	q := url.Values{
		"parentId":      {parentID},
		"name":          {name},
		"parentType":    {parentType},
		"reuseExisting": {strconv.FormatBool(reuseExisting)},
	}
	var folder Folder
	if err := c.do(ctx, http.MethodPost, "folder", q, nil, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}
