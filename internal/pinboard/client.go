// Package pinboard provides client functionality for the content site's
// undocumented internal API, including the cursor-driven pin paginator.
package pinboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"pindl/pkg/models"
)

const (
	// DefaultBaseURL is the base URL for the upstream internal API
	DefaultBaseURL = "https://www.pinterest.com"

	// endBookmark is the sentinel cursor the API emits on the last page
	endBookmark = "-end-"

	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// RawPin is one undecoded item record as the API returns it. The extractor
// digs through it with fallback resolvers, so it stays a generic tree.
type RawPin map[string]any

// Page is one paginator round-trip result, consumed immediately
type Page struct {
	Items    []RawPin
	Bookmark string
}

// PageFunc is invoked once per completed page with the cumulative item count
type PageFunc func(pageIndex, itemCountSoFar int)

// Result is the outcome of a full pagination run
type Result struct {
	Items      []RawPin
	Owner      models.OwnerMeta
	Pages      int
	HitPageCap bool
}

// Options bounds one pagination run
type Options struct {
	MaxPages       int
	EmptyPageLimit int
	PageSize       int
	OnPage         PageFunc
}

// Client talks to the upstream internal API. One client keeps one cookie
// jar, which the API requires across calls within a paginator run.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an API client. The supplied http.Client must carry a cookie
// jar; pass fetch.New(...).HTTPClient() to share cookies with downloads.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		logger:     slog.Default(),
	}
}

// NewWithBaseURL creates an API client against a non-default endpoint,
// used for mirrors and tests.
func NewWithBaseURL(httpClient *http.Client, baseURL string) *Client {
	c := New(httpClient)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// apiResponse mirrors the relevant slice of the internal resource envelope
type apiResponse struct {
	ResourceResponse struct {
		Data     json.RawMessage `json:"data"`
		Bookmark string          `json:"bookmark"`
	} `json:"resource_response"`
}

// FetchAll walks the items-by-cursor endpoint for one owner and accumulates
// every raw record. Partial results are returned without error once at least
// one item has been collected; only a failure on a fully empty run fails the
// whole operation.
func (c *Client) FetchAll(ctx context.Context, username string, opts Options) (*Result, error) {
	username = NormalizeUsername(username)
	if !usernamePattern.MatchString(username) {
		return nil, &models.ValidationError{Field: "username", Reason: "must be 1-64 word characters"}
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 50
	}
	if opts.MaxPages > 100 {
		opts.MaxPages = 100
	}
	if opts.EmptyPageLimit < 1 {
		opts.EmptyPageLimit = 3
	}
	if opts.PageSize < 1 {
		opts.PageSize = 25
	}

	result := &Result{}
	var bookmark string
	var ownerSeen bool
	emptyPages := 0

	for page := 0; page < opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, models.ErrCancelled
		}

		p, err := c.fetchPage(ctx, username, bookmark, opts.PageSize)
		if err != nil {
			if models.IsCancelled(err) {
				return nil, models.ErrCancelled
			}
			if len(result.Items) == 0 {
				return nil, err
			}
			// Keep what we have; the upstream shape drifts
			c.logger.Warn("Page fetch failed, returning partial results",
				"username", username, "page", page, "error", err)
			return result, nil
		}
		result.Pages++

		if !ownerSeen {
			if owner, ok := ownerFromPage(p.Items); ok {
				result.Owner = owner
				ownerSeen = true
			}
		}

		result.Items = append(result.Items, p.Items...)
		if opts.OnPage != nil {
			opts.OnPage(page, len(result.Items))
		}

		hasCursor := p.Bookmark != "" && p.Bookmark != endBookmark

		if len(p.Items) == 0 {
			if !hasCursor {
				break
			}
			emptyPages++
			if emptyPages >= opts.EmptyPageLimit {
				c.logger.Warn("Stopping after consecutive empty cursored pages",
					"username", username, "empty_pages", emptyPages)
				break
			}
			bookmark = p.Bookmark
			continue
		}
		emptyPages = 0

		if !hasCursor {
			break
		}
		bookmark = p.Bookmark

		if page == opts.MaxPages-1 {
			result.HitPageCap = true
			c.logger.Warn("Hit page ceiling before natural end of data",
				"username", username, "max_pages", opts.MaxPages)
		}
	}

	if !ownerSeen {
		result.Owner = models.OwnerMeta{Username: username}
	}
	return result, nil
}

// fetchPage requests one page of pins, omitting the cursor on the first call
func (c *Client) fetchPage(ctx context.Context, username, bookmark string, pageSize int) (*Page, error) {
	options := map[string]any{
		"username":  username,
		"page_size": pageSize,
	}
	if bookmark != "" {
		options["bookmarks"] = []string{bookmark}
	}

	body, err := c.getResource(ctx, "UserActivityPinsResource", "/"+username+"/", options)
	if err != nil {
		return nil, err
	}

	page := &Page{Bookmark: body.ResourceResponse.Bookmark}
	if len(body.ResourceResponse.Data) > 0 && string(body.ResourceResponse.Data) != "null" {
		if err := json.Unmarshal(body.ResourceResponse.Data, &page.Items); err != nil {
			return nil, &models.ParseError{Path: "resource_response.data", Err: err}
		}
	}
	return page, nil
}

// FetchPin fetches a single pin record for single-item mode
func (c *Client) FetchPin(ctx context.Context, pinID string) (RawPin, error) {
	pinID = strings.TrimSpace(pinID)
	if pinID == "" {
		return nil, &models.ValidationError{Field: "pin id", Reason: "must not be empty"}
	}

	body, err := c.getResource(ctx, "PinResource", "/pin/"+pinID+"/", map[string]any{
		"id":             pinID,
		"field_set_key":  "detailed",
		"fetch_visual_search_objects": false,
	})
	if err != nil {
		return nil, err
	}

	var pin RawPin
	if len(body.ResourceResponse.Data) == 0 || string(body.ResourceResponse.Data) == "null" {
		return nil, &models.ParseError{Path: "resource_response.data", Err: fmt.Errorf("no pin in response")}
	}
	if err := json.Unmarshal(body.ResourceResponse.Data, &pin); err != nil {
		return nil, &models.ParseError{Path: "resource_response.data", Err: err}
	}
	return pin, nil
}

// getResource performs one internal-API resource GET and decodes the envelope
func (c *Client) getResource(ctx context.Context, resource, sourceURL string, options map[string]any) (*apiResponse, error) {
	data, err := json.Marshal(map[string]any{
		"options": options,
		"context": map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request data: %w", err)
	}

	params := url.Values{}
	params.Set("source_url", sourceURL)
	params.Set("data", string(data))

	endpoint := fmt.Sprintf("%s/resource/%s/get/?%s", c.baseURL, resource, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.ErrCancelled
		}
		return nil, &models.NetworkError{Op: resource, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.NetworkError{Op: resource, StatusCode: resp.StatusCode}
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &models.ParseError{Path: resource, Err: err}
	}
	return &body, nil
}

// NormalizeUsername strips URL remnants and the @ prefix from an owner handle
func NormalizeUsername(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	if idx := strings.Index(s, "pinterest.com/"); idx >= 0 {
		s = s[idx+len("pinterest.com/"):]
	}
	return strings.Trim(s, "/")
}

// ownerFromPage captures owner metadata from the first record carrying it
func ownerFromPage(items []RawPin) (models.OwnerMeta, bool) {
	for _, item := range items {
		for _, key := range []string{"pinner", "native_creator"} {
			pinner, ok := item[key].(map[string]any)
			if !ok {
				continue
			}
			owner := models.OwnerMeta{
				ID:       stringField(pinner, "id"),
				Username: stringField(pinner, "username"),
				FullName: stringField(pinner, "full_name"),
				Avatar:   stringField(pinner, "image_large_url"),
			}
			if owner.Avatar == "" {
				owner.Avatar = stringField(pinner, "image_small_url")
			}
			if owner.ID != "" || owner.Username != "" {
				return owner, true
			}
		}
	}
	return models.OwnerMeta{}, false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
