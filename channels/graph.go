package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultGraphTimeout = 15 * time.Second

// GraphError is an error response returned by the Graph API.
type GraphError struct {
	Status  int
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *GraphError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api status %d", e.Status)
	}
	return fmt.Sprintf("graph api status %d: %s (%s %d)", e.Status, e.Message, e.Type, e.Code)
}

// GraphClient issues authenticated requests against the Graph API shared by
// Messenger and WhatsApp Cloud.
type GraphClient struct {
	baseURL string
	token   string
	client  *fasthttp.Client
	timeout time.Duration
}

// NewGraphClient creates a client for baseURL authenticating with token.
func NewGraphClient(baseURL, token string) *GraphClient {
	return &GraphClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &fasthttp.Client{
			Name:                "omnibox",
			MaxIdleConnDuration: time.Minute,
		},
		timeout: defaultGraphTimeout,
	}
}

// URL joins path and query onto the base URL.
func (g *GraphClient) URL(path string, query url.Values) string {
	u := g.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Get fetches an absolute URL, as returned in paging.next, into out.
func (g *GraphClient) Get(ctx context.Context, rawURL string, out interface{}) error {
	return g.do(ctx, fasthttp.MethodGet, rawURL, nil, out)
}

// Post sends body as JSON to path and decodes the response into out.
func (g *GraphClient) Post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return g.do(ctx, fasthttp.MethodPost, g.URL(path, nil), payload, out)
}

func (g *GraphClient) do(ctx context.Context, method, rawURL string, body []byte, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := g.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(rawURL), err)
	}

	status := resp.StatusCode()
	if status >= 300 {
		var envelope struct {
			Error GraphError `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &envelope)
		envelope.Error.Status = status
		return &envelope.Error
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// redact drops the query string, which may carry an access token.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// paging is the cursor envelope of Graph list responses.
type paging struct {
	Next string `json:"next"`
}
