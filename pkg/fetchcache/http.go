package fetchcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// MaxBodyBytes caps the size of a recorded response body.
const MaxBodyBytes = 8 * 1024 * 1024

// Request is the normalized form of fetch(input, init) arguments.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// RequestFromArgs builds a Request from exported fetch arguments: a URL
// string (or an object with a url field) and an optional init object.
func RequestFromArgs(args []any) (Request, error) {
	if len(args) == 0 {
		return Request{}, fmt.Errorf("fetchcache: fetch requires at least one argument")
	}
	req := Request{Method: http.MethodGet, Headers: map[string]string{}}
	switch v := args[0].(type) {
	case string:
		req.URL = v
	case map[string]any:
		u, _ := v["url"].(string)
		req.URL = u
		applyInit(&req, v)
	default:
		return Request{}, fmt.Errorf("fetchcache: unsupported fetch input %T", args[0])
	}
	if req.URL == "" {
		return Request{}, fmt.Errorf("fetchcache: fetch input has no url")
	}
	if len(args) > 1 {
		if init, ok := args[1].(map[string]any); ok {
			applyInit(&req, init)
		}
	}
	return req, nil
}

func applyInit(req *Request, init map[string]any) {
	if m, ok := init["method"].(string); ok && m != "" {
		req.Method = strings.ToUpper(m)
	}
	if h, ok := init["headers"].(map[string]any); ok {
		for k, v := range h {
			req.Headers[k] = fmt.Sprint(v)
		}
	}
	if b, ok := init["body"].(string); ok {
		req.Body = []byte(b)
	}
}

// HTTPFetcher performs live requests through a rate limiter.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher returns a fetcher allowing rps requests per second with
// the given burst. A non-positive rps disables limiting.
func NewHTTPFetcher(client *http.Client, rps float64, burst int) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &HTTPFetcher{client: client, limiter: rate.NewLimiter(limit, burst)}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (contracts.FetchRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return contracts.FetchRecord{}, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return contracts.FetchRecord{}, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return contracts.FetchRecord{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return contracts.FetchRecord{}, err
	}
	if len(data) > MaxBodyBytes {
		return contracts.FetchRecord{}, fmt.Errorf("response body exceeds %d bytes", MaxBodyBytes)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return contracts.FetchRecord{
		Type:       "basic",
		URL:        finalURL,
		StatusText: statusText(resp),
		Status:     resp.StatusCode,
		Redirected: finalURL != req.URL,
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Headers:    flattenHeaders(resp.Header),
		Body:       data,
	}, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
}

// flattenHeaders lowercases names and joins repeated values with ", " as
// the Fetch standard does.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		out[strings.ToLower(k)] = strings.Join(h[k], ", ")
	}
	return out
}
