// Package fetchcache makes outbound requests from contract code replay-safe.
// Every request is keyed by the SHA-256 of its serialized arguments; a
// recorded response is frozen and returned for every later identical
// request. In lazy mode no I/O is performed at all.
package fetchcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Mode selects whether misses perform I/O.
type Mode int

const (
	// ModeLive performs the request on a miss and records it.
	ModeLive Mode = iota
	// ModeLazy serves recorded responses only; a miss is FETCH_CACHE_MISS.
	ModeLazy
)

func (m Mode) String() string {
	if m == ModeLazy {
		return "lazy"
	}
	return "live"
}

// Fetcher performs a real request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (contracts.FetchRecord, error)
}

// HashArgs returns the hex SHA-256 of serialized fetch arguments.
func HashArgs(serialized []byte) string {
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// Cache is the fetch record set of one evaluation.
type Cache struct {
	mu        sync.Mutex
	mode      Mode
	fetcher   Fetcher
	records   map[string]contracts.FetchRecord
	initiated []string
	logger    *slog.Logger
}

// New returns a live cache. Seed records, if any, are served without I/O.
func New(fetcher Fetcher, seed map[string]contracts.FetchRecord) *Cache {
	return newCache(ModeLive, fetcher, seed)
}

// NewLazy returns a cache that only serves the supplied records.
func NewLazy(records map[string]contracts.FetchRecord) *Cache {
	return newCache(ModeLazy, nil, records)
}

func newCache(mode Mode, fetcher Fetcher, seed map[string]contracts.FetchRecord) *Cache {
	c := &Cache{
		mode:    mode,
		fetcher: fetcher,
		records: make(map[string]contracts.FetchRecord, len(seed)),
		logger:  slog.Default().With("component", "fetchcache", "mode", mode.String()),
	}
	for k, v := range seed {
		c.records[k] = freeze(v)
	}
	return c
}

// Mode reports the cache mode.
func (c *Cache) Mode() Mode { return c.mode }

// Fetch resolves a request identified by its serialized arguments.
func (c *Cache) Fetch(ctx context.Context, serializedArgs []byte, req Request) (*Response, string, error) {
	hash := HashArgs(serializedArgs)

	c.mu.Lock()
	if rec, ok := c.records[hash]; ok {
		c.mu.Unlock()
		return &Response{rec: rec}, hash, nil
	}
	mode, fetcher := c.mode, c.fetcher
	c.mu.Unlock()

	if mode == ModeLazy {
		return nil, hash, contracts.NewError(contracts.CodeFetchCacheMiss, "no recorded response for request %s", hash)
	}
	if fetcher == nil {
		return nil, hash, fmt.Errorf("fetchcache: no fetcher configured for live request %s", req.URL)
	}

	rec, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, hash, fmt.Errorf("fetchcache: fetch %s: %w", req.URL, err)
	}
	rec = freeze(rec)

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent identical request may have landed first; the first
	// recorded response wins.
	if existing, ok := c.records[hash]; ok {
		return &Response{rec: existing}, hash, nil
	}
	c.records[hash] = rec
	c.initiated = append(c.initiated, hash)
	c.logger.Debug("recorded fetch", "hash", hash, "url", req.URL, "status", rec.Status)
	return &Response{rec: rec}, hash, nil
}

// Export returns a copy of all records, including seeded ones.
func (c *Cache) Export() map[string]contracts.FetchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]contracts.FetchRecord, len(c.records))
	for k, v := range c.records {
		out[k] = freeze(v)
	}
	return out
}

// Initiated returns the hashes of requests performed live, in order.
func (c *Cache) Initiated() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.initiated...)
}

func freeze(rec contracts.FetchRecord) contracts.FetchRecord {
	out := rec
	out.Body = append(contracts.ByteVector(nil), rec.Body...)
	out.Headers = make(map[string]string, len(rec.Headers))
	for k, v := range rec.Headers {
		out.Headers[k] = v
	}
	return out
}

// Response is an immutable view of a recorded fetch.
type Response struct {
	rec contracts.FetchRecord
}

// Record returns a copy of the underlying record.
func (r *Response) Record() contracts.FetchRecord { return freeze(r.rec) }

// Raw returns a copy of the body bytes.
func (r *Response) Raw() []byte { return append([]byte(nil), r.rec.Body...) }

// Text decodes the body as UTF-8. Invalid UTF-8 is an error.
func (r *Response) Text() (string, error) {
	if !utf8.Valid(r.rec.Body) {
		return "", fmt.Errorf("fetchcache: response body from %s is not valid UTF-8", r.rec.URL)
	}
	return string(r.rec.Body), nil
}

// JSON decodes the body as JSON.
func (r *Response) JSON() (json.RawMessage, error) {
	text, err := r.Text()
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("fetchcache: response body from %s is not valid JSON", r.rec.URL)
	}
	return json.RawMessage(text), nil
}
