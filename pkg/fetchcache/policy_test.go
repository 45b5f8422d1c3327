package fetchcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

type allowHosts map[string]bool

func (a allowHosts) IsAllowed(host string) bool { return a[host] }

type stubFetcher struct{ calls int }

func (s *stubFetcher) Fetch(context.Context, Request) (contracts.FetchRecord, error) {
	s.calls++
	return contracts.FetchRecord{Status: 200, OK: true}, nil
}

func TestGuardedFetcher(t *testing.T) {
	next := &stubFetcher{}
	g := NewGuardedFetcher(next, allowHosts{"api.example.com": true})

	rec, err := g.Fetch(context.Background(), Request{URL: "https://api.example.com:8443/v1"})
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Status)

	_, err = g.Fetch(context.Background(), Request{URL: "https://evil.example.net/"})
	assert.ErrorIs(t, err, ErrHostDenied)
	assert.Equal(t, 1, next.calls)

	open := NewGuardedFetcher(next, nil)
	_, err = open.Fetch(context.Background(), Request{URL: "https://evil.example.net/"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
