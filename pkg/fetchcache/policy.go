package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// ErrHostDenied is returned for live requests the host policy rejects.
var ErrHostDenied = errors.New("fetchcache: host denied by fetch policy")

// HostPolicy decides which hosts live fetches may reach.
type HostPolicy interface {
	IsAllowed(host string) bool
}

// GuardedFetcher applies a HostPolicy in front of another Fetcher.
type GuardedFetcher struct {
	next   Fetcher
	policy HostPolicy
}

// NewGuardedFetcher wraps next. A nil policy allows every host.
func NewGuardedFetcher(next Fetcher, policy HostPolicy) *GuardedFetcher {
	return &GuardedFetcher{next: next, policy: policy}
}

func (g *GuardedFetcher) Fetch(ctx context.Context, req Request) (contracts.FetchRecord, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return contracts.FetchRecord{}, fmt.Errorf("fetchcache: parse url %q: %w", req.URL, err)
	}
	if g.policy != nil && !g.policy.IsAllowed(u.Hostname()) {
		return contracts.FetchRecord{}, fmt.Errorf("%w: %s", ErrHostDenied, u.Hostname())
	}
	return g.next.Fetch(ctx, req)
}
