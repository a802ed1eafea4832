package chromedp_browser

import (
	"math/rand/v2"
	"sync"
)

// identityRotator hands out the proxy and user agent for each browser launch.
// Proxies rotate in order; user agents are picked at random.
type identityRotator struct {
	mu         sync.Mutex
	proxies    []string
	userAgents []string
	next       int
	pick       func(n int) int
}

func newIdentityRotator(proxies, userAgents []string) *identityRotator {
	return &identityRotator{
		proxies:    proxies,
		userAgents: userAgents,
		pick:       rand.IntN,
	}
}

// proxy returns the next proxy URL, or "" when none are configured.
func (r *identityRotator) proxy() string {
	if len(r.proxies) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.proxies[r.next]
	r.next = (r.next + 1) % len(r.proxies)
	return p
}

func (r *identityRotator) userAgent(fallback string) string {
	if len(r.userAgents) == 0 {
		return fallback
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userAgents[r.pick(len(r.userAgents))]
}
