package chromedp_browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityRotatorProxiesRoundRobin(t *testing.T) {
	r := newIdentityRotator([]string{"http://p1:8000", "http://p2:8000"}, nil)
	assert.Equal(t, "http://p1:8000", r.proxy())
	assert.Equal(t, "http://p2:8000", r.proxy())
	assert.Equal(t, "http://p1:8000", r.proxy())

	assert.Empty(t, newIdentityRotator(nil, nil).proxy())
}

func TestIdentityRotatorUserAgent(t *testing.T) {
	r := newIdentityRotator(nil, []string{"ua-a", "ua-b"})
	r.pick = func(n int) int { return n - 1 }
	assert.Equal(t, "ua-b", r.userAgent("default"))

	assert.Equal(t, "default", newIdentityRotator(nil, nil).userAgent("default"))
}

func TestAllocatorOptionsUseIdentity(t *testing.T) {
	r := NewChromedpRenderer(Options{UserAgent: "default", Proxies: []string{"http://p1:8000"}})
	withProxy := len(r.allocatorOptions("ua", "http://p1:8000"))
	without := len(r.allocatorOptions("ua", ""))
	assert.Equal(t, without+1, withProxy)
}
