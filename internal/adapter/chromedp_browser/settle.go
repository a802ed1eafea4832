package chromedp_browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const idlePollInterval = 50 * time.Millisecond

// SettleOptions decides when a dynamically rendered page counts as loaded.
type SettleOptions struct {
	Policy      string // network_idle, selector, fixed
	Selector    string
	QuietPeriod time.Duration
	MaxWait     time.Duration

	// ScrollSelector is the scrollable container; empty scrolls the window.
	ScrollSelector string
	ScrollCount    int
	ScrollPause    time.Duration
}

func (s SettleOptions) actions(tracker *networkTracker) []chromedp.Action {
	var actions []chromedp.Action
	switch s.Policy {
	case "selector":
		actions = append(actions, chromedp.WaitVisible(s.Selector, chromedp.ByQuery))
	case "fixed":
		actions = append(actions, chromedp.Sleep(s.MaxWait))
	default:
		actions = append(actions, tracker.waitIdle(s.QuietPeriod, s.MaxWait))
	}

	if s.ScrollCount > 0 {
		script := scrollScript(s.ScrollSelector)
		for i := 0; i < s.ScrollCount; i++ {
			var scrolled bool
			actions = append(actions,
				chromedp.Evaluate(script, &scrolled),
				chromedp.Sleep(s.ScrollPause),
			)
		}
	}
	return actions
}

func scrollScript(selector string) string {
	if selector == "" {
		return `(() => { window.scrollTo(0, document.body.scrollHeight); return true; })()`
	}
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) { return false; }
	el.scrollTop = el.scrollHeight;
	return true;
})()`, quoted)
}

// networkTracker follows CDP network events for one browser target.
type networkTracker struct {
	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	status       int
}

func newNetworkTracker() *networkTracker {
	return &networkTracker{
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

func (t *networkTracker) listen(ev interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
		t.lastActivity = time.Now()
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
		t.lastActivity = time.Now()
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
		t.lastActivity = time.Now()
	case *network.EventResponseReceived:
		// The first document response belongs to the main frame.
		if e.Type == network.ResourceTypeDocument && t.status == 0 && e.Response != nil {
			t.status = int(e.Response.Status)
		}
	}
}

func (t *networkTracker) idleFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inflight) > 0 {
		return 0
	}
	return time.Since(t.lastActivity)
}

func (t *networkTracker) documentStatus() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// waitIdle returns once no request has been in flight for quiet, or maxWait
// has elapsed, whichever comes first.
func (t *networkTracker) waitIdle(quiet, maxWait time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		deadline := time.Now().Add(maxWait)
		ticker := time.NewTicker(idlePollInterval)
		defer ticker.Stop()
		for {
			if t.idleFor() >= quiet || !time.Now().Before(deadline) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
