package chromedp_browser

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/logger"
)

const rendererName = "browser"

// Options configures the browser process and the settle policy.
type Options struct {
	UserAgent string
	// UserAgents, when set, replaces UserAgent with a random pick per launch.
	UserAgents   []string
	Proxies      []string
	Headless     bool
	WindowWidth  int
	WindowHeight int
	Settle       SettleOptions
}

// ChromedpRenderer launches a dedicated headless Chrome for every Render call.
type ChromedpRenderer struct {
	opts       Options
	identities *identityRotator
}

// NewChromedpRenderer creates a new renderer implementation using chromedp.
func NewChromedpRenderer(opts Options) *ChromedpRenderer {
	return &ChromedpRenderer{
		opts:       opts,
		identities: newIdentityRotator(opts.Proxies, opts.UserAgents),
	}
}

func (r *ChromedpRenderer) Name() string { return rendererName }

func (r *ChromedpRenderer) allocatorOptions(userAgent, proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	if r.opts.WindowWidth > 0 && r.opts.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(r.opts.WindowWidth, r.opts.WindowHeight))
	}
	return opts
}

// Render navigates to url, waits for the page to settle and returns its DOM.
// The browser process is torn down before Render returns, on every path.
func (r *ChromedpRenderer) Render(ctx context.Context, url string) (*entity.PageSnapshot, error) {
	proxy := r.identities.proxy()
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions(r.identities.userAgent(r.opts.UserAgent), proxy)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf))
	defer cancelBrowser()

	tracker := newNetworkTracker()
	chromedp.ListenTarget(browserCtx, tracker.listen)

	var html, title string
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(url),
	}
	actions = append(actions, r.opts.Settle.actions(tracker)...)
	actions = append(actions,
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	startTime := time.Now()
	err := chromedp.Run(browserCtx, actions...)
	if err != nil {
		return nil, classifyError(ctx, url, err)
	}

	slog.Debug("Page rendered", "url", url, "title", title, "proxy", proxy, "duration_ms", time.Since(startTime).Milliseconds())

	return &entity.PageSnapshot{
		URL:        url,
		FetchedAt:  time.Now().UTC(),
		Content:    html,
		Title:      title,
		StatusCode: tracker.documentStatus(),
		Renderer:   rendererName,
	}, nil
}

func classifyError(ctx context.Context, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &repository.FetchError{Kind: repository.ErrFetchTimeout, URL: url, Err: err}
		}
		return ctxErr
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "net::ERR_TIMED_OUT"):
		return &repository.FetchError{Kind: repository.ErrFetchTimeout, URL: url, Err: err}
	case errors.Is(err, exec.ErrNotFound):
		// No browser binary: retrying cannot help.
		return &repository.FetchError{Kind: repository.ErrFetchRender, URL: url, Err: err}
	case strings.Contains(msg, "net::ERR_"),
		strings.Contains(msg, "websocket"),
		strings.Contains(msg, "EOF"),
		strings.Contains(msg, "connection"):
		return &repository.FetchError{Kind: repository.ErrFetchNetwork, URL: url, Err: err}
	default:
		return &repository.FetchError{Kind: repository.ErrFetchRender, URL: url, Err: err}
	}
}
