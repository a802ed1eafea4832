package static_http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
)

const rendererName = "static"

// CollyRenderer fetches pages without executing JavaScript. Each Render call
// builds its own collector so attempts share no state.
type CollyRenderer struct {
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
}

func NewCollyRenderer(userAgent string, timeout time.Duration) *CollyRenderer {
	return &CollyRenderer{userAgent: userAgent, timeout: timeout}
}

// WithTransport replaces the HTTP transport used by new collectors.
func (r *CollyRenderer) WithTransport(t http.RoundTripper) *CollyRenderer {
	r.transport = t
	return r
}

func (r *CollyRenderer) Name() string { return rendererName }

func (r *CollyRenderer) Render(ctx context.Context, url string) (*entity.PageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, &repository.FetchError{Kind: repository.ErrFetchTimeout, URL: url, Err: context.DeadlineExceeded}
	}

	c := colly.NewCollector(
		colly.UserAgent(r.userAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeout)
	if r.transport != nil {
		c.WithTransport(r.transport)
	}

	var (
		snapshot *entity.PageSnapshot
		fetchErr error
	)
	c.OnResponse(func(resp *colly.Response) {
		snapshot = newSnapshot(url, resp)
	})
	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode > 0 {
			snapshot = newSnapshot(url, resp)
			return
		}
		fetchErr = classifyError(url, err)
	})

	if err := c.Visit(url); err != nil && snapshot == nil && fetchErr == nil {
		fetchErr = classifyError(url, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if snapshot == nil {
		return nil, &repository.FetchError{Kind: repository.ErrFetchRender, URL: url, Err: errors.New("no response")}
	}
	return snapshot, nil
}

func newSnapshot(url string, resp *colly.Response) *entity.PageSnapshot {
	body := string(resp.Body)
	title := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return &entity.PageSnapshot{
		URL:        url,
		FetchedAt:  time.Now().UTC(),
		Content:    body,
		Title:      title,
		StatusCode: resp.StatusCode,
		Renderer:   rendererName,
	}
}

func classifyError(url string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &repository.FetchError{Kind: repository.ErrFetchTimeout, URL: url, Err: err}
	}
	return &repository.FetchError{Kind: repository.ErrFetchNetwork, URL: url, Err: err}
}
