package repository

import (
	"context"

	"github.com/user/corpus-trainer/internal/entity"
)

// PageRenderer performs a single fetch attempt. Each call owns its session and
// releases it before returning. A non-2xx response is returned as a snapshot
// with StatusCode set; transport failures are returned as *FetchError.
type PageRenderer interface {
	Render(ctx context.Context, url string) (*entity.PageSnapshot, error)
	// Name identifies the renderer in logs and metrics ("browser", "static").
	Name() string
}
