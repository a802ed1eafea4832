package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/corpus-trainer/pkg/utils"
)

const visitedKeyPrefix = "corpus-trainer:visited:"

// VisitedRepoImpl is the revisit ledger: a key per collected URL that expires
// after the revisit window.
type VisitedRepoImpl struct {
	client *redis.Client
}

// NewVisitedRepo creates a new instance of VisitedRepoImpl.
func NewVisitedRepo(client *redis.Client) *VisitedRepoImpl {
	return &VisitedRepoImpl{client: client}
}

func visitedKey(url string) string {
	return visitedKeyPrefix + utils.HashURL(url)
}

// MarkVisited records the URL until expiry passes. A non-positive expiry
// disables the ledger for this URL.
func (r *VisitedRepoImpl) MarkVisited(ctx context.Context, url string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}
	return r.client.Set(ctx, visitedKey(url), time.Now().UTC().Format(time.RFC3339), expiry).Err()
}

// IsVisited reports whether the URL was collected inside the revisit window.
func (r *VisitedRepoImpl) IsVisited(ctx context.Context, url string) (bool, error) {
	n, err := r.client.Exists(ctx, visitedKey(url)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RemoveVisited forgets the URL so the next run collects it again.
func (r *VisitedRepoImpl) RemoveVisited(ctx context.Context, url string) error {
	return r.client.Del(ctx, visitedKey(url)).Err()
}
