package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// PackageLoader fetches question packages from a backing store (Postgres in
// production).
type PackageLoader interface {
	LoadPackage(ctx context.Context, packageID string) (domain.QuestionPackage, error)
}

// PackageRepository caches the grading view of a package (questions, answer
// keys, point values) in Redis and falls back to the loader on cache miss:
//
//	SET exam:package:{packageID} {json} EX ttl
//
// The cached form includes weighted option keys, so scoring never needs the
// backing store while the cache is warm.
type PackageRepository struct {
	client *redis.Client
	loader PackageLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewPackageRepository(client *redis.Client, loader PackageLoader, ttl time.Duration) *PackageRepository {
	return &PackageRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *PackageRepository) GetPackage(ctx context.Context, packageID string) (domain.QuestionPackage, error) {
	key := r.key(packageID)

	if pkg, ok := r.fromCache(ctx, key); ok {
		return pkg, nil
	}

	result, err, _ := r.sf.Do(packageID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pkg, ok := r.fromCache(ctx, key); ok {
			return pkg, nil
		}

		pkg, err := r.loader.LoadPackage(ctx, packageID)
		if err != nil {
			return domain.QuestionPackage{}, err
		}

		data, err := json.Marshal(pkg)
		if err != nil {
			return domain.QuestionPackage{}, fmt.Errorf("marshal package: %w", err)
		}
		// Best-effort: a failed cache write only costs the next loader hit.
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()

		return pkg, nil
	})
	if err != nil {
		return domain.QuestionPackage{}, err
	}
	return result.(domain.QuestionPackage), nil
}

func (r *PackageRepository) fromCache(ctx context.Context, key string) (domain.QuestionPackage, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil and transport errors both count as a miss.
		return domain.QuestionPackage{}, false
	}
	var pkg domain.QuestionPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return domain.QuestionPackage{}, false
	}
	return pkg, true
}

func (r *PackageRepository) key(packageID string) string {
	return "exam:package:" + packageID
}

func (r *PackageRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
