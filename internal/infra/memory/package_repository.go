package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// PackageLoader fetches question packages from a backing store.
type PackageLoader interface {
	LoadPackage(ctx context.Context, packageID string) (domain.QuestionPackage, error)
}

// PackageRepository is a read-through TTL cache in front of a PackageLoader.
// Packages are immutable for the lifetime of an attempt but get re-read
// constantly: on every resume reconciliation, on every answer validation and
// at scoring time. Concurrent misses for the same package collapse into one
// loader call, and entry lifetimes carry jitter so a popular exam window does
// not expire the whole cache at once.
type PackageRepository struct {
	loader PackageLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu      sync.RWMutex
	entries map[string]packageEntry
}

type packageEntry struct {
	value   domain.QuestionPackage
	staleAt time.Time
}

func NewPackageRepository(loader PackageLoader, ttl time.Duration) *PackageRepository {
	return &PackageRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]packageEntry),
	}
}

func (r *PackageRepository) GetPackage(ctx context.Context, packageID string) (domain.QuestionPackage, error) {
	if pkg, ok := r.cached(packageID); ok {
		return pkg, nil
	}

	result, err, _ := r.sf.Do(packageID, func() (interface{}, error) {
		// Re-check under the flight: a racing caller may have filled the
		// entry between our miss and the singleflight grant.
		if pkg, ok := r.cached(packageID); ok {
			return pkg, nil
		}

		pkg, err := r.loader.LoadPackage(ctx, packageID)
		if err != nil {
			return domain.QuestionPackage{}, err
		}
		r.store(packageID, pkg)
		return pkg, nil
	})
	if err != nil {
		return domain.QuestionPackage{}, err
	}
	return result.(domain.QuestionPackage), nil
}

func (r *PackageRepository) cached(packageID string) (domain.QuestionPackage, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[packageID]
	if !ok || !entry.staleAt.After(now) {
		return domain.QuestionPackage{}, false
	}
	return entry.value, true
}

func (r *PackageRepository) store(packageID string, pkg domain.QuestionPackage) {
	lifetime := r.ttl
	if lifetime > 0 {
		// Up to 10% jitter keeps expirations from lining up.
		lifetime += time.Duration(r.rnd.Int63n(int64(lifetime)/10 + 1))
	}
	r.mu.Lock()
	r.entries[packageID] = packageEntry{value: pkg, staleAt: r.clock().Add(lifetime)}
	r.mu.Unlock()
}

// StaticPackageLoader serves packages from a fixed map. Development and test
// wiring; production loads from the database.
type StaticPackageLoader struct {
	packages map[string]domain.QuestionPackage
}

func NewStaticPackageLoader(packages map[string]domain.QuestionPackage) *StaticPackageLoader {
	return &StaticPackageLoader{packages: packages}
}

func (l *StaticPackageLoader) LoadPackage(_ context.Context, packageID string) (domain.QuestionPackage, error) {
	pkg, ok := l.packages[packageID]
	if !ok {
		return domain.QuestionPackage{}, domain.ErrPackageNotFound
	}
	return pkg, nil
}
