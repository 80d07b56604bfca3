package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// PackageLoader loads question package JSONB from Postgres.
type PackageLoader struct {
	pool *pgxpool.Pool
}

func NewPackageLoader(pool *pgxpool.Pool) *PackageLoader {
	return &PackageLoader{pool: pool}
}

func (l *PackageLoader) LoadPackage(ctx context.Context, packageID string) (domain.QuestionPackage, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM packages WHERE id=$1`, packageID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionPackage{}, domain.ErrPackageNotFound
	}
	if err != nil {
		return domain.QuestionPackage{}, fmt.Errorf("load package: %w", err)
	}
	var pkg domain.QuestionPackage
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return domain.QuestionPackage{}, fmt.Errorf("unmarshal package: %w", err)
	}
	pkg.ID = packageID
	return pkg, nil
}
