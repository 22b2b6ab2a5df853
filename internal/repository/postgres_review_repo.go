package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/afrivac/internal/model"
)

// PostgresReviewRepo はPostgreSQLを使用したレビューリポジトリ。
type PostgresReviewRepo struct {
	db *sql.DB
}

// NewPostgresReviewRepo はPostgresReviewRepoを生成する。
func NewPostgresReviewRepo(db *sql.DB) *PostgresReviewRepo {
	return &PostgresReviewRepo{db: db}
}

// CreateAndRecalculate はレビューを作成し、目的地の件数と平均評価を再計算する。
// 件数0の場合は平均をデフォルト値（4.5）に戻す。
func (r *PostgresReviewRepo) CreateAndRecalculate(ctx context.Context, review *model.Review) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. レビューを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO reviews (id, destination_id, user_id, body, rating, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		review.ID, review.DestinationID, review.UserID, review.Body, review.Rating, review.CreatedAt,
	)
	if err != nil {
		if dup := translateUniqueViolation(err); dup != err {
			return dup
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}

	// 2. 同一トランザクションで集計値を更新
	_, err = tx.ExecContext(ctx,
		`UPDATE destinations d SET
		     ratings_quantity = s.n,
		     ratings_average = CASE WHEN s.n = 0 THEN $2 ELSE round(s.avg::numeric, 1)::double precision END
		 FROM (SELECT count(*) AS n, COALESCE(avg(rating), 0) AS avg
		       FROM reviews WHERE destination_id = $1) s
		 WHERE d.id = $1`,
		review.DestinationID, model.DefaultRatingsAverage,
	)
	if err != nil {
		return fmt.Errorf("failed to recalculate ratings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByDestination は目的地のレビューを投稿者の名前・画像付きで新しい順に返す。
func (r *PostgresReviewRepo) ListByDestination(ctx context.Context, destinationID string) ([]*model.Review, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.destination_id, r.user_id, r.body, r.rating, r.created_at, u.name, u.photo_url
		 FROM reviews r JOIN users u ON u.id = r.user_id
		 WHERE r.destination_id = $1
		 ORDER BY r.created_at DESC`,
		destinationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []*model.Review{}
	for rows.Next() {
		rv := &model.Review{Author: &model.ReviewAuthor{}}
		if err := rows.Scan(
			&rv.ID, &rv.DestinationID, &rv.UserID, &rv.Body, &rv.Rating, &rv.CreatedAt,
			&rv.Author.Name, &rv.Author.Photo,
		); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		rv.Author.ID = rv.UserID
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reviews: %w", err)
	}
	return reviews, nil
}

// compile-time interface check
var _ ReviewRepository = (*PostgresReviewRepo)(nil)
