package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/afrivac/internal/model"
)

// PostgresDestinationRepo はPostgreSQLを使用した目的地リポジトリ。
type PostgresDestinationRepo struct {
	db *sql.DB
}

// NewPostgresDestinationRepo はPostgresDestinationRepoを生成する。
func NewPostgresDestinationRepo(db *sql.DB) *PostgresDestinationRepo {
	return &PostgresDestinationRepo{db: db}
}

const destinationColumns = `id, name, country, summary, description, image_cover, images,
	ratings_average, ratings_quantity, created_at`

// List は目的地を平均評価の高い順に返す。
func (r *PostgresDestinationRepo) List(ctx context.Context) ([]*model.Destination, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations ORDER BY ratings_average DESC, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("目的地一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []*model.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("目的地のスキャンに失敗しました: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("目的地一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// FindByID は指定IDの目的地を取得する。見つからない場合はnilを返す。
func (r *PostgresDestinationRepo) FindByID(ctx context.Context, id string) (*model.Destination, error) {
	d, err := scanDestination(r.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("目的地の取得に失敗しました: %w", err)
	}
	return d, nil
}

// Create は目的地を作成する。
func (r *PostgresDestinationRepo) Create(ctx context.Context, d *model.Destination) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO destinations (id, name, country, summary, description, image_cover, images,
		                           ratings_average, ratings_quantity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.Name, d.Country, d.Summary, d.Description, d.ImageCover, pq.Array(d.Images),
		d.RatingsAverage, d.RatingsQuantity, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("目的地の作成に失敗しました: %w", translateUniqueViolation(err))
	}
	return nil
}

func scanDestination(row rowScanner) (*model.Destination, error) {
	d := &model.Destination{}
	err := row.Scan(
		&d.ID, &d.Name, &d.Country, &d.Summary, &d.Description, &d.ImageCover, pq.Array(&d.Images),
		&d.RatingsAverage, &d.RatingsQuantity, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// compile-time interface check
var _ DestinationRepository = (*PostgresDestinationRepo)(nil)
