package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/afrivac/internal/model"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresReviewRepo_CreateAndRecalculate_CommitsBothStatements(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewPostgresReviewRepo(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reviews`).
		WithArgs("r-1", "d-1", "u-1", "Great trip", 5, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE destinations d SET`).
		WithArgs("d-1", model.DefaultRatingsAverage).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CreateAndRecalculate(context.Background(), &model.Review{
		ID: "r-1", DestinationID: "d-1", UserID: "u-1", Body: "Great trip", Rating: 5, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReviewRepo_CreateAndRecalculate_DuplicateRollsBack(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewPostgresReviewRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reviews`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "reviews_destination_user_key"})
	mock.ExpectRollback()

	err := repo.CreateAndRecalculate(context.Background(), &model.Review{ID: "r-2", DestinationID: "d-1", UserID: "u-1", Rating: 4})
	assert.ErrorIs(t, err, ErrDuplicateReview)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReviewRepo_ListByDestination_FillsAuthor(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewPostgresReviewRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "destination_id", "user_id", "body", "rating", "created_at", "name", "photo_url"}).
		AddRow("r-1", "d-1", "u-1", "Lovely", 4, now, "Ada", model.DefaultPhotoURL)
	mock.ExpectQuery(`FROM reviews r JOIN users u`).
		WithArgs("d-1").
		WillReturnRows(rows)

	reviews, err := repo.ListByDestination(context.Background(), "d-1")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "Ada", reviews[0].Author.Name)
	assert.Equal(t, "u-1", reviews[0].Author.ID)
}

func TestPostgresDestinationRepo_FindByID_NotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewPostgresDestinationRepo(db)

	mock.ExpectQuery(`FROM destinations WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	d, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestPostgresDestinationRepo_Create_DuplicateName(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewPostgresDestinationRepo(db)

	mock.ExpectExec(`INSERT INTO destinations`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "destinations_name_key"})

	err := repo.Create(context.Background(), &model.Destination{ID: "d-1", Name: "Zanzibar"})
	assert.ErrorIs(t, err, ErrDuplicateDestination)
	assert.NoError(t, mock.ExpectationsWereMet())
}
