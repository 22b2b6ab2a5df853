package review

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/repository"
	"github.com/hitoshi/afrivac/internal/security"
)

// --- モック ---

type mockReviewRepo struct {
	createFn            func(ctx context.Context, review *model.Review) error
	listByDestinationFn func(ctx context.Context, destinationID string) ([]*model.Review, error)
}

func (m *mockReviewRepo) CreateAndRecalculate(ctx context.Context, review *model.Review) error {
	if m.createFn != nil {
		return m.createFn(ctx, review)
	}
	return nil
}
func (m *mockReviewRepo) ListByDestination(ctx context.Context, destinationID string) ([]*model.Review, error) {
	if m.listByDestinationFn != nil {
		return m.listByDestinationFn(ctx, destinationID)
	}
	return nil, nil
}

type mockDestinationChecker struct {
	existing map[string]bool
}

func (m *mockDestinationChecker) Exists(_ context.Context, id string) error {
	if m.existing[id] {
		return nil
	}
	return model.NewDestinationNotFoundError(id)
}

// compile-time interface check
var (
	_ repository.ReviewRepository = (*mockReviewRepo)(nil)
	_ DestinationChecker          = (*mockDestinationChecker)(nil)
)

func newTestService(repo *mockReviewRepo) *Service {
	return NewService(repo, &mockDestinationChecker{existing: map[string]bool{"d-1": true}}, security.NewSanitizer())
}

// --- テスト ---

func TestCreate_StoresSanitizedReview(t *testing.T) {
	var stored *model.Review
	svc := newTestService(&mockReviewRepo{createFn: func(_ context.Context, rv *model.Review) error {
		stored = rv
		return nil
	}})

	rv, err := svc.Create(context.Background(), "u-1", "d-1", "  Amazing <script>alert(1)</script>safari ", 5)
	require.NoError(t, err)

	assert.Same(t, stored, rv)
	assert.NotEmpty(t, rv.ID)
	assert.Equal(t, "u-1", rv.UserID)
	assert.Equal(t, "d-1", rv.DestinationID)
	assert.Equal(t, "Amazing safari", rv.Body)
	assert.Equal(t, 5, rv.Rating)
	assert.False(t, rv.CreatedAt.IsZero())
}

func TestCreate_RatingBounds(t *testing.T) {
	svc := newTestService(&mockReviewRepo{})

	for _, rating := range []int{0, 6, -1} {
		t.Run(fmt.Sprint(rating), func(t *testing.T) {
			_, err := svc.Create(context.Background(), "u-1", "d-1", "ok", rating)
			assert.ErrorIs(t, err, model.NewValidationError(""))
		})
	}
	for _, rating := range []int{1, 5} {
		_, err := svc.Create(context.Background(), "u-1", "d-1", "ok", rating)
		assert.NoError(t, err)
	}
}

func TestCreate_EmptyBodyRejected(t *testing.T) {
	svc := newTestService(&mockReviewRepo{})

	_, err := svc.Create(context.Background(), "u-1", "d-1", "<b></b>  ", 4)
	assert.ErrorIs(t, err, model.NewValidationError(""))
}

func TestCreate_UnknownDestination(t *testing.T) {
	svc := newTestService(&mockReviewRepo{createFn: func(context.Context, *model.Review) error {
		t.Fatal("review should not be stored")
		return nil
	}})

	_, err := svc.Create(context.Background(), "u-1", "missing", "great", 4)
	assert.ErrorIs(t, err, model.NewDestinationNotFoundError(""))
}

func TestCreate_SecondReviewIsDuplicate(t *testing.T) {
	svc := newTestService(&mockReviewRepo{createFn: func(context.Context, *model.Review) error {
		return repository.ErrDuplicateReview
	}})

	_, err := svc.Create(context.Background(), "u-1", "d-1", "again", 3)
	assert.ErrorIs(t, err, model.NewDuplicateReviewError())
}

func TestCreate_RepositoryErrorIsWrapped(t *testing.T) {
	dbErr := errors.New("tx aborted")
	svc := newTestService(&mockReviewRepo{createFn: func(context.Context, *model.Review) error { return dbErr }})

	_, err := svc.Create(context.Background(), "u-1", "d-1", "fine", 3)
	assert.ErrorIs(t, err, dbErr)
}

func TestListByDestination(t *testing.T) {
	svc := newTestService(&mockReviewRepo{})

	reviews, err := svc.ListByDestination(context.Background(), "d-1")
	require.NoError(t, err)
	assert.NotNil(t, reviews)
	assert.Empty(t, reviews)

	_, err = svc.ListByDestination(context.Background(), "missing")
	assert.ErrorIs(t, err, model.NewDestinationNotFoundError(""))
}
