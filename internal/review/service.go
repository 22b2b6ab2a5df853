// Package review は目的地へのレビュー投稿と一覧を提供する。
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/repository"
	"github.com/hitoshi/afrivac/internal/security"
)

const maxBodyLength = 2000

// DestinationChecker はレビュー対象の目的地の存在確認インターフェース。
type DestinationChecker interface {
	Exists(ctx context.Context, id string) error
}

// Service はレビューのサービス層。
type Service struct {
	reviews      repository.ReviewRepository
	destinations DestinationChecker
	sanitizer    security.Sanitizer
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(reviews repository.ReviewRepository, destinations DestinationChecker, sanitizer security.Sanitizer) *Service {
	return &Service{
		reviews:      reviews,
		destinations: destinations,
		sanitizer:    sanitizer,
		now:          time.Now,
	}
}

// Create はレビューを投稿し、目的地の評価を再計算する。
// 評価は1〜5の整数。同じ目的地への2件目はDuplicateReviewを返す。
func (s *Service) Create(ctx context.Context, userID, destinationID, body string, rating int) (*model.Review, error) {
	if rating < model.MinRating || rating > model.MaxRating {
		return nil, model.NewValidationError("評価は1〜5で入力してください")
	}
	text := s.sanitizer.Text(body)
	if text == "" || utf8.RuneCountInString(text) > maxBodyLength {
		return nil, model.NewValidationError("レビューは1〜2000文字で入力してください")
	}

	if err := s.destinations.Exists(ctx, destinationID); err != nil {
		return nil, err
	}

	rv := &model.Review{
		ID:            uuid.New().String(),
		DestinationID: destinationID,
		UserID:        userID,
		Body:          text,
		Rating:        rating,
		CreatedAt:     s.now(),
	}
	if err := s.reviews.CreateAndRecalculate(ctx, rv); err != nil {
		if errors.Is(err, repository.ErrDuplicateReview) {
			return nil, model.NewDuplicateReviewError()
		}
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	slog.Info("review created",
		slog.String("review_id", rv.ID),
		slog.String("destination_id", destinationID),
		slog.String("user_id", userID),
	)
	return rv, nil
}

// ListByDestination は目的地のレビューを投稿者情報付きで返す。
func (s *Service) ListByDestination(ctx context.Context, destinationID string) ([]*model.Review, error) {
	if err := s.destinations.Exists(ctx, destinationID); err != nil {
		return nil, err
	}
	reviews, err := s.reviews.ListByDestination(ctx, destinationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	if reviews == nil {
		reviews = []*model.Review{}
	}
	return reviews, nil
}
