// Package destination は人気の旅行先の参照と登録を提供する。
package destination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/repository"
	"github.com/hitoshi/afrivac/internal/security"
)

const (
	maxNameLength    = 100
	maxSummaryLength = 300
	maxImages        = 10
)

// CreateInput は目的地登録の入力。
type CreateInput struct {
	Name        string
	Country     string
	Summary     string
	Description string
	ImageCover  string
	Images      []string
}

// Service は目的地のサービス層。
type Service struct {
	destinations repository.DestinationRepository
	reviews      repository.ReviewRepository
	sanitizer    security.Sanitizer
	images       security.ImageURLValidator
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	destinations repository.DestinationRepository,
	reviews repository.ReviewRepository,
	sanitizer security.Sanitizer,
	images security.ImageURLValidator,
) *Service {
	return &Service{
		destinations: destinations,
		reviews:      reviews,
		sanitizer:    sanitizer,
		images:       images,
		now:          time.Now,
	}
}

// List は目的地を平均評価の高い順に返す。
func (s *Service) List(ctx context.Context) ([]*model.Destination, error) {
	list, err := s.destinations.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	if list == nil {
		list = []*model.Destination{}
	}
	return list, nil
}

// Get は目的地の詳細をレビュー一覧付きで返す。
func (s *Service) Get(ctx context.Context, id string) (*model.DestinationDetail, error) {
	d, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	reviews, err := s.reviews.ListByDestination(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	if reviews == nil {
		reviews = []*model.Review{}
	}
	return &model.DestinationDetail{Destination: *d, Reviews: reviews}, nil
}

// Exists は目的地が存在しなければDestinationNotFoundを返す。
func (s *Service) Exists(ctx context.Context, id string) error {
	_, err := s.find(ctx, id)
	return err
}

// Create は目的地を登録する。管理者専用。
// 名前・国・概要は平文に、説明文は許可リストのHTMLに無害化する。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Destination, error) {
	name := s.sanitizer.Text(in.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, model.NewValidationError("目的地名は1〜100文字で入力してください")
	}
	country := s.sanitizer.Text(in.Country)
	if country == "" {
		return nil, model.NewValidationError("国名を入力してください")
	}
	summary := s.sanitizer.Text(in.Summary)
	if summary == "" || utf8.RuneCountInString(summary) > maxSummaryLength {
		return nil, model.NewValidationError("概要は1〜300文字で入力してください")
	}

	cover := strings.TrimSpace(in.ImageCover)
	if err := s.images.Validate(ctx, cover); err != nil {
		return nil, err
	}
	if len(in.Images) > maxImages {
		return nil, model.NewValidationError("画像は10枚までです")
	}
	images := make([]string, 0, len(in.Images))
	for _, raw := range in.Images {
		img := strings.TrimSpace(raw)
		if err := s.images.Validate(ctx, img); err != nil {
			return nil, err
		}
		images = append(images, img)
	}

	d := &model.Destination{
		ID:             uuid.New().String(),
		Name:           name,
		Country:        country,
		Summary:        summary,
		Description:    s.sanitizer.HTML(in.Description),
		ImageCover:     cover,
		Images:         images,
		RatingsAverage: model.DefaultRatingsAverage,
		CreatedAt:      s.now(),
	}
	if err := s.destinations.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrDuplicateDestination) {
			return nil, model.NewDuplicateDestinationError()
		}
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	slog.Info("destination created",
		slog.String("destination_id", d.ID),
		slog.String("name", d.Name),
	)
	return d, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.Destination, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewDestinationNotFoundError(id)
	}
	d, err := s.destinations.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination: %w", err)
	}
	if d == nil {
		return nil, model.NewDestinationNotFoundError(id)
	}
	return d, nil
}
