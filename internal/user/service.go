// Package user はプロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/repository"
	"github.com/hitoshi/afrivac/internal/security"
)

const (
	maxNameLength    = 100
	maxCountryLength = 100
	maxPhoneLength   = 30
)

// ProfileUpdate はプロフィール更新の入力。nilの項目は変更しない。
// EmailとRoleはリクエストに含まれていたことを検出するためだけに持つ。
type ProfileUpdate struct {
	Name    *string
	Country *string
	Phone   *string
	Photo   *string

	Email *string
	Role  *string
}

// Service はプロフィールの参照・更新・無効化と管理者向け一覧を提供する。
type Service struct {
	users     repository.UserRepository
	sanitizer security.Sanitizer
	images    security.ImageURLValidator
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, sanitizer security.Sanitizer, images security.ImageURLValidator) *Service {
	return &Service{
		users:     users,
		sanitizer: sanitizer,
		images:    images,
	}
}

// Get はユーザーのプロフィールを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.PublicUser, error) {
	user, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// Update はプロフィールを更新する。
// メールアドレスの変更はEmailChangeNotAllowed、ロールの変更は入力エラーとして拒否する。
// 写真に空文字を指定するとデフォルト画像に戻す。
func (s *Service) Update(ctx context.Context, userID string, in ProfileUpdate) (*model.PublicUser, error) {
	if in.Email != nil {
		return nil, model.NewEmailChangeNotAllowedError()
	}
	if in.Role != nil {
		return nil, model.NewValidationError("ロールは変更できません")
	}

	patch, err := s.buildPatch(ctx, in)
	if err != nil {
		return nil, err
	}

	if patch.IsEmpty() {
		return s.Get(ctx, userID)
	}

	updated, err := s.users.UpdateByID(ctx, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("profile updated", slog.String("user_id", userID))
	return updated.Public(), nil
}

func (s *Service) buildPatch(ctx context.Context, in ProfileUpdate) (model.UserPatch, error) {
	var patch model.UserPatch

	if in.Name != nil {
		name := s.sanitizer.Text(*in.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			return patch, model.NewValidationError("名前は1〜100文字で入力してください")
		}
		patch.Name = &name
	}
	if in.Country != nil {
		country := s.sanitizer.Text(*in.Country)
		if utf8.RuneCountInString(country) > maxCountryLength {
			return patch, model.NewValidationError("国名は100文字以内で入力してください")
		}
		patch.Country = &country
	}
	if in.Phone != nil {
		phone := strings.TrimSpace(*in.Phone)
		if !validPhone(phone) {
			return patch, model.NewValidationError("電話番号の形式が正しくありません")
		}
		patch.Phone = &phone
	}
	if in.Photo != nil {
		photo := strings.TrimSpace(*in.Photo)
		if photo == "" {
			photo = model.DefaultPhotoURL
		} else if err := s.images.Validate(ctx, photo); err != nil {
			return patch, err
		}
		patch.PhotoURL = &photo
	}
	return patch, nil
}

// Deactivate はアカウントを論理削除する。
// レコードは残したままActiveをfalseにし、保存済みのリフレッシュトークンを失効させる。
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	user, err := s.find(ctx, userID)
	if err != nil {
		return err
	}

	inactive := false
	if _, err := s.users.UpdateByID(ctx, userID, model.UserPatch{Active: &inactive}); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}

	if user.RefreshTokenHash != "" {
		// 並行してローテーションされていても、次回のリフレッシュは非アクティブとして拒否される
		if _, err := s.users.SwapRefreshTokenHash(ctx, userID, user.RefreshTokenHash, ""); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
	}

	slog.Info("user deactivated", slog.String("user_id", userID))
	return nil
}

// List は全ユーザーを公開用の射影で返す。管理者専用。
func (s *Service) List(ctx context.Context) ([]*model.PublicUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	result := make([]*model.PublicUser, 0, len(users))
	for _, u := range users {
		result = append(result, u.Public())
	}
	return result, nil
}

func (s *Service) find(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// validPhone は空文字、または数字・空白・ハイフン・括弧と先頭の+だけからなる番号を受け付ける。
func validPhone(phone string) bool {
	if phone == "" {
		return true
	}
	if len(phone) > maxPhoneLength {
		return false
	}
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 5
}
