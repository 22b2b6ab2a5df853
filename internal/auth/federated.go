package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/afrivac/internal/metrics"
	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/repository"
)

// Resolution はGoogleプロフィールの解決結果。
// 既存アカウントならUser、新規作成ならDataのどちらか一方だけが設定される。
type Resolution struct {
	User         *model.PublicUser `json:"user,omitempty"`
	Data         *model.PublicUser `json:"data,omitempty"`
	Token        string            `json:"token"`
	RefreshToken string            `json:"refreshToken"`
}

// Created は新規アカウントが作成された場合にtrueを返す。
func (r *Resolution) Created() bool {
	return r.Data != nil
}

// FederatedService はGoogle OAuthによるログインとアカウント連携を提供する。
type FederatedService struct {
	provider IdentityProvider
	users    repository.UserRepository
	tokens   *TokenService
	states   StateStore
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewFederatedService はFederatedServiceを生成する。
func NewFederatedService(
	provider IdentityProvider,
	users repository.UserRepository,
	tokens *TokenService,
	states StateStore,
	collector metrics.MetricsCollector,
) *FederatedService {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &FederatedService{
		provider: provider,
		users:    users,
		tokens:   tokens,
		states:   states,
		metrics:  collector,
		now:      time.Now,
	}
}

// AuthorizationURL はstateを発行・保存し、Googleの同意画面URLとstateを返す。
// 呼び出し側はstateをブラウザにも持たせ、コールバックで突き合わせる。
func (s *FederatedService) AuthorizationURL(ctx context.Context) (authURL, state string, err error) {
	state, err = generateState()
	if err != nil {
		return "", "", err
	}
	if err := s.states.Save(ctx, state); err != nil {
		return "", "", fmt.Errorf("failed to save oauth state: %w", err)
	}
	return s.provider.AuthCodeURL(state), state, nil
}

// Callback はstateを検証してから認可コードを交換し、ユーザーを解決する。
func (s *FederatedService) Callback(ctx context.Context, state, code string) (*Resolution, error) {
	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if !ok {
		s.metrics.RecordOAuthCallback("invalid_state")
		return nil, model.NewOAuthStateInvalidError()
	}
	if code == "" {
		s.metrics.RecordOAuthCallback("missing_code")
		return nil, model.NewValidationError("認可コードがありません")
	}

	profile, err := s.ExchangeCodeForProfile(ctx, code)
	if err != nil {
		s.metrics.RecordOAuthCallback("exchange_failed")
		return nil, err
	}

	res, err := s.ResolveUser(ctx, profile)
	if err != nil {
		s.metrics.RecordOAuthCallback("resolve_failed")
		return nil, err
	}

	if res.Created() {
		s.metrics.RecordOAuthCallback("created")
	} else {
		s.metrics.RecordOAuthCallback("signed_in")
	}
	return res, nil
}

// ExchangeCodeForProfile は認可コードをGoogleのプロフィールとトークンに交換する。
func (s *FederatedService) ExchangeCodeForProfile(ctx context.Context, code string) (*GoogleProfile, error) {
	profile, err := s.provider.Exchange(ctx, code)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	return profile, nil
}

// ResolveUser はGoogleプロフィールを既存アカウントに対応付けるか、新規作成する。
// 同じプロフィールで繰り返し呼んでも同じユーザーに解決され、保存済みトークンだけが更新される。
func (s *FederatedService) ResolveUser(ctx context.Context, profile *GoogleProfile) (*Resolution, error) {
	if profile == nil || profile.Subject == "" || profile.Email == "" {
		return nil, model.NewOAuthExchangeError("Googleのユーザー情報が不完全です")
	}

	user, created, err := s.resolve(ctx, profile)
	if err != nil {
		return nil, err
	}

	session, err := issueSession(ctx, s.users, s.tokens, user)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Token: session.Token, RefreshToken: session.RefreshToken}
	if created {
		res.Data = session.User
	} else {
		res.User = session.User
	}
	return res, nil
}

func (s *FederatedService) resolve(ctx context.Context, profile *GoogleProfile) (*model.User, bool, error) {
	// 1. Google連携済みのアカウント
	user, err := s.users.FindByFederatedID(ctx, profile.Subject)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user by federated id: %w", err)
	}
	if user != nil {
		updated, err := s.users.UpdateByID(ctx, user.ID, model.UserPatch{
			FederatedTokens: mergeTokens(user.FederatedTokens, profile.Tokens),
			Active:          boolPtr(true),
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to update federated tokens: %w", err)
		}
		if updated == nil {
			return nil, false, model.NewUnknownSubjectError()
		}
		slog.Info("federated user signed in", slog.String("user_id", updated.ID))
		return updated, false, nil
	}

	// 2. 同じメールアドレスのローカルアカウントに連携する。
	// 連携先はメール確認済みのアカウントに限る
	user, err = s.users.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		if !profile.EmailVerified {
			return nil, false, model.NewOAuthExchangeError("Googleアカウントのメールアドレスが確認されていません")
		}
		if !user.Active {
			slog.Warn("refused to link federated identity to unverified account", slog.String("user_id", user.ID))
			return nil, false, model.NewEmailPendingVerificationError()
		}
		subject := profile.Subject
		linked, err := s.users.UpdateByID(ctx, user.ID, model.UserPatch{
			FederatedID:     &subject,
			FederatedTokens: mergeTokens(nil, profile.Tokens),
		})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateFederatedID) {
				return s.retryResolve(ctx, profile)
			}
			return nil, false, fmt.Errorf("failed to link federated account: %w", err)
		}
		if linked == nil {
			return nil, false, model.NewUnknownSubjectError()
		}
		slog.Info("federated account linked", slog.String("user_id", linked.ID))
		return linked, false, nil
	}

	// 3. 新規アカウント。Googleでメールアドレスが確認済みのため最初から有効にする
	now := s.now()
	photo := profile.Picture
	if photo == "" {
		photo = model.DefaultPhotoURL
	}
	newUser := &model.User{
		ID:              uuid.New().String(),
		Email:           profile.Email,
		Name:            profile.Name,
		PhotoURL:        photo,
		Role:            model.RoleUser,
		FederatedID:     profile.Subject,
		FederatedTokens: mergeTokens(nil, profile.Tokens),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.Create(ctx, newUser); err != nil {
		if errors.Is(err, repository.ErrDuplicateFederatedID) || errors.Is(err, repository.ErrDuplicateEmail) {
			return s.retryResolve(ctx, profile)
		}
		return nil, false, fmt.Errorf("failed to create federated user: %w", err)
	}

	slog.Info("federated user created", slog.String("user_id", newUser.ID))
	return newUser, true, nil
}

// retryResolve は同じプロフィールの並行コールバックに負けた場合に、勝った側の結果を読み直す。
func (s *FederatedService) retryResolve(ctx context.Context, profile *GoogleProfile) (*model.User, bool, error) {
	user, err := s.users.FindByFederatedID(ctx, profile.Subject)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user by federated id: %w", err)
	}
	if user == nil {
		return nil, false, model.NewDuplicateEmailError()
	}
	return user, false, nil
}

// Revoke はGoogle側のトークンを失効させ、保存済みトークンを削除する。
// Googleへの失効リクエストが失敗してもログに記録するだけで処理は続行する。
func (s *FederatedService) Revoke(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUnknownSubjectError()
	}
	if user.FederatedTokens == nil {
		return nil
	}

	token := user.FederatedTokens.RefreshToken
	if token == "" {
		token = user.FederatedTokens.AccessToken
	}
	if token != "" {
		if err := s.provider.Revoke(ctx, token); err != nil {
			slog.Warn("failed to revoke google token",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := s.users.UpdateByID(ctx, user.ID, model.UserPatch{ClearFederatedTokens: true}); err != nil {
		return fmt.Errorf("failed to clear federated tokens: %w", err)
	}
	slog.Info("federated tokens revoked", slog.String("user_id", user.ID))
	return nil
}

// mergeTokens は新しいトークンを返す。Googleが再同意なしでリフレッシュトークンを
// 返さなかった場合は保存済みのものを引き継ぐ。
func mergeTokens(stored *model.FederatedTokens, fresh model.FederatedTokens) *model.FederatedTokens {
	merged := fresh
	if merged.RefreshToken == "" && stored != nil {
		merged.RefreshToken = stored.RefreshToken
	}
	return &merged
}

func boolPtr(b bool) *bool {
	return &b
}

// generateState は暗号的に安全なstate文字列を生成する。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
