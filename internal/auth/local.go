// Package auth はローカル認証、Google OAuth連携、トークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/afrivac/internal/metrics"
	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/notify"
	"github.com/hitoshi/afrivac/internal/repository"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcryptが扱える上限バイト数
	maxNameLength     = 100

	// refreshSwapAttempts はログイン時のリフレッシュトークン保存の再試行回数。
	refreshSwapAttempts = 3

	// oneTimeCodeAttempts は他アカウントの有効なコードと衝突した場合の再発行回数。
	oneTimeCodeAttempts = 3
)

// AuthResult は認証成功時にクライアントへ返す内容。
type AuthResult struct {
	User         *model.PublicUser `json:"user"`
	Token        string            `json:"token"`
	RefreshToken string            `json:"refreshToken,omitempty"`
}

// SignupInput はサインアップの入力値。
type SignupInput struct {
	Email    string
	Password string
	Name     string
	Country  string
	Phone    string
}

// LocalConfig はローカル認証の設定。
type LocalConfig struct {
	OneTimeCodeTTL time.Duration
	// AllowUnverifiedLogin がtrueの場合、メール未確認でもログインを許可する。
	AllowUnverifiedLogin bool
}

// LocalService はメールアドレスとパスワードによる認証を提供する。
type LocalService struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	tokens   *TokenService
	notifier notify.Notifier
	metrics  metrics.MetricsCollector
	config   LocalConfig
	now      func() time.Time
}

// NewLocalService はLocalServiceを生成する。
func NewLocalService(
	users repository.UserRepository,
	hasher PasswordHasher,
	tokens *TokenService,
	notifier notify.Notifier,
	collector metrics.MetricsCollector,
	config LocalConfig,
) *LocalService {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.OneTimeCodeTTL <= 0 {
		config.OneTimeCodeTTL = 10 * time.Minute
	}
	return &LocalService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		metrics:  collector,
		config:   config,
		now:      time.Now,
	}
}

// Signup はアカウントを未確認状態で作成し、確認コードをメールで送る。
// 戻り値のアクセストークンはメール確認前でも発行する。
func (s *LocalService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, model.NewValidationError("名前は1〜100文字で入力してください")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Country:      strings.TrimSpace(in.Country),
		Phone:        strings.TrimSpace(in.Phone),
		PhotoURL:     model.DefaultPhotoURL,
		Role:         model.RoleUser,
		PasswordHash: digest,
		Active:       false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var code string
	for attempt := 1; ; attempt++ {
		var otc *model.OneTimeCode
		code, otc, err = s.tokens.IssueOneTimeCode(model.PurposeConfirmEmail, s.config.OneTimeCodeTTL)
		if err != nil {
			return nil, err
		}
		user.OneTimeCode = otc

		err = s.users.Create(ctx, user)
		if err == nil {
			break
		}
		// 事前チェックとINSERTの間に同じメールアドレスで登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		if errors.Is(err, repository.ErrDuplicateOneTimeCode) && attempt < oneTimeCodeAttempts {
			continue
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordSignup()
	slog.Info("user signed up", slog.String("user_id", user.ID))

	s.notify(ctx, notify.Message{
		Kind:      notify.KindActivation,
		To:        user.Email,
		Name:      user.Name,
		Code:      code,
		ExpiresIn: s.config.OneTimeCodeTTL,
	})

	token, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user.Public(), Token: token}, nil
}

// Authenticate はメールアドレスとパスワードを照合し、トークンを発行する。
// ユーザー不在・パスワード未設定・不一致はすべて同じInvalidCredentialsErrorにする。
func (s *LocalService) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		s.metrics.RecordLogin("invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !user.HasLocalPassword() || !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.RecordLogin("invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}

	if !user.Active && !s.config.AllowUnverifiedLogin {
		s.metrics.RecordLogin("not_verified")
		return nil, model.NewAccountNotVerifiedError()
	}

	result, err := issueSession(ctx, s.users, s.tokens, user)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin("success")
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return result, nil
}

// ConfirmToken はメール確認コードを消費してアカウントを有効化する。
// コードは一度しか使えず、期限切れ・不一致はTokenExpiredOrInvalidErrorを返す。
func (s *LocalService) ConfirmToken(ctx context.Context, code string) (*AuthResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, model.NewTokenExpiredOrInvalidError()
	}

	hash := s.tokens.HashOneTimeCode(model.PurposeConfirmEmail, code)
	user, err := s.users.ConsumeOneTimeCode(ctx, model.PurposeConfirmEmail, hash, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to consume confirmation code: %w", err)
	}
	s.metrics.RecordCodeConsumed(string(model.PurposeConfirmEmail), user != nil)
	if user == nil {
		return nil, model.NewTokenExpiredOrInvalidError()
	}

	result, err := issueSession(ctx, s.users, s.tokens, user)
	if err != nil {
		return nil, err
	}

	slog.Info("email confirmed", slog.String("user_id", user.ID))
	s.notify(ctx, notify.Message{Kind: notify.KindWelcome, To: user.Email, Name: user.Name})

	return result, nil
}

// ResendToken は未確認アカウントに新しい確認コードを送る。以前のコードは無効になる。
// 登録有無を推測されないよう、該当なしでもnilを返す。
func (s *LocalService) ResendToken(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || user.Active {
		return nil
	}
	return s.issueAndSend(ctx, user, model.PurposeConfirmEmail, notify.KindActivation)
}

// RequestPasswordReset はパスワード再設定コードを送る。
// 有効かつパスワードを持つアカウント以外は何もせずnilを返す。
func (s *LocalService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !user.Active || !user.HasLocalPassword() {
		return nil
	}
	return s.issueAndSend(ctx, user, model.PurposeResetPassword, notify.KindPasswordReset)
}

// ResetPassword は再設定コードを消費して新しいパスワードを保存する。
// 既存のリフレッシュトークンは失効させる。
func (s *LocalService) ResetPassword(ctx context.Context, code, newPassword string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.NewTokenExpiredOrInvalidError()
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	// コードを消費する前にハッシュ化しておき、失敗時にコードを無駄にしない
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	hash := s.tokens.HashOneTimeCode(model.PurposeResetPassword, code)
	user, err := s.users.ConsumeOneTimeCode(ctx, model.PurposeResetPassword, hash, s.now())
	if err != nil {
		return fmt.Errorf("failed to consume reset code: %w", err)
	}
	s.metrics.RecordCodeConsumed(string(model.PurposeResetPassword), user != nil)
	if user == nil {
		return model.NewTokenExpiredOrInvalidError()
	}

	if _, err := s.users.UpdateByID(ctx, user.ID, model.UserPatch{PasswordHash: &digest}); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if _, err := s.users.SwapRefreshTokenHash(ctx, user.ID, user.RefreshTokenHash, ""); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	slog.Info("password reset", slog.String("user_id", user.ID))
	return nil
}

// Refresh はリフレッシュトークンをローテーションし、新しいアクセストークンを発行する。
// 保存済みハッシュとの比較と置き換えは不可分に行い、同じトークンでの二重更新は片方だけ成功する。
func (s *LocalService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		s.metrics.RecordRefreshRotation("invalid")
		return nil, model.NewInvalidTokenError()
	}

	oldHash := HashRefreshToken(refreshToken)
	user, err := s.users.FindByRefreshTokenHash(ctx, oldHash)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by refresh token: %w", err)
	}
	if user == nil || !user.Active {
		s.metrics.RecordRefreshRotation("invalid")
		return nil, model.NewInvalidTokenError()
	}

	plaintext, newHash, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return nil, err
	}
	swapped, err := s.users.SwapRefreshTokenHash(ctx, user.ID, oldHash, newHash)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateRefreshToken) {
			return nil, model.NewDuplicateTokenError()
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if !swapped {
		s.metrics.RecordRefreshRotation("lost_race")
		return nil, model.NewInvalidTokenError()
	}

	token, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRefreshRotation("rotated")
	return &AuthResult{User: user.Public(), Token: token, RefreshToken: plaintext}, nil
}

// Logout は保存済みのリフレッシュトークンを破棄する。
// 発行済みのアクセストークンは有効期限まで使える。
func (s *LocalService) Logout(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUnknownSubjectError()
	}
	if user.RefreshTokenHash == "" {
		return nil
	}
	if _, err := s.users.SwapRefreshTokenHash(ctx, user.ID, user.RefreshTokenHash, ""); err != nil {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	slog.Info("user logged out", slog.String("user_id", user.ID))
	return nil
}

// issueAndSend はコードを発行して枠を上書きし、平文コードを通知する。
// 発行したコードは同じ用途の有効なコードの中で一意になる。
func (s *LocalService) issueAndSend(ctx context.Context, user *model.User, purpose model.CodePurpose, kind notify.Kind) error {
	var code string
	for attempt := 1; ; attempt++ {
		c, otc, err := s.tokens.IssueOneTimeCode(purpose, s.config.OneTimeCodeTTL)
		if err != nil {
			return err
		}
		err = s.users.SetOneTimeCode(ctx, user.ID, otc)
		if err == nil {
			code = c
			break
		}
		// 他アカウントの有効なコードと同じ値を引いた場合は引き直す
		if errors.Is(err, repository.ErrDuplicateOneTimeCode) && attempt < oneTimeCodeAttempts {
			continue
		}
		return fmt.Errorf("failed to store one-time code: %w", err)
	}

	s.notify(ctx, notify.Message{
		Kind:      kind,
		To:        user.Email,
		Name:      user.Name,
		Code:      code,
		ExpiresIn: s.config.OneTimeCodeTTL,
	})
	return nil
}

func (s *LocalService) notify(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		slog.Error("failed to send notification",
			slog.String("kind", string(msg.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// issueSession はアクセストークンと新しいリフレッシュトークンを発行し、ハッシュを保存する。
// ローカル認証とGoogle認証の両方から使う。
func issueSession(ctx context.Context, users repository.UserRepository, tokens *TokenService, user *model.User) (*AuthResult, error) {
	plaintext, newHash, err := tokens.IssueRefreshToken()
	if err != nil {
		return nil, err
	}

	current := user.RefreshTokenHash
	stored := false
	for range refreshSwapAttempts {
		ok, err := users.SwapRefreshTokenHash(ctx, user.ID, current, newHash)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateRefreshToken) {
				return nil, model.NewDuplicateTokenError()
			}
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		if ok {
			stored = true
			break
		}
		// 並行ログインで値が変わっていたので最新値を読み直す
		latest, err := users.FindByID(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload user: %w", err)
		}
		if latest == nil {
			return nil, model.NewUnknownSubjectError()
		}
		current = latest.RefreshTokenHash
	}
	if !stored {
		return nil, fmt.Errorf("failed to store refresh token: concurrent updates for user %s", user.ID)
	}

	token, err := tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user.Public(), Token: token, RefreshToken: plaintext}, nil
}

// normalizeEmail は前後の空白を除き小文字化したうえで形式を検証する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewValidationError("メールアドレスを入力してください")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return model.NewValidationError("パスワードは8〜72文字で入力してください")
	}
	return nil
}
