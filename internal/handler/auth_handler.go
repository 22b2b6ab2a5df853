package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/afrivac/internal/auth"
	"github.com/hitoshi/afrivac/internal/middleware"
	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/response"
)

// LocalAuthService は認証ハンドラーが必要とするローカル認証のインターフェース。
type LocalAuthService interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.AuthResult, error)
	Authenticate(ctx context.Context, email, password string) (*auth.AuthResult, error)
	ConfirmToken(ctx context.Context, code string) (*auth.AuthResult, error)
	ResendToken(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, code, newPassword string) error
	Refresh(ctx context.Context, refreshToken string) (*auth.AuthResult, error)
	Logout(ctx context.Context, userID string) error
}

// FederatedAuthService は認証ハンドラーが必要とするGoogle連携のインターフェース。
type FederatedAuthService interface {
	AuthorizationURL(ctx context.Context) (authURL, state string, err error)
	Callback(ctx context.Context, state, code string) (*auth.Resolution, error)
	Revoke(ctx context.Context, userID string) error
}

const (
	oauthStateCookie        = "oauth_state"
	oauthStateCookiePath    = "/auth/google"
	defaultOAuthStateMaxAge = 10 * time.Minute
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// CookieSecure はstateクッキーにSecure属性を付けるかどうか。
	CookieSecure bool
	// StateMaxAge はstateクッキーの有効期間。0以下なら10分。
	StateMaxAge time.Duration
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	local     LocalAuthService
	federated FederatedAuthService
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(local LocalAuthService, federated FederatedAuthService, config AuthHandlerConfig) *AuthHandler {
	if config.StateMaxAge <= 0 {
		config.StateMaxAge = defaultOAuthStateMaxAge
	}
	return &AuthHandler{
		local:     local,
		federated: federated,
		config:    config,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Country  string `json:"country"`
	Phone    string `json:"phone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Code     string `json:"code"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// 確認コード送信系のレスポンスは、アカウントの有無にかかわらず同じ文言にする。
const codeSentMessage = "登録済みのメールアドレスであれば、コードを送信しました。"

// Signup はアカウントを作成し、確認コードを送信する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.local.Signup(r.Context(), auth.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Country:  req.Country,
		Phone:    req.Phone,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Created, response.Data("確認コードをメールで送信しました。", result))
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.local.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("ログインしました。", result))
}

// Confirm はメール確認コードでアカウントを有効化する。
// POST /auth/confirm
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.local.ConfirmToken(r.Context(), req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("メールアドレスを確認しました。", result))
}

// Resend はメール確認コードを再送する。
// POST /auth/resend
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.local.ResendToken(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data(codeSentMessage, nil))
}

// ForgotPassword はパスワード再設定コードを送信する。
// POST /auth/password/forgot
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.local.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data(codeSentMessage, nil))
}

// ResetPassword は再設定コードで新しいパスワードを設定する。
// POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.local.ResetPassword(r.Context(), req.Code, req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("パスワードを再設定しました。再度ログインしてください。", nil))
}

// Refresh はリフレッシュトークンをローテーションし、新しいアクセストークンを発行する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.local.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("", result))
}

// Logout は保存済みのリフレッシュトークンを失効させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.local.Logout(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("ログアウトしました。", nil))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// stateはサーバー側に保存したうえで、開始したブラウザにもクッキーで持たせる。
// GET /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.federated.AuthorizationURL(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     oauthStateCookiePath,
		MaxAge:   int(h.config.StateMaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusFound)
}

// GoogleCallback はOAuthコールバックを処理する。
// 既存アカウントは200で"user"、新規作成は201で"data"にユーザーを入れて返す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)

	// 同意画面でキャンセルされた場合など
	if reason := q.Get("error"); reason != "" {
		slog.Warn("oauth provider returned error", slog.String("error", reason))
		response.Render(w, response.AuthFailure, response.Error(model.NewOAuthExchangeError(reason)))
		return
	}

	// 1. stateの検証（ログインCSRF対策）
	if cookieErr != nil || state == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state cookie mismatch", slog.Bool("cookie_present", cookieErr == nil))
		response.Render(w, response.BadRequest, response.Error(model.NewOAuthStateInvalidError()))
		return
	}

	res, err := h.federated.Callback(r.Context(), state, q.Get("code"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if res.Created() {
		response.Render(w, response.Created, response.Data("Googleアカウントで登録しました。", res))
		return
	}
	response.Render(w, response.Success, response.Data("Googleアカウントでログインしました。", res))
}

// GoogleRevoke はGoogleから受け取ったトークンを失効させる。
// POST /auth/google/revoke
func (h *AuthHandler) GoogleRevoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.federated.Revoke(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("Google連携のトークンを失効させました。", nil))
}

// clearStateCookie はstateクッキーを削除する。
func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     oauthStateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireUserID はガードが注入したユーザーIDを取り出す。なければ401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		response.Render(w, response.AuthFailure, response.Error(model.NewMissingTokenError()))
		return "", false
	}
	return userID, true
}
