package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	oauth2v2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/hitoshi/afrivac/internal/model"
)

const defaultGoogleRevokeURL = "https://oauth2.googleapis.com/revoke"

// GoogleConfig はGoogle OAuthプロバイダーの設定。
// 起動時に一度だけ組み立て、NewGoogleProviderに値で渡す。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// テスト用にオーバーライド可能なエンドポイント
	AuthURL          string
	TokenURL         string
	UserInfoEndpoint string
	RevokeURL        string
	HTTPClient       *http.Client
}

// GoogleProfile はGoogleから取得したユーザー情報とトークン。
type GoogleProfile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Tokens        model.FederatedTokens
}

// IdentityProvider は外部IdPとのやり取りを抽象化する。
type IdentityProvider interface {
	// AuthCodeURL は同意画面へのURLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換し、プロフィールを取得する。
	Exchange(ctx context.Context, code string) (*GoogleProfile, error)
	// Revoke はプロバイダー側のトークンを失効させる。
	Revoke(ctx context.Context, token string) error
}

// GoogleProvider はGoogle OAuth 2.0によるIdentityProviderの実装。
type GoogleProvider struct {
	oauth            oauth2.Config
	userInfoEndpoint string
	revokeURL        string
	httpClient       *http.Client
}

// NewGoogleProvider はGoogleProviderを生成する。
// クライアントID・シークレット・リダイレクトURLのいずれかが空の場合はConfigurationErrorを返す。
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	switch {
	case cfg.ClientID == "":
		return nil, &model.ConfigurationError{Key: "GOOGLE_CLIENT_ID", Reason: "must not be empty"}
	case cfg.ClientSecret == "":
		return nil, &model.ConfigurationError{Key: "GOOGLE_CLIENT_SECRET", Reason: "must not be empty"}
	case cfg.RedirectURL == "":
		return nil, &model.ConfigurationError{Key: "GOOGLE_REDIRECT_URL", Reason: "must not be empty"}
	}

	scopes := append([]string(nil), cfg.Scopes...)
	if len(scopes) == 0 {
		scopes = []string{oauth2v2.UserinfoProfileScope, oauth2v2.UserinfoEmailScope}
	}

	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = defaultGoogleRevokeURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &GoogleProvider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoEndpoint: cfg.UserInfoEndpoint,
		revokeURL:        revokeURL,
		httpClient:       httpClient,
	}, nil
}

// AuthCodeURL はオフラインアクセスと毎回の同意を要求する認可URLを生成する。
// prompt=consentを付けないと2回目以降のログインでリフレッシュトークンが返らない。
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange は認可コードをトークンに交換し、userinfo APIでプロフィールを取得する。
// プロバイダーが拒否した場合はOAuthExchangeErrorを返す。
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			slog.Warn("google token exchange rejected",
				slog.String("error_code", rerr.ErrorCode),
				slog.String("description", rerr.ErrorDescription),
			)
			return nil, model.NewOAuthExchangeError("認可コードの交換に失敗しました")
		}
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	opts := []option.ClientOption{option.WithHTTPClient(p.oauth.Client(ctx, tok))}
	if p.userInfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.userInfoEndpoint))
	}
	svc, err := oauth2v2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo client: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			slog.Warn("google userinfo rejected", slog.Int("status", gerr.Code))
			return nil, model.NewOAuthExchangeError("Googleのユーザー情報を取得できませんでした")
		}
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	if info.Id == "" || info.Email == "" {
		return nil, model.NewOAuthExchangeError("Googleのユーザー情報が不完全です")
	}

	verified := info.VerifiedEmail != nil && *info.VerifiedEmail

	return &GoogleProfile{
		Subject:       info.Id,
		Email:         strings.ToLower(strings.TrimSpace(info.Email)),
		EmailVerified: verified,
		Name:          nameOrDefault(info.Name, info.Email),
		Picture:       info.Picture,
		Tokens: model.FederatedTokens{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		},
	}, nil
}

// Revoke はGoogleのrevokeエンドポイントにトークンを送信する。
func (p *GoogleProvider) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revoke failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// nameOrDefault は表示名が空の場合にメールアドレスのローカル部を使う。
func nameOrDefault(name, email string) string {
	if name != "" {
		return name
	}
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// compile-time interface check
var _ IdentityProvider = (*GoogleProvider)(nil)
