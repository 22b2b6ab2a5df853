// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/afrivac/internal/auth"
	"github.com/hitoshi/afrivac/internal/metrics"
	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/response"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	userContextKey   = contextKey("user")
	userIDSinkKey    = contextKey("user_id_sink")
)

// ガード拒否理由（メトリクスのラベル）
const (
	reasonMissingToken   = "missing_token"
	reasonInvalidToken   = "invalid_token"
	reasonUnknownSubject = "unknown_subject"
	reasonInactive       = "inactive"
	reasonForbidden      = "forbidden"
)

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

// UserFinder はトークンの主体ユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// GuardConfig はアクセスガードのポリシー設定。
type GuardConfig struct {
	// RejectInactive がtrueの場合、無効化済み（未確認を含む）ユーザーのトークンを拒否する。
	RejectInactive bool
}

// NewAccessGuard はBearerトークンを検証し、主体ユーザーをコンテキストに注入するミドルウェアを返す。
//
//  1. Authorizationヘッダーがなければ MISSING_TOKEN
//  2. 署名・期限・発行者の検証に失敗すれば INVALID_TOKEN
//  3. ユーザーが存在しない、またはポリシーにより無効ユーザーを拒否する場合は UNKNOWN_SUBJECT
//
// 状態の変更は一切行わない。
func NewAccessGuard(tokens TokenVerifier, users UserFinder, config GuardConfig, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}

	reject := func(w http.ResponseWriter, reason string, apiErr *model.APIError) {
		collector.RecordGuardRejection(reason)
		response.Render(w, response.AuthFailure, response.Error(apiErr))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				reject(w, reasonMissingToken, model.NewMissingTokenError())
				return
			}

			claims, err := tokens.VerifyAccessToken(token)
			if err != nil {
				reject(w, reasonInvalidToken, model.NewInvalidTokenError())
				return
			}

			user, err := users.FindByID(r.Context(), claims.Subject)
			if err != nil {
				slog.Error("failed to find token subject",
					slog.String("user_id", claims.Subject),
					slog.String("error", err.Error()),
				)
				response.Render(w, response.InternalError, response.Error(model.NewInternalError()))
				return
			}
			if user == nil {
				reject(w, reasonUnknownSubject, model.NewUnknownSubjectError())
				return
			}
			if config.RejectInactive && !user.Active {
				reject(w, reasonInactive, model.NewUnknownSubjectError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireRole は指定ロールを持たないユーザーを403で拒否するミドルウェアを返す。
// NewAccessGuardの後に配置する。
func RequireRole(role model.Role, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				collector.RecordGuardRejection(reasonMissingToken)
				response.Render(w, response.AuthFailure, response.Error(model.NewMissingTokenError()))
				return
			}
			if user.Role != role {
				collector.RecordGuardRejection(reasonForbidden)
				response.Render(w, response.Forbidden, response.Error(model.NewForbiddenError()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserFromContext はアクセスガードが注入したユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// アクセスガードを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUser はコンテキストにユーザーとユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成でも使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	if sink, ok := ctx.Value(userIDSinkKey).(*string); ok {
		*sink = user.ID
	}
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, userIDContextKey, user.ID)
}

// withUserIDSink はContextWithUserで注入されたユーザーIDを外側のミドルウェアへ返す受け皿を設定する。
func withUserIDSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, userIDSinkKey, sink)
}
