// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/response"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// handleServiceError はサービス層から返されたエラーを統一フォーマットのレスポンスに変換する。
// APIError以外は内部エラーとしてログのみに詳細を残す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		response.Render(w, mapAPIErrorToKind(apiErr), response.Error(apiErr))
		return
	}

	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	response.Render(w, response.InternalError, response.Error(model.NewInternalError()))
}

// mapAPIErrorToKind はAPIErrorコードからレスポンス種別にマッピングする。
func mapAPIErrorToKind(apiErr *model.APIError) response.Kind {
	switch apiErr.Code {
	case model.ErrCodeValidation,
		model.ErrCodeTokenExpiredOrInvalid,
		model.ErrCodeOAuthStateInvalid,
		model.ErrCodeEmailChangeNotAllowed,
		model.ErrCodeInvalidURL:
		return response.BadRequest
	case model.ErrCodeInvalidCredentials,
		model.ErrCodeMissingToken,
		model.ErrCodeInvalidToken,
		model.ErrCodeUnknownSubject,
		model.ErrCodeOAuthExchangeFailed:
		return response.AuthFailure
	case model.ErrCodeAccountNotVerified,
		model.ErrCodeForbidden,
		model.ErrCodeSSRFBlocked:
		return response.Forbidden
	case model.ErrCodeUserNotFound,
		model.ErrCodeDestinationNotFound:
		return response.NotFound
	case model.ErrCodeDuplicateEmail,
		model.ErrCodeDuplicateToken,
		model.ErrCodeDuplicateReview,
		model.ErrCodeDuplicateDestination:
		return response.Conflict
	case model.ErrCodeRateLimited:
		return response.TooManyRequests
	default:
		return response.InternalError
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		reason := "リクエストボディの解析に失敗しました"
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			reason = "リクエストボディが空です"
		case errors.As(err, &maxErr):
			reason = "リクエストボディが大きすぎます"
		}
		response.Render(w, response.BadRequest, response.Error(model.NewValidationError(reason)))
		return false
	}
	return true
}
