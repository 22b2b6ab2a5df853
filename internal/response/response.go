// Package response はAPIレスポンスの統一エンベロープを提供する。
//
// レスポンスの種類はKindの閉じた列挙で表し、書き出しはRenderの1箇所に集約する。
// 成功時は {"status":"success","message":...,"data":...}、
// 失敗時は {"status":"error","code":...,"message":...,"category":...,"action":...} を返す。
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/afrivac/internal/model"
)

// Kind はレスポンスの種類。HTTPステータスとボディ形式を決める。
type Kind int

const (
	Success Kind = iota
	Created
	BadRequest
	AuthFailure
	Forbidden
	NotFound
	Conflict
	TooManyRequests
	InternalError
)

// Status はKindに対応するHTTPステータスコードを返す。
func (k Kind) Status() int {
	switch k {
	case Success:
		return http.StatusOK
	case Created:
		return http.StatusCreated
	case BadRequest:
		return http.StatusBadRequest
	case AuthFailure:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsError は失敗系のKindかを返す。
func (k Kind) IsError() bool {
	return k != Success && k != Created
}

// String はログ出力用の名前を返す。
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Created:
		return "created"
	case BadRequest:
		return "bad_request"
	case AuthFailure:
		return "auth_failure"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case TooManyRequests:
		return "too_many_requests"
	default:
		return "internal_error"
	}
}

// Payload はRenderに渡すレスポンスの中身。
// 成功系ではMessageとData、失敗系ではErrを使う。
type Payload struct {
	Message string
	Data    any
	Err     *model.APIError
}

// Data は成功レスポンス用のPayloadを生成する。
func Data(message string, data any) Payload {
	return Payload{Message: message, Data: data}
}

// Error は失敗レスポンス用のPayloadを生成する。
func Error(apiErr *model.APIError) Payload {
	return Payload{Err: apiErr}
}

// successBody は成功レスポンスのボディ。
type successBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// errorBody は失敗レスポンスのボディ。
type errorBody struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Render はKindとPayloadからレスポンスを書き込む。
// 失敗系でErrが未指定の場合は内部エラーとして扱い、詳細は返さない。
func Render(w http.ResponseWriter, kind Kind, p Payload) {
	var body any
	if kind.IsError() {
		apiErr := p.Err
		if apiErr == nil {
			apiErr = model.NewInternalError()
		}
		body = errorBody{
			Status:   "error",
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		}
	} else {
		body = successBody{
			Status:  "success",
			Message: p.Message,
			Data:    p.Data,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.Status())
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response",
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
	}
}
