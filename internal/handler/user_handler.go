package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/response"
	"github.com/hitoshi/afrivac/internal/user"
)

// UserService はユーザーハンドラーが必要とするサービスのインターフェース。
type UserService interface {
	Get(ctx context.Context, userID string) (*model.PublicUser, error)
	Update(ctx context.Context, userID string, in user.ProfileUpdate) (*model.PublicUser, error)
	Deactivate(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*model.PublicUser, error)
}

// UserHandler はプロフィールと管理者向けユーザー一覧のHTTPハンドラー。
type UserHandler struct {
	service UserService
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserService) *UserHandler {
	return &UserHandler{service: service}
}

// profileRequest はプロフィール更新のリクエストボディ。
// emailとroleは拒否するために受け取る。
type profileRequest struct {
	Name    *string `json:"name"`
	Country *string `json:"country"`
	Phone   *string `json:"phone"`
	Photo   *string `json:"photo"`
	Email   *string `json:"email"`
	Role    *string `json:"role"`
}

// Me はログイン中のユーザーのプロフィールを返す。
// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("", profile))
}

// UpdateMe はログイン中のユーザーのプロフィールを更新する。
// PUT /users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.Update(r.Context(), userID, user.ProfileUpdate{
		Name:    req.Name,
		Country: req.Country,
		Phone:   req.Phone,
		Photo:   req.Photo,
		Email:   req.Email,
		Role:    req.Role,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("プロフィールを更新しました。", profile))
}

// DeleteMe はログイン中のユーザーを無効化する。データは削除しない。
// DELETE /users/me
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Deactivate(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("アカウントを無効化しました。", nil))
}

// ListUsers は全ユーザーを返す。管理者専用。
// GET /admin/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("", users))
}
