package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/response"
)

// ReviewService はレビューハンドラーが必要とするサービスのインターフェース。
type ReviewService interface {
	Create(ctx context.Context, userID, destinationID, body string, rating int) (*model.Review, error)
	ListByDestination(ctx context.Context, destinationID string) ([]*model.Review, error)
}

// ReviewHandler はレビューのHTTPハンドラー。
type ReviewHandler struct {
	service ReviewService
}

// NewReviewHandler はReviewHandlerを生成する。
func NewReviewHandler(service ReviewService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

type createReviewRequest struct {
	Review string `json:"review"`
	Rating int    `json:"rating"`
}

// List は目的地のレビュー一覧を返す。
// GET /destinations/{id}/reviews
func (h *ReviewHandler) List(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.service.ListByDestination(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("", reviews))
}

// Create は目的地にレビューを投稿する。
// POST /destinations/{id}/reviews
func (h *ReviewHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	review, err := h.service.Create(r.Context(), userID, chi.URLParam(r, "id"), req.Review, req.Rating)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Created, response.Data("レビューを投稿しました。", review))
}
