package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/afrivac/internal/destination"
	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/response"
)

// DestinationService は目的地ハンドラーが必要とするサービスのインターフェース。
type DestinationService interface {
	List(ctx context.Context) ([]*model.Destination, error)
	Get(ctx context.Context, id string) (*model.DestinationDetail, error)
	Create(ctx context.Context, in destination.CreateInput) (*model.Destination, error)
}

// DestinationHandler は目的地のHTTPハンドラー。
type DestinationHandler struct {
	service DestinationService
}

// NewDestinationHandler はDestinationHandlerを生成する。
func NewDestinationHandler(service DestinationService) *DestinationHandler {
	return &DestinationHandler{service: service}
}

type createDestinationRequest struct {
	Name        string   `json:"name"`
	Country     string   `json:"country"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	ImageCover  string   `json:"imageCover"`
	Images      []string `json:"images"`
}

// List は目的地の一覧を返す。
// GET /destinations
func (h *DestinationHandler) List(w http.ResponseWriter, r *http.Request) {
	dests, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("", dests))
}

// Get は目的地の詳細をレビュー付きで返す。
// GET /destinations/{id}
func (h *DestinationHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Success, response.Data("", detail))
}

// Create は目的地を登録する。管理者専用。
// POST /destinations
func (h *DestinationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDestinationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dest, err := h.service.Create(r.Context(), destination.CreateInput{
		Name:        req.Name,
		Country:     req.Country,
		Summary:     req.Summary,
		Description: req.Description,
		ImageCover:  req.ImageCover,
		Images:      req.Images,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	response.Render(w, response.Created, response.Data("目的地を登録しました。", dest))
}
