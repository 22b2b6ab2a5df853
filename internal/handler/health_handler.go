package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/response"
)

const healthCheckTimeout = 2 * time.Second

// Pinger はヘルスチェックで疎通確認する依存先。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			response.Render(w, response.InternalError, response.Error(model.NewInternalError()))
			return
		}
		response.Render(w, response.Success, response.Data("ok", nil))
	}
}
