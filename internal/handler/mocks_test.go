package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/afrivac/internal/auth"
	"github.com/hitoshi/afrivac/internal/destination"
	"github.com/hitoshi/afrivac/internal/middleware"
	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/review"
	"github.com/hitoshi/afrivac/internal/user"
)

// --- モック定義 ---

type mockLocalAuth struct {
	signupFn        func(ctx context.Context, in auth.SignupInput) (*auth.AuthResult, error)
	authenticateFn  func(ctx context.Context, email, password string) (*auth.AuthResult, error)
	confirmFn       func(ctx context.Context, code string) (*auth.AuthResult, error)
	resendFn        func(ctx context.Context, email string) error
	requestResetFn  func(ctx context.Context, email string) error
	resetPasswordFn func(ctx context.Context, code, newPassword string) error
	refreshFn       func(ctx context.Context, refreshToken string) (*auth.AuthResult, error)
	logoutFn        func(ctx context.Context, userID string) error
}

func (m *mockLocalAuth) Signup(ctx context.Context, in auth.SignupInput) (*auth.AuthResult, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return &auth.AuthResult{}, nil
}

func (m *mockLocalAuth) Authenticate(ctx context.Context, email, password string) (*auth.AuthResult, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, email, password)
	}
	return &auth.AuthResult{}, nil
}

func (m *mockLocalAuth) ConfirmToken(ctx context.Context, code string) (*auth.AuthResult, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, code)
	}
	return &auth.AuthResult{}, nil
}

func (m *mockLocalAuth) ResendToken(ctx context.Context, email string) error {
	if m.resendFn != nil {
		return m.resendFn(ctx, email)
	}
	return nil
}

func (m *mockLocalAuth) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestResetFn != nil {
		return m.requestResetFn(ctx, email)
	}
	return nil
}

func (m *mockLocalAuth) ResetPassword(ctx context.Context, code, newPassword string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, code, newPassword)
	}
	return nil
}

func (m *mockLocalAuth) Refresh(ctx context.Context, refreshToken string) (*auth.AuthResult, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return &auth.AuthResult{}, nil
}

func (m *mockLocalAuth) Logout(ctx context.Context, userID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, userID)
	}
	return nil
}

type mockFederatedAuth struct {
	authorizationURLFn func(ctx context.Context) (string, string, error)
	callbackFn         func(ctx context.Context, state, code string) (*auth.Resolution, error)
	revokeFn           func(ctx context.Context, userID string) error
}

func (m *mockFederatedAuth) AuthorizationURL(ctx context.Context) (string, string, error) {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(ctx)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=s", "s", nil
}

func (m *mockFederatedAuth) Callback(ctx context.Context, state, code string) (*auth.Resolution, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, state, code)
	}
	return &auth.Resolution{}, nil
}

func (m *mockFederatedAuth) Revoke(ctx context.Context, userID string) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, userID)
	}
	return nil
}

type mockUserService struct {
	getFn        func(ctx context.Context, userID string) (*model.PublicUser, error)
	updateFn     func(ctx context.Context, userID string, in user.ProfileUpdate) (*model.PublicUser, error)
	deactivateFn func(ctx context.Context, userID string) error
	listFn       func(ctx context.Context) ([]*model.PublicUser, error)
}

func (m *mockUserService) Get(ctx context.Context, userID string) (*model.PublicUser, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.PublicUser{ID: userID}, nil
}

func (m *mockUserService) Update(ctx context.Context, userID string, in user.ProfileUpdate) (*model.PublicUser, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, in)
	}
	return &model.PublicUser{ID: userID}, nil
}

func (m *mockUserService) Deactivate(ctx context.Context, userID string) error {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, userID)
	}
	return nil
}

func (m *mockUserService) List(ctx context.Context) ([]*model.PublicUser, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []*model.PublicUser{}, nil
}

type mockDestinationService struct {
	listFn   func(ctx context.Context) ([]*model.Destination, error)
	getFn    func(ctx context.Context, id string) (*model.DestinationDetail, error)
	createFn func(ctx context.Context, in destination.CreateInput) (*model.Destination, error)
}

func (m *mockDestinationService) List(ctx context.Context) ([]*model.Destination, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []*model.Destination{}, nil
}

func (m *mockDestinationService) Get(ctx context.Context, id string) (*model.DestinationDetail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &model.DestinationDetail{Destination: model.Destination{ID: id}}, nil
}

func (m *mockDestinationService) Create(ctx context.Context, in destination.CreateInput) (*model.Destination, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Destination{ID: "dest-1", Name: in.Name}, nil
}

type mockReviewService struct {
	createFn func(ctx context.Context, userID, destinationID, body string, rating int) (*model.Review, error)
	listFn   func(ctx context.Context, destinationID string) ([]*model.Review, error)
}

func (m *mockReviewService) Create(ctx context.Context, userID, destinationID, body string, rating int) (*model.Review, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, destinationID, body, rating)
	}
	return &model.Review{ID: "review-1", UserID: userID, DestinationID: destinationID, Body: body, Rating: rating}, nil
}

func (m *mockReviewService) ListByDestination(ctx context.Context, destinationID string) ([]*model.Review, error) {
	if m.listFn != nil {
		return m.listFn(ctx, destinationID)
	}
	return []*model.Review{}, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// compile-time interface check
var (
	_ LocalAuthService     = (*mockLocalAuth)(nil)
	_ FederatedAuthService = (*mockFederatedAuth)(nil)
	_ UserService          = (*mockUserService)(nil)
	_ DestinationService   = (*mockDestinationService)(nil)
	_ ReviewService        = (*mockReviewService)(nil)
	_ Pinger               = (*mockPinger)(nil)

	_ LocalAuthService     = (*auth.LocalService)(nil)
	_ FederatedAuthService = (*auth.FederatedService)(nil)
	_ UserService          = (*user.Service)(nil)
	_ DestinationService   = (*destination.Service)(nil)
	_ ReviewService        = (*review.Service)(nil)
)

// --- テストヘルパー ---

// withUser はガードを通過したのと同じ状態のリクエストを返す。
func withUser(r *http.Request, id string, role model.Role) *http.Request {
	u := &model.User{ID: id, Role: role, Active: true}
	return r.WithContext(middleware.ContextWithUser(r.Context(), u))
}

// envelope はレスポンスボディの共通部分。
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return env
}
