package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/afrivac/internal/model"
	"github.com/hitoshi/afrivac/internal/notify"
	"github.com/hitoshi/afrivac/internal/repository"
)

// --- モック定義 ---

// memUserRepo はUserRepositoryのインメモリ実装。Postgres実装と同じ一意性・消費の規則に従う。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	createErr error
	// otcCollisions の回数だけ、コードの保存を他アカウントとの衝突として失敗させる
	otcCollisions int
	// swapFn が設定されていればSwapRefreshTokenHashの結果を差し替える
	swapFn func(id, oldHash, newHash string) (bool, error)
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func clone(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.OneTimeCode != nil {
		otc := *u.OneTimeCode
		c.OneTimeCode = &otc
	}
	if u.FederatedTokens != nil {
		ft := *u.FederatedTokens
		c.FederatedTokens = &ft
	}
	return &c
}

func (r *memUserRepo) find(match func(*model.User) bool) *model.User {
	for _, u := range r.users {
		if match(u) {
			return clone(u)
		}
	}
	return nil
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.users[id]), nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *memUserRepo) FindByFederatedID(_ context.Context, federatedID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(u *model.User) bool { return u.FederatedID != "" && u.FederatedID == federatedID }), nil
}

func (r *memUserRepo) FindByRefreshTokenHash(_ context.Context, hash string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(u *model.User) bool { return u.RefreshTokenHash != "" && u.RefreshTokenHash == hash }), nil
}

func (r *memUserRepo) List(_ context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.User
	for _, u := range r.users {
		out = append(out, clone(u))
	}
	return out, nil
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
		if user.FederatedID != "" && u.FederatedID == user.FederatedID {
			return repository.ErrDuplicateFederatedID
		}
	}
	if err := r.checkCodeLocked(user.ID, user.OneTimeCode); err != nil {
		return err
	}
	r.users[user.ID] = clone(user)
	return nil
}

func (r *memUserRepo) UpdateByID(_ context.Context, id string, p model.UserPatch) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	if p.FederatedID != nil {
		for _, other := range r.users {
			if other.ID != id && other.FederatedID == *p.FederatedID {
				return nil, repository.ErrDuplicateFederatedID
			}
		}
		u.FederatedID = *p.FederatedID
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Country != nil {
		u.Country = *p.Country
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.PhotoURL != nil {
		u.PhotoURL = *p.PhotoURL
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.ClearFederatedTokens {
		u.FederatedTokens = nil
	} else if p.FederatedTokens != nil {
		ft := *p.FederatedTokens
		u.FederatedTokens = &ft
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
	u.UpdatedAt = time.Now()
	return clone(u), nil
}

func (r *memUserRepo) SetOneTimeCode(_ context.Context, id string, code *model.OneTimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return errors.New("user not found")
	}
	if code == nil {
		u.OneTimeCode = nil
		return nil
	}
	if err := r.checkCodeLocked(id, code); err != nil {
		return err
	}
	c := *code
	u.OneTimeCode = &c
	return nil
}

// checkCodeLocked はusers_otc_hash_keyと同じく、同じ用途・ハッシュのコードを他アカウントに持たせない。
func (r *memUserRepo) checkCodeLocked(id string, code *model.OneTimeCode) error {
	if code == nil {
		return nil
	}
	if r.otcCollisions > 0 {
		r.otcCollisions--
		return repository.ErrDuplicateOneTimeCode
	}
	for _, other := range r.users {
		otc := other.OneTimeCode
		if other.ID != id && otc != nil && otc.Purpose == code.Purpose && otc.Hash == code.Hash {
			return repository.ErrDuplicateOneTimeCode
		}
	}
	return nil
}

func (r *memUserRepo) ConsumeOneTimeCode(_ context.Context, purpose model.CodePurpose, hash string, now time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		otc := u.OneTimeCode
		if otc == nil || otc.Purpose != purpose || otc.Hash != hash || !otc.ExpiresAt.After(now) {
			continue
		}
		u.OneTimeCode = nil
		if purpose == model.PurposeConfirmEmail {
			u.Active = true
		}
		return clone(u), nil
	}
	return nil, nil
}

func (r *memUserRepo) SwapRefreshTokenHash(_ context.Context, id, oldHash, newHash string) (bool, error) {
	if r.swapFn != nil {
		return r.swapFn(id, oldHash, newHash)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.RefreshTokenHash != oldHash {
		return false, nil
	}
	u.RefreshTokenHash = newHash
	return true, nil
}

func (r *memUserRepo) ClearExpiredOneTimeCodes(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.users {
		if u.OneTimeCode != nil && !u.OneTimeCode.ExpiresAt.After(now) {
			u.OneTimeCode = nil
			n++
		}
	}
	return n, nil
}

// get はテストから保存状態を直接参照する。
func (r *memUserRepo) get(id string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.users[id])
}

// plainHasher はテスト用の高速なPasswordHasher。
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPassword
	}
	return "plain:" + p, nil
}

func (plainHasher) Verify(p, digest string) bool {
	return digest != "" && digest == "plain:"+p
}

// captureNotifier は送信されたメッセージを記録する。
type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *captureNotifier) Send(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureNotifier) last() notify.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return notify.Message{}
	}
	return c.msgs[len(c.msgs)-1]
}

// mockIdentityProvider はIdentityProviderのモック。
type mockIdentityProvider struct {
	exchangeFn func(ctx context.Context, code string) (*GoogleProfile, error)
	revokeFn   func(ctx context.Context, token string) error
	revoked    []string
}

func (m *mockIdentityProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.test/auth?state=" + state
}

func (m *mockIdentityProvider) Exchange(ctx context.Context, code string) (*GoogleProfile, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockIdentityProvider) Revoke(ctx context.Context, token string) error {
	m.revoked = append(m.revoked, token)
	if m.revokeFn != nil {
		return m.revokeFn(ctx, token)
	}
	return nil
}

// --- compile-time interface checks ---
var (
	_ repository.UserRepository = (*memUserRepo)(nil)
	_ PasswordHasher            = plainHasher{}
	_ notify.Notifier           = (*captureNotifier)(nil)
	_ IdentityProvider          = (*mockIdentityProvider)(nil)
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

func newTestTokenService() *TokenService {
	ts, err := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "afrivac-test", AccessTTL: time.Minute})
	if err != nil {
		panic(err)
	}
	return ts
}
