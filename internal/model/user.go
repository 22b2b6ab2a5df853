// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限種別。USERとADMINのみの閉じた列挙。
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid はRoleが定義済みの値かを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// DefaultPhotoURL はプロフィール画像未設定時のアバター。
const DefaultPhotoURL = "https://afrivac.s3.us-east-2.amazonaws.com/default.jpg"

// CodePurpose はワンタイムコードの用途。
// メール確認用のコードでパスワード再設定ができないよう、用途を必ず区別する。
type CodePurpose string

const (
	PurposeConfirmEmail  CodePurpose = "CONFIRM_EMAIL"
	PurposeResetPassword CodePurpose = "RESET_PASSWORD"
)

// OneTimeCode はユーザーに1つだけ保持されるワンタイムコードの枠。
// Hashのみ永続化し、平文コードはメールでのみ配送する。
type OneTimeCode struct {
	Purpose   CodePurpose
	Hash      string
	ExpiresAt time.Time
}

// FederatedTokens はGoogleから受け取ったトークン一式。再認証のたびに上書きされる。
type FederatedTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID       string
	Email    string
	Name     string
	Country  string
	Phone    string
	PhotoURL string
	Role     Role

	// PasswordHash はGoogleのみで登録したアカウントでは空。
	PasswordHash string

	// FederatedID はGoogleのsub。Google未連携なら空。
	FederatedID     string
	FederatedTokens *FederatedTokens

	// OneTimeCode は保留中のコードがなければnil。
	OneTimeCode *OneTimeCode

	// RefreshTokenHash はSHA-512のhex。平文は保存しない。
	RefreshTokenHash string

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLocalPassword はメール・パスワードでログインできるアカウントかを返す。
func (u *User) HasLocalPassword() bool {
	return u.PasswordHash != ""
}

// PublicUser はクライアントへ返すユーザー情報。
// パスワードハッシュやトークン類は含めない。
type PublicUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Country   string    `json:"country,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Photo     string    `json:"photo"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public はUserを公開用の射影に変換する。
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		Country:   u.Country,
		Phone:     u.Phone,
		Photo:     u.PhotoURL,
		CreatedAt: u.CreatedAt,
	}
}

// UserPatch はupdateByIDに渡すマージパッチ。nilのフィールドは変更しない。
type UserPatch struct {
	Name            *string
	Country         *string
	Phone           *string
	PhotoURL        *string
	PasswordHash    *string
	FederatedID     *string
	FederatedTokens *FederatedTokens
	// ClearFederatedTokens がtrueの場合はFederatedTokensをNULLにする。
	ClearFederatedTokens bool
	Active               *bool
}

// IsEmpty は変更項目がないパッチかを返す。
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Country == nil && p.Phone == nil && p.PhotoURL == nil &&
		p.PasswordHash == nil && p.FederatedID == nil && p.FederatedTokens == nil &&
		!p.ClearFederatedTokens && p.Active == nil
}
