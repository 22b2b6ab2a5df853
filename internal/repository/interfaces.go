// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/afrivac/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 検索系メソッドは見つからない場合にnil, nilを返す。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は大文字小文字を区別せずにメールアドレスでユーザーを検索する。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByFederatedID はGoogleのsubでユーザーを検索する。
	FindByFederatedID(ctx context.Context, federatedID string) (*model.User, error)

	// FindByRefreshTokenHash はリフレッシュトークンのハッシュでユーザーを検索する。
	FindByRefreshTokenHash(ctx context.Context, hash string) (*model.User, error)

	// List は全ユーザーを作成日時の新しい順に返す。
	List(ctx context.Context) ([]*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスまたはFederatedIDが重複する場合はErrDuplicateEmail/ErrDuplicateFederatedIDを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateByID はパッチの非nil項目だけを更新し、更新後のユーザーを返す。
	UpdateByID(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)

	// SetOneTimeCode はワンタイムコードの枠を上書きする。nilを渡すと枠をクリアする。
	SetOneTimeCode(ctx context.Context, id string, code *model.OneTimeCode) error

	// ConsumeOneTimeCode は用途・ハッシュが一致し期限内のコードを1回だけ消費する。
	// CONFIRM_EMAILの場合は同時にアカウントを有効化する。該当がなければnilを返す。
	ConsumeOneTimeCode(ctx context.Context, purpose model.CodePurpose, hash string, now time.Time) (*model.User, error)

	// SwapRefreshTokenHash は保存済みハッシュがoldHashと一致する場合のみnewHashに置き換える。
	// oldHash、newHashの空文字はNULLを表す。置き換えた場合にtrueを返す。
	SwapRefreshTokenHash(ctx context.Context, id, oldHash, newHash string) (bool, error)

	// ClearExpiredOneTimeCodes は期限切れのワンタイムコードをクリアし、件数を返す。
	ClearExpiredOneTimeCodes(ctx context.Context, now time.Time) (int64, error)
}

// DestinationRepository は目的地データの永続化インターフェース。
type DestinationRepository interface {
	// List は目的地を平均評価の高い順に返す。
	List(ctx context.Context) ([]*model.Destination, error)

	// FindByID は指定IDの目的地を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Destination, error)

	// Create は目的地を作成する。
	Create(ctx context.Context, d *model.Destination) error
}

// ReviewRepository はレビューデータの永続化インターフェース。
type ReviewRepository interface {
	// CreateAndRecalculate はレビューを作成し、同一トランザクションで目的地の評価を再計算する。
	// 同一ユーザーの二重投稿はErrDuplicateReviewを返す。
	CreateAndRecalculate(ctx context.Context, review *model.Review) error

	// ListByDestination は目的地のレビューを投稿者情報付きで新しい順に返す。
	ListByDestination(ctx context.Context, destinationID string) ([]*model.Review, error)
}
