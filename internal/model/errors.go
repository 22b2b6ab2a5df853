// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, review, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致するAPIErrorを同一とみなす。
// errors.Is(err, model.NewInvalidTokenError()) のような比較に使う。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeDuplicateEmail        = "DUPLICATE_EMAIL"
	ErrCodeDuplicateToken        = "DUPLICATE_TOKEN"
	ErrCodeDuplicateReview       = "DUPLICATE_REVIEW"
	ErrCodeDuplicateDestination  = "DUPLICATE_DESTINATION"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeAccountNotVerified    = "ACCOUNT_NOT_VERIFIED"
	ErrCodeTokenExpiredOrInvalid = "TOKEN_EXPIRED_OR_INVALID"
	ErrCodeMissingToken          = "MISSING_TOKEN"
	ErrCodeInvalidToken          = "INVALID_TOKEN"
	ErrCodeUnknownSubject        = "UNKNOWN_SUBJECT"
	ErrCodeOAuthExchangeFailed   = "OAUTH_EXCHANGE_FAILED"
	ErrCodeOAuthStateInvalid     = "OAUTH_STATE_INVALID"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeDestinationNotFound   = "DESTINATION_NOT_FOUND"
	ErrCodeEmailChangeNotAllowed = "EMAIL_CHANGE_NOT_ALLOWED"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeSSRFBlocked           = "SSRF_BLOCKED"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// ConfigurationError は起動時設定の不備を表す。
// リクエスト単位ではなく起動処理を中断させるためのエラーで、HTTPには変換しない。
type ConfigurationError struct {
	Key    string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// NewValidationError は入力不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、パスワードの再設定を行ってください。",
	}
}

// NewEmailPendingVerificationError はメール未確認のアカウントが同じアドレスを使っている場合のエラーを生成する。
// コードはDUPLICATE_EMAILで、案内だけが異なる。
func NewEmailPendingVerificationError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは確認待ちのアカウントで登録されています。",
		Category: "auth",
		Action:   "確認コードを再送してメールアドレスを確認し、パスワードを再設定してからログインしてください。",
	}
}

// NewDuplicateTokenError はトークンの一意制約違反エラーを生成する。
func NewDuplicateTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateToken,
		Message:  "トークンの発行が競合しました。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewDuplicateReviewError は同一目的地への二重レビューエラーを生成する。
func NewDuplicateReviewError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateReview,
		Message:  "この目的地には既にレビューを投稿しています。",
		Category: "review",
		Action:   "投稿済みのレビューを確認してください。",
	}
}

// NewDuplicateDestinationError は同名の目的地の重複登録エラーを生成する。
func NewDuplicateDestinationError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateDestination,
		Message:  "同じ名前の目的地が既に登録されています。",
		Category: "destination",
		Action:   "別の名前で登録してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// 未登録メールとパスワード誤りを区別しないため、メッセージは常に同一。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認するか、Googleログインなど他の方法をお試しください。",
	}
}

// NewAccountNotVerifiedError はメール確認前のアカウントでのログインエラーを生成する。
func NewAccountNotVerifiedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotVerified,
		Message:  "メールアドレスの確認が完了していません。",
		Category: "auth",
		Action:   "登録時に送信された確認コードを入力してください。",
	}
}

// NewTokenExpiredOrInvalidError はワンタイムコードの期限切れ・不一致エラーを生成する。
func NewTokenExpiredOrInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpiredOrInvalid,
		Message:  "コードが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "コードを再送信してからお試しください。",
	}
}

// NewMissingTokenError はBearerトークン未指定エラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingToken,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてからアクセスしてください。",
	}
}

// NewInvalidTokenError はアクセストークン不正エラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnknownSubjectError はトークンの主体ユーザーが存在しない場合のエラーを生成する。
func NewUnknownSubjectError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownSubject,
		Message:  "このトークンのユーザーは存在しません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewOAuthExchangeError はOAuthプロバイダとの連携失敗エラーを生成する。
func NewOAuthExchangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthExchangeFailed,
		Message:  fmt.Sprintf("Googleアカウントでの認証に失敗しました: %s", reason),
		Category: "auth",
		Action:   "もう一度Googleでログインしてください。",
	}
}

// NewOAuthStateInvalidError はOAuth stateの検証失敗エラーを生成する。
func NewOAuthStateInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthStateInvalid,
		Message:  "認証リクエストが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewDestinationNotFoundError は目的地が見つからない場合のエラーを生成する。
func NewDestinationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeDestinationNotFound,
		Message:  fmt.Sprintf("指定された目的地が見つかりません: %s", id),
		Category: "validation",
		Action:   "目的地IDを確認してください。",
	}
}

// NewEmailChangeNotAllowedError はプロフィール更新でのメール変更エラーを生成する。
func NewEmailChangeNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailChangeNotAllowed,
		Message:  "メールアドレスは変更できません。",
		Category: "validation",
		Action:   "メールアドレス以外の項目を更新してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（https:// で始まる画像URL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されている画像のURLを入力してください。ローカルネットワークやプライベートIPは許可されていません。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
