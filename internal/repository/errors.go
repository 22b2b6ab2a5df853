package repository

import (
	"errors"

	"github.com/lib/pq"
)

// 一意制約違反をサービス層で判別するためのエラー。
var (
	ErrDuplicateEmail        = errors.New("duplicate email")
	ErrDuplicateFederatedID  = errors.New("duplicate federated id")
	ErrDuplicateRefreshToken = errors.New("duplicate refresh token")
	ErrDuplicateReview       = errors.New("duplicate review")
	ErrDuplicateDestination  = errors.New("duplicate destination")
	ErrDuplicateOneTimeCode  = errors.New("duplicate one-time code")
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// 一意制約（インデックス）名。migrationsの定義と一致させる。
const (
	constraintUsersEmail        = "users_email_key"
	constraintUsersFederatedID  = "users_federated_id_key"
	constraintUsersRefreshToken = "users_refresh_token_hash_key"
	constraintUsersOneTimeCode  = "users_otc_hash_key"
	constraintReviewsUnique     = "reviews_destination_user_key"
	constraintDestinationsName  = "destinations_name_key"
)

// translateUniqueViolation はpqの一意制約違反を対応するエラーに変換する。
// 一意制約違反でなければerrをそのまま返す。
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pgUniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintUsersEmail:
		return ErrDuplicateEmail
	case constraintUsersFederatedID:
		return ErrDuplicateFederatedID
	case constraintUsersRefreshToken:
		return ErrDuplicateRefreshToken
	case constraintUsersOneTimeCode:
		return ErrDuplicateOneTimeCode
	case constraintReviewsUnique:
		return ErrDuplicateReview
	case constraintDestinationsName:
		return ErrDuplicateDestination
	default:
		return err
	}
}
