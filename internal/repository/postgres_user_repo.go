package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/afrivac/internal/model"
)

// userColumns はSELECT/RETURNINGで共通に使うusersテーブルの列。
// scanUserの引数順と一致させること。
const userColumns = `id, email, name, country, phone, photo_url, role, password_hash,
	federated_id, federated_tokens, otc_purpose, otc_hash, otc_expires_at,
	refresh_token_hash, active, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "lower(email) = lower($1)", strings.TrimSpace(email))
}

// FindByFederatedID はGoogleのsubでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByFederatedID(ctx context.Context, federatedID string) (*model.User, error) {
	return r.findOne(ctx, "federated_id = $1", federatedID)
}

// FindByRefreshTokenHash はリフレッシュトークンのハッシュでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByRefreshTokenHash(ctx context.Context, hash string) (*model.User, error) {
	return r.findOne(ctx, "refresh_token_hash = $1", hash)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where,
		arg,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// List は全ユーザーを作成日時の新しい順に返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	tokens, err := marshalTokens(user.FederatedTokens)
	if err != nil {
		return err
	}
	otcPurpose, otcHash, otcExpires := otcArgs(user.OneTimeCode)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, country, phone, photo_url, role, password_hash,
		                    federated_id, federated_tokens, otc_purpose, otc_hash, otc_expires_at,
		                    refresh_token_hash, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		user.ID, user.Email, user.Name, user.Country, user.Phone, user.PhotoURL, string(user.Role), user.PasswordHash,
		nullString(user.FederatedID), tokens, otcPurpose, otcHash, otcExpires,
		nullString(user.RefreshTokenHash), user.Active, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if dup := translateUniqueViolation(err); dup != err {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateByID はパッチの非nil項目だけを更新し、更新後のユーザーを返す。
// 対象ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) UpdateByID(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Country != nil {
		set("country", *patch.Country)
	}
	if patch.Phone != nil {
		set("phone", *patch.Phone)
	}
	if patch.PhotoURL != nil {
		set("photo_url", *patch.PhotoURL)
	}
	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.FederatedID != nil {
		set("federated_id", nullString(*patch.FederatedID))
	}
	if patch.FederatedTokens != nil {
		tokens, err := marshalTokens(patch.FederatedTokens)
		if err != nil {
			return nil, err
		}
		set("federated_tokens", tokens)
	} else if patch.ClearFederatedTokens {
		sets = append(sets, "federated_tokens = NULL")
	}
	if patch.Active != nil {
		set("active", *patch.Active)
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		if dup := translateUniqueViolation(err); dup != err {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// SetOneTimeCode はワンタイムコードの枠を上書きする。nilを渡すと枠をクリアする。
// 用途・ハッシュ・期限は必ず同時に設定またはクリアされる。
func (r *PostgresUserRepo) SetOneTimeCode(ctx context.Context, id string, code *model.OneTimeCode) error {
	purpose, hash, expires := otcArgs(code)
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET otc_purpose = $1, otc_hash = $2, otc_expires_at = $3, updated_at = now()
		 WHERE id = $4`,
		purpose, hash, expires, id,
	)
	if err != nil {
		if dup := translateUniqueViolation(err); dup != err {
			return dup
		}
		return fmt.Errorf("failed to set one-time code: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// ConsumeOneTimeCode はコードの照合と消費を1つのUPDATEで行う。
// 同じコードを並行して提示しても、成功するのは1リクエストだけになる。
// 更新対象は常に1行に限る。
func (r *PostgresUserRepo) ConsumeOneTimeCode(ctx context.Context, purpose model.CodePurpose, hash string, now time.Time) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET otc_purpose = NULL, otc_hash = NULL, otc_expires_at = NULL,
		     active = CASE WHEN $1 = 'CONFIRM_EMAIL' THEN TRUE ELSE active END,
		     updated_at = now()
		 WHERE id = (
		     SELECT id FROM users
		     WHERE otc_purpose = $1 AND otc_hash = $2 AND otc_expires_at > $3
		     LIMIT 1
		     FOR UPDATE
		 )
		 RETURNING `+userColumns,
		string(purpose), hash, now,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume one-time code: %w", err)
	}
	return user, nil
}

// SwapRefreshTokenHash は保存済みハッシュがoldHashと一致する場合のみnewHashに置き換える。
func (r *PostgresUserRepo) SwapRefreshTokenHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = $1, updated_at = now()
		 WHERE id = $2 AND refresh_token_hash IS NOT DISTINCT FROM $3`,
		nullString(newHash), id, nullString(oldHash),
	)
	if err != nil {
		if dup := translateUniqueViolation(err); dup != err {
			return false, dup
		}
		return false, fmt.Errorf("failed to swap refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ClearExpiredOneTimeCodes は期限切れのワンタイムコードをクリアする。
func (r *PostgresUserRepo) ClearExpiredOneTimeCodes(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET otc_purpose = NULL, otc_hash = NULL, otc_expires_at = NULL
		 WHERE otc_expires_at IS NOT NULL AND otc_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired one-time codes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var (
		role                     string
		federatedID, refreshHash sql.NullString
		otcPurpose, otcHash      sql.NullString
		otcExpires               sql.NullTime
		tokens                   []byte
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Country, &u.Phone, &u.PhotoURL, &role, &u.PasswordHash,
		&federatedID, &tokens, &otcPurpose, &otcHash, &otcExpires,
		&refreshHash, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Role = model.Role(role)
	u.FederatedID = federatedID.String
	u.RefreshTokenHash = refreshHash.String
	if otcPurpose.Valid && otcHash.Valid && otcExpires.Valid {
		u.OneTimeCode = &model.OneTimeCode{
			Purpose:   model.CodePurpose(otcPurpose.String),
			Hash:      otcHash.String,
			ExpiresAt: otcExpires.Time,
		}
	}
	if len(tokens) > 0 {
		var t model.FederatedTokens
		if err := json.Unmarshal(tokens, &t); err != nil {
			return nil, fmt.Errorf("failed to decode federated tokens: %w", err)
		}
		u.FederatedTokens = &t
	}
	return u, nil
}

func marshalTokens(t *model.FederatedTokens) (any, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode federated tokens: %w", err)
	}
	return b, nil
}

func otcArgs(code *model.OneTimeCode) (sql.NullString, sql.NullString, sql.NullTime) {
	if code == nil {
		return sql.NullString{}, sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: string(code.Purpose), Valid: true},
		sql.NullString{String: code.Hash, Valid: true},
		sql.NullTime{Time: code.ExpiresAt, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
