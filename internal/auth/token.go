package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/afrivac/internal/model"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultIssuer         = "afrivac"

	// oneTimeCodeDigits はメールで送る確認コードの桁数。
	oneTimeCodeDigits = 6
	// refreshTokenBytes はリフレッシュトークンの乱数バイト数。
	refreshTokenBytes = 30
)

// TokenConfig はTokenServiceの設定。
type TokenConfig struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration
}

// Claims はアクセストークンのクレーム。
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenService はアクセストークン、ワンタイムコード、リフレッシュトークンを発行・検証する。
type TokenService struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenService はTokenServiceを生成する。
// シークレットが空の場合は起動を中断させるためConfigurationErrorを返す。
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, &model.ConfigurationError{Key: "JWT_SECRET", Reason: "signing secret must not be empty"}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}
	return &TokenService{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		accessTTL: cfg.AccessTTL,
		now:       time.Now,
	}, nil
}

// IssueAccessToken はHS256で署名したアクセストークンを発行する。
func (s *TokenService) IssueAccessToken(userID string, role model.Role) (string, error) {
	if userID == "" {
		return "", errors.New("subject must not be empty")
	}
	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken は署名・アルゴリズム・有効期限・発行者を検証してクレームを返す。
// 検証に失敗した場合は理由を問わずInvalidTokenErrorを返す。
func (s *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		slog.Debug("access token rejected", slog.String("error", err.Error()))
		return nil, model.NewInvalidTokenError()
	}
	if claims.Subject == "" {
		return nil, model.NewInvalidTokenError()
	}
	return claims, nil
}

// IssueOneTimeCode は用途付きの数字コードを発行する。
// 戻り値の平文コードはメール送信にのみ使い、永続化するのはハッシュだけにする。
func (s *TokenService) IssueOneTimeCode(purpose model.CodePurpose, ttl time.Duration) (string, *model.OneTimeCode, error) {
	limit := big.NewInt(1)
	for range oneTimeCodeDigits {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate one-time code: %w", err)
	}
	code := fmt.Sprintf("%0*d", oneTimeCodeDigits, n.Int64())

	return code, &model.OneTimeCode{
		Purpose:   purpose,
		Hash:      s.HashOneTimeCode(purpose, code),
		ExpiresAt: s.now().Add(ttl),
	}, nil
}

// HashOneTimeCode はコードを用途と組み合わせてHMAC-SHA256でハッシュ化する。
// 用途が異なれば同じコードでもハッシュは一致しない。
func (s *TokenService) HashOneTimeCode(purpose model.CodePurpose, code string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(purpose))
	mac.Write([]byte{':'})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// IssueRefreshToken は平文のリフレッシュトークンとそのSHA-512ハッシュを返す。
func (s *TokenService) IssueRefreshToken() (plaintext, hash string, err error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	plaintext = hex.EncodeToString(b)
	return plaintext, HashRefreshToken(plaintext), nil
}

// HashRefreshToken はリフレッシュトークンのSHA-512ハッシュ(hex)を返す。
func HashRefreshToken(plaintext string) string {
	sum := sha512.Sum512([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// AccessTTL はアクセストークンの有効期間を返す。
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}
