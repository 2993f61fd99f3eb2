package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/emoelevate/notesledger/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the uid of the caller.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// Tokens issues and checks HS256 bearer tokens.
type Tokens struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewTokens(secret []byte, validity time.Duration) *Tokens {
	return &Tokens{secret: secret, validity: validity, now: time.Now}
}

func (t *Tokens) IssueToken(uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("%w: empty uid", common.ErrInvalidInput)
	}
	jti, err := common.MakeRandHexString(16)
	if err != nil {
		return "", fmt.Errorf("token id: %w", err)
	}
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.validity)),
		},
		UserID: uid,
	})
	return token.SignedString(t.secret)
}

// ParseToken returns the uid carried by a valid token. Expired tokens yield
// common.ErrTokenExpired, anything else that fails common.ErrInvalidToken.
func (t *Tokens) ParseToken(raw string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", common.ErrInvalidToken
	}
	return claims.UserID, nil
}
