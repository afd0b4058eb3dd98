// Package token реализует подпись и разбор JWT сервиса bchgate: и токены
// сессии, и продаваемые API-токены.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid возвращается для токена с неверной подписью или структурой.
var ErrTokenInvalid = errors.New("token is invalid")

// Claims — полезная нагрузка API-токена и токена сессии.
type Claims struct {
	UserID   int64 `json:"user_id"`
	APILevel int   `json:"api_level"`
	jwt.RegisteredClaims
}

// Signer подписывает и проверяет JWT общесервисным секретом. Секрет
// загружается на старте процесса и далее не меняется.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner создаёт Signer с указанным секретом.
func NewSigner(secret string) *Signer {
	return &Signer{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Sign выпускает подписанный токен для пользователя с указанным уровнем
// тарифа и моментом истечения.
func (s *Signer) Sign(userID int64, apiLevel int, exp time.Time) (string, error) {
	claims := Claims{
		UserID:   userID,
		APILevel: apiLevel,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse проверяет подпись и срок действия токена и возвращает его claims.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
