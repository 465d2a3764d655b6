package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims are carried by host-issued sign-in tokens.
type CustomClaims struct {
	Name  string `json:"name,omitempty"`
	AppID string `json:"app_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueCustomToken signs an HS256 token that SignIn accepts for uid.
func IssueCustomToken(secret, appID, uid, name string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("token secret is required")
	}
	now := time.Now()
	claims := CustomClaims{
		Name:  name,
		AppID: appID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

type tokenVerifier struct {
	secret []byte
	appID  string
}

func (v tokenVerifier) verify(raw string) (*CustomClaims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("no token secret configured")
	}

	claims := &CustomClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if claims.AppID != "" && claims.AppID != v.appID {
		return nil, fmt.Errorf("token issued for app %q", claims.AppID)
	}
	return claims, nil
}
