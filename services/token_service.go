package services

import (
	"errors"
	"strconv"
	"time"

	"fingergun/apperr"
	"fingergun/models"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "fingergun"

// TokenClaims identify the user and the scheme the token was minted for.
type TokenClaims struct {
	Method     AuthMethod `json:"mth"`
	PlatformID int64      `json:"pid,omitempty"`
	SessionID  string     `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

func (c *TokenClaims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("token subject is not a user id")
	}
	return uint(id), nil
}

// TokenService issues HS256 session tokens after a successful login.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *TokenService) Issue(user *models.User, method AuthMethod) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := TokenClaims{
		Method: method,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	switch method {
	case AuthMethodPlatform:
		if user.PlatformUserID == nil {
			return "", time.Time{}, errors.New("user has no platform identity")
		}
		claims.PlatformID = *user.PlatformUserID
	case AuthMethodSession:
		if user.SessionID == nil {
			return "", time.Time{}, errors.New("user has no session identity")
		}
		claims.SessionID = *user.SessionID
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (s *TokenService) Parse(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeAuthenticationFailed, "invalid token", err)
	}
	return claims, nil
}
