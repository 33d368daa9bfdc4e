// Package sso decodes single-sign-on handoff tokens and extracts the handoff
// parameters carried on a navigation URL.
package sso

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// Decoder verifies HS256 handoff tokens issued by the external site
type Decoder struct {
	secret []byte
	issuer string
	now    func() time.Time
	logger *logger.Logger
}

// NewDecoder creates a decoder. An empty issuer disables the issuer check.
func NewDecoder(secret, issuer string, log *logger.Logger) *Decoder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Decoder{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
		logger: log,
	}
}

// WithClock returns a copy of d that reads time from now
func (d *Decoder) WithClock(now func() time.Time) *Decoder {
	cp := *d
	cp.now = now
	return &cp
}

// Decode verifies the token and returns its claims. It fails with token_expired
// for a past exp claim and token_invalid for anything else.
func (d *Decoder) Decode(tokenString string) (domain.SSOClaims, error) {
	if len(d.secret) == 0 {
		d.logger.Error("SSO_TOKEN_SECRET not configured")
		return domain.SSOClaims{}, apperrors.NewTokenInvalidError(errors.New("sso secret not configured"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(d.now),
	}
	if d.issuer != "" {
		opts = append(opts, jwt.WithIssuer(d.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return d.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			d.logger.Info("SSO token expired")
			return domain.SSOClaims{}, apperrors.NewTokenExpiredError(err)
		}
		d.logger.WithError(err).Warn("SSO token rejected")
		return domain.SSOClaims{}, apperrors.NewTokenInvalidError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return domain.SSOClaims{}, apperrors.NewTokenInvalidError(errors.New("invalid claims"))
	}

	email := domain.NormalizeEmail(stringClaim(claims, "email"))
	identity := stringClaim(claims, "sub")
	if identity == "" {
		// Tokens minted before the sub rename carry uid
		identity = stringClaim(claims, "uid")
	}
	if email == "" || identity == "" {
		return domain.SSOClaims{}, apperrors.NewTokenInvalidError(errors.New("token missing email or subject"))
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return domain.SSOClaims{}, apperrors.NewTokenInvalidError(errors.New("token missing expiry"))
	}

	return domain.SSOClaims{
		Email:     email,
		Identity:  identity,
		ExpiresAt: exp.Time,
		Raw:       tokenString,
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
