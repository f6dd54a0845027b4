package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/musa-idm/pkg/domain"
)

const (
	// DefaultTokenTTL is how long a session token stays valid.
	DefaultTokenTTL = 90 * 24 * time.Hour

	// DefaultIssuer is the iss claim of issued tokens.
	DefaultIssuer = "musa-idm"
)

// TokenConfig holds session token configuration.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	// Now overrides the clock used for iat, exp and validation.
	Now func() time.Time
}

// TokenClaims are the claims carried by a session token. IssuedAtMillis
// refines iat to millisecond precision and must fall within iat's second.
type TokenClaims struct {
	jwt.RegisteredClaims
	IssuedAtMillis int64 `json:"iat_ms,omitempty"`
}

// Session is the validated content of a session token.
type Session struct {
	UserID   uuid.UUID
	IssuedAt time.Time
	Expires  time.Time
}

// TokenCodec issues and validates signed, stateless session tokens.
type TokenCodec struct {
	config TokenConfig
	parser *jwt.Parser
}

// NewTokenCodec creates a codec. An empty issuer or zero TTL selects the
// package defaults.
func NewTokenCodec(config TokenConfig) *TokenCodec {
	if config.Issuer == "" {
		config.Issuer = DefaultIssuer
	}
	if config.TTL == 0 {
		config.TTL = DefaultTokenTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TokenCodec{
		config: config,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(config.Now),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithIssuer(config.Issuer),
		),
	}
}

// TTL returns the token lifetime.
func (c *TokenCodec) TTL() time.Duration {
	return c.config.TTL
}

// Issue returns a signed token for userID valid from now for the configured TTL.
func (c *TokenCodec) Issue(userID uuid.UUID) (string, error) {
	now := c.config.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TTL)),
			Issuer:    c.config.Issuer,
			ID:        uuid.NewString(),
		},
		IssuedAtMillis: now.UnixMilli(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.config.Secret)
}

// Validate checks the signature and lifetime of tokenString. An expired token
// returns domain.ErrTokenExpired and anything else malformed or forged returns
// domain.ErrTokenInvalid.
func (c *TokenCodec) Validate(tokenString string) (*Session, error) {
	claims := &TokenClaims{}
	token, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	if !token.Valid || claims.IssuedAt == nil {
		return nil, domain.ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}

	issuedAt := claims.IssuedAt.Time
	if claims.IssuedAtMillis != 0 {
		precise := time.UnixMilli(claims.IssuedAtMillis)
		if precise.Unix() != issuedAt.Unix() {
			return nil, domain.ErrTokenInvalid
		}
		issuedAt = precise
	}

	return &Session{
		UserID:   userID,
		IssuedAt: issuedAt,
		Expires:  claims.ExpiresAt.Time,
	}, nil
}
