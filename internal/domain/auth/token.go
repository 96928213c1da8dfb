// Package auth issues and verifies the bearer tokens that gate every
// administrative endpoint. Tokens are stateless HS256 JWTs carrying
// {identity, role, expiry}; nothing is stored server-side.
package auth

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin is the only role accepted by Verify.
const RoleAdmin = "admin"

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = 24 * time.Hour

var (
	ErrMissing            = errors.New("Authorization required")
	ErrMalformed          = errors.New("Invalid token")
	ErrExpired            = errors.New("Token expired")
	ErrForbidden          = errors.New("Insufficient permissions")
	ErrInvalidCredentials = errors.New("Invalid credentials")
)

// Claims is the payload of an admin token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the administrator the token was issued to.
func (c *Claims) Identity() string { return c.Subject }

// Credentials is the configured administrator identity/secret pair.
// When PasswordHash is set it is a bcrypt hash and takes precedence over
// Password.
type Credentials struct {
	Username     string
	Password     string
	PasswordHash string
}

// Config configures an Authority.
type Config struct {
	Admin  Credentials
	Secret []byte
	TTL    time.Duration
}

// Authority issues and verifies admin tokens.
type Authority struct {
	admin  Credentials
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthority creates an Authority. The signing secret must be non-empty.
func NewAuthority(cfg Config) (*Authority, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.Admin.Username == "" || (cfg.Admin.Password == "" && cfg.Admin.PasswordHash == "") {
		return nil, errors.New("admin username and password are required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authority{
		admin:  cfg.Admin,
		secret: cfg.Secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue checks the presented pair against the configured administrator and
// returns a signed token expiring TTL from now.
func (a *Authority) Issue(username, password string) (string, time.Time, error) {
	if !a.checkCredentials(username, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.now()
	expiry := now.Add(a.ttl)
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	signed, err := a.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiry, nil
}

func (a *Authority) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

func (a *Authority) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.admin.Username)) == 1
	var passOK bool
	if a.admin.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(a.admin.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(a.admin.Password)) == 1
	}
	return userOK && passOK
}

// Verify decodes a presented token. Expiry is checked before role, so an
// expired token fails with ErrExpired whatever role it claims.
func (a *Authority) Verify(presented string) (*Claims, error) {
	if strings.TrimSpace(presented) == "" {
		return nil, ErrMissing
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(presented, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, ErrMalformed
	}

	if claims.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	return &claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissing
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformed
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissing
	}
	return token, nil
}

// IsAuthError reports whether err belongs to the auth taxonomy.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissing) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidCredentials)
}
