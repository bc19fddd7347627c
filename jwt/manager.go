package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	minSecretBytes = 32

	kindAccess  = "access"
	kindRefresh = "refresh"
)

var (
	// ErrTokenMalformed is returned when the input is not a structurally valid token.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignature is returned when the signature does not verify or the
	// token was minted for another purpose.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenExpired is returned for a correctly signed token past its exp.
	ErrTokenExpired = errors.New("token expired")
)

// Config defines token lifetimes and the shared HMAC secret.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	// Now overrides the clock used for both issuance and expiry checks.
	Now func() time.Time
}

// Manager issues and verifies HS384 tokens.
type Manager struct {
	config Config
	now    func() time.Time
}

// AccessClaims is the claim set carried by access tokens.
type AccessClaims struct {
	SID   string `json:"sid"`
	Scope string `json:"scope"`
	Kind  string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set carried by refresh tokens.
type RefreshClaims struct {
	SID  string `json:"sid"`
	Kind string `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *AccessClaims) UserID() string { return c.Subject }

// UserID returns the subject of the token.
func (c *RefreshClaims) UserID() string { return c.Subject }

// NewManager validates cfg and returns a ready [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if len(cfg.Secret) < minSecretBytes {
		return nil, errors.New("hs384 requires a secret of at least 32 bytes")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// SignAccess mints an access token for the session and returns it with its expiry.
func (m *Manager) SignAccess(userID, sessionID, scope string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.config.AccessTTL)
	claims := AccessClaims{
		SID:              sessionID,
		Scope:            scope,
		Kind:             kindAccess,
		RegisteredClaims: m.registered(userID, now, exp),
	}
	token, err := m.sign(claims)
	return token, exp, err
}

// SignRefresh mints a refresh token for the session and returns it with its expiry.
func (m *Manager) SignRefresh(userID, sessionID string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.config.RefreshTTL)
	claims := RefreshClaims{
		SID:              sessionID,
		Kind:             kindRefresh,
		RegisteredClaims: m.registered(userID, now, exp),
	}
	token, err := m.sign(claims)
	return token, exp, err
}

// ParseAccess verifies an access token. Errors are one of [ErrTokenMalformed],
// [ErrTokenSignature] or [ErrTokenExpired].
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Kind != kindAccess {
		return nil, ErrTokenSignature
	}
	if claims.Subject == "" || claims.SID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token with the same error contract as ParseAccess.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Kind != kindRefresh {
		return nil, ErrTokenSignature
	}
	if claims.Subject == "" || claims.SID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (m *Manager) registered(userID string, now, exp time.Time) jwt.RegisteredClaims {
	// jti keeps two tokens minted in the same second distinct.
	return jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    m.config.Issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(m.config.Secret)
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS384.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		return classify(err)
	}
	if !token.Valid {
		return ErrTokenSignature
	}
	return nil
}

// classify collapses library errors into the three outcomes callers act on.
// The library verifies the signature before validating claims, so an expired
// error always belongs to an authentic token.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenSignature
	}
}
