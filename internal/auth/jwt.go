package auth

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/geocoder89/feedbackhub/internal/domain/account"
	"github.com/geocoder89/feedbackhub/internal/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	DefaultAccessTTL  = 60 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrSigning      = errors.New("token signing failed")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenType    = errors.New("invalid token type")
)

// Claims is the verified view of a session token.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	Type      string
	JTI       string
	ExpiresAt time.Time
}

// IssuedMetric is notified once per successfully signed token.
type IssuedMetric func(tokenType string)

type Manager struct {
	keys       security.KeySource
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	issued     IssuedMetric
}

func NewManager(keys security.KeySource, accessTTL time.Duration, refreshTTL time.Duration) *Manager {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	return &Manager{
		keys:       keys,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// OnIssued registers a hook used for metrics.
func (m *Manager) OnIssued(fn IssuedMetric) {
	m.issued = fn
}

func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *Manager) IssueAccessToken(claims map[string]any) (string, error) {
	return m.issue(claims, TypeAccess, m.accessTTL)
}

func (m *Manager) IssueRefreshToken(claims map[string]any) (string, error) {
	return m.issue(claims, TypeRefresh, m.refreshTTL)
}

// issue merges caller claims first and stamps iat/exp/type last, so callers can never override them.
func (m *Manager) issue(in map[string]any, tokenType string, ttl time.Duration) (string, error) {
	key, err := m.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigning, err)
	}

	now := m.now().UTC()

	claims := jwt.MapClaims{}
	maps.Copy(claims, in)

	if _, ok := claims["jti"]; !ok {
		claims["jti"] = uuid.NewString()
	}
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))
	claims["type"] = tokenType

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	raw, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigning, err)
	}

	if m.issued != nil {
		m.issued(tokenType)
	}

	return raw, nil
}

type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// IssuePair mints the access/refresh tokens handed out on login.
func (m *Manager) IssuePair(a account.Account) (Pair, error) {
	claims := map[string]any{
		"sub":   a.ID,
		"email": a.Email,
		"role":  a.Role,
	}

	access, err := m.IssueAccessToken(claims)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := m.IssueRefreshToken(claims)
	if err != nil {
		return Pair{}, err
	}

	return Pair{AccessToken: access, RefreshToken: refresh, ExpiresIn: m.accessTTL}, nil
}

func (m *Manager) Verify(tokenStr string, wantType string) (Claims, error) {
	key, err := m.keys.SigningKey()
	if err != nil {
		return Claims{}, err
	}

	mc := jwt.MapClaims{}

	// Enforce HS256
	_, err = jwt.ParseWithClaims(tokenStr, mc, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims := Claims{
		Subject: stringClaim(mc, "sub"),
		Email:   stringClaim(mc, "email"),
		Role:    stringClaim(mc, "role"),
		Type:    stringClaim(mc, "type"),
		JTI:     stringClaim(mc, "jti"),
	}

	exp, err := mc.GetExpirationTime()
	if err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if claims.Type != wantType {
		return Claims{}, ErrTokenType
	}

	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrTokenInvalid)
	}

	return claims, nil
}

func (m *Manager) VerifyAccessToken(tokenStr string) (Claims, error) {
	return m.Verify(tokenStr, TypeAccess)
}

func (m *Manager) VerifyRefreshToken(tokenStr string) (Claims, error) {
	return m.Verify(tokenStr, TypeRefresh)
}

func stringClaim(mc jwt.MapClaims, key string) string {
	v, _ := mc[key].(string)
	return v
}
