package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller. A service principal (the scheduler)
// may act for any user; a user principal only for itself.
type Principal struct {
	UserID  string
	Service bool
}

func (p Principal) CanActFor(userID string) bool {
	return p.Service || (p.UserID != "" && p.UserID == userID)
}

type Manager struct {
	Secret []byte
	// ServiceKeyHash is the bcrypt hash of the service key. Empty disables
	// service authentication.
	ServiceKeyHash []byte
}

func NewManager(secret, serviceKeyHash string) *Manager {
	m := &Manager{Secret: []byte(secret)}
	if serviceKeyHash != "" {
		m.ServiceKeyHash = []byte(serviceKeyHash)
	}
	return m
}

// HashKey returns the bcrypt hash stored as SERVICE_KEY_HASH.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (m *Manager) VerifyServiceKey(key string) bool {
	if len(m.ServiceKeyHash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(m.ServiceKeyHash, []byte(key)) == nil
}

func (m *Manager) GenerateToken(userID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.Secret)
}

func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate accepts a user JWT or the service key. JWTs are tried first
// so user requests never pay for a bcrypt comparison.
func (m *Manager) Authenticate(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	claims, err := m.ParseToken(token)
	if err == nil {
		return Principal{UserID: claims.UserID}, nil
	}
	if m.VerifyServiceKey(token) {
		return Principal{Service: true}, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Principal{}, err
	}
	return Principal{}, ErrInvalidToken
}

func TokenFromRequest(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
