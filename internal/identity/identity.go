// Package identity decodes the principal claim issued by the external
// identity provider. Login and sessions are the provider's job.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"branchstock/backend/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid identity token")
	ErrForbidden    = errors.New("principal may not act on this branch")
)

type principalClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	Branch string `json:"branch,omitempty"`
}

type Decoder struct {
	secret []byte
}

func NewDecoder(secret string) (*Decoder, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity: secret is required")
	}
	return &Decoder{secret: []byte(secret)}, nil
}

// Decode verifies an HS256 token and returns its normalised principal.
func (d *Decoder) Decode(tokenStr string) (domain.Principal, error) {
	claims := &principalClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return d.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	p := domain.Principal{
		Username: domain.NormalizeUsername(claims.Subject),
		Role:     domain.Role(claims.Role),
		Branch:   domain.NormalizeID(claims.Branch),
	}
	if p.Username == "" || !p.Role.Valid() {
		return domain.Principal{}, fmt.Errorf("%w: missing subject or unknown role %q", ErrInvalidToken, claims.Role)
	}
	if p.Role.BranchScoped() && p.Branch == "" {
		return domain.Principal{}, fmt.Errorf("%w: role %s requires a branch", ErrInvalidToken, p.Role)
	}
	return p, nil
}

// Sign issues a token the way the identity provider does. Used by tooling
// and tests.
func (d *Decoder) Sign(p domain.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := principalClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   p.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
		Role:   string(p.Role),
		Branch: p.Branch,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(d.secret)
}

// RequireBranchScope allows branch mutations only to Branch and User
// principals of that same branch.
func RequireBranchScope(p domain.Principal, branch string) error {
	if !p.Role.BranchScoped() {
		return fmt.Errorf("%w: role %s is read-only for branch data", ErrForbidden, p.Role)
	}
	if domain.NormalizeID(p.Branch) != domain.NormalizeID(branch) {
		return fmt.Errorf("%w: %s belongs to %s", ErrForbidden, p.Username, p.Branch)
	}
	return nil
}

func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("identity: empty password")
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyPassword is exposed for the identity provider side; the core never
// checks credentials.
func VerifyPassword(hash string, password string) bool {
	if !IsPasswordHash(hash) || strings.TrimSpace(password) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func IsPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
