// Package auth resolves bearer credentials into users.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const (
	RoleAdmin = "admin"

	// PermAssetAccess gates every scan route.
	PermAssetAccess = "assets:access"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type User struct {
	ID          string   `json:"id"`
	OrgID       string   `json:"orgId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Can reports whether the user holds perm. Admins hold every permission.
func (u User) Can(perm string) bool {
	if u.IsAdmin() {
		return true
	}
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

type Claims struct {
	OrgID       string   `json:"org_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.StandardClaims
}

type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (a *Authenticator) Mint(u User) (string, error) {
	if u.ID == "" {
		return "", errors.New("user id is required")
	}
	now := a.now()
	claims := Claims{
		OrgID:       u.OrgID,
		Role:        u.Role,
		Permissions: u.Permissions,
		StandardClaims: jwt.StandardClaims{
			Subject:   u.ID,
			Issuer:    a.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(a.ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(token string) (User, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return User{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return User{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return User{
		ID:          claims.Subject,
		OrgID:       claims.OrgID,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}

// FromHeader parses an "Authorization: Bearer <token>" value.
func (a *Authenticator) FromHeader(header string) (User, error) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return User{}, ErrMissingToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return User{}, ErrMissingToken
	}
	return a.Parse(token)
}
