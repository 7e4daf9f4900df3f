// Package identity resolves bearer tokens into principals and answers role
// membership questions for the approval engine. The engine itself never
// stores credentials; tokens are minted by the surrounding SSO system.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/lab-booking/internal/application"
)

// ErrInvalidToken is returned for tokens that fail parsing or verification.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims is the token payload the engine understands.
type Claims struct {
	Roles        []string `json:"roles,omitempty"`
	TrainingTier int      `json:"training_tier,omitempty"`
	Admin        bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Resolver turns a bearer token into a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (application.Principal, error)
}

// TokenResolver verifies HMAC-signed tokens against a shared secret.
type TokenResolver struct {
	secret []byte
}

// NewTokenResolver returns a resolver for HS256 tokens signed with secret.
func NewTokenResolver(secret string) *TokenResolver {
	return &TokenResolver{secret: []byte(secret)}
}

// Resolve parses and verifies the token and maps its claims to a principal.
func (r *TokenResolver) Resolve(_ context.Context, token string) (application.Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return application.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return application.Principal{}, ErrInvalidToken
	}
	return application.Principal{
		UserID:       claims.Subject,
		Roles:        claims.Roles,
		TrainingTier: claims.TrainingTier,
		IsAdmin:      claims.Admin,
	}, nil
}

// Directory answers role membership questions from static configuration,
// mapping role names to the user IDs that hold them.
type Directory struct {
	members map[string][]string
}

// NewDirectory builds a directory from a role to member-IDs mapping.
func NewDirectory(members map[string][]string) *Directory {
	copied := make(map[string][]string, len(members))
	for role, ids := range members {
		copied[role] = append([]string(nil), ids...)
	}
	return &Directory{members: copied}
}

// HasActiveApprover reports whether any user holds the role.
func (d *Directory) HasActiveApprover(_ context.Context, role string) (bool, error) {
	return len(d.members[role]) > 0, nil
}

// HoldsRole reports whether the user holds the role.
func (d *Directory) HoldsRole(_ context.Context, userID, role string) (bool, error) {
	for _, member := range d.members[role] {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}
