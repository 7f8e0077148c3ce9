// Package auth parses bearer and reconnection tokens and mints new
// reconnection tokens (SPEC_FULL.md §6, "Tokens"). The hub never
// inspects token cryptography beyond what golang-jwt verifies; issuing
// access tokens is explicitly out of scope (spec.md §1).
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/models"
)

// Claims is the JWT payload shape for both access and reconnection
// tokens. Reconnection tokens additionally carry Workspace and
// ClientID so the handshake can verify them against the inbound
// request.
type Claims struct {
	jwt.RegisteredClaims

	Roles       []string `json:"roles,omitempty"`
	IsAnonymous bool     `json:"is_anonymous,omitempty"`
	Email       string   `json:"email,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`

	Workspace string `json:"workspace,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
}

// Verifier parses and mints tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// New constructs a Verifier. secret must be non-empty in any
// deployment that accepts remote connections.
func New(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.Unauthenticatedf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil || !parsed.Valid {
		return nil, apperrors.Unauthenticatedf("invalid token: %v", err)
	}
	if claims.Subject == models.RootUserID {
		return nil, apperrors.Unauthenticatedf("%q may not be asserted by a remote token", models.RootUserID)
	}
	return claims, nil
}

// ParseToken verifies a bearer access token and returns the user it
// describes.
func (v *Verifier) ParseToken(token string) (*models.User, error) {
	claims, err := v.parse(token)
	if err != nil {
		return nil, err
	}
	return claimsToUser(claims), nil
}

// ParseReconnectionToken verifies a reconnection token and returns the
// user plus the workspace/client id it was minted for.
func (v *Verifier) ParseReconnectionToken(token string) (*models.User, string, string, error) {
	claims, err := v.parse(token)
	if err != nil {
		return nil, "", "", err
	}
	return claimsToUser(claims), claims.Workspace, claims.ClientID, nil
}

// GenerateReconnectionToken mints a reconnection token for (user, ws,
// clientID) valid for expiresIn.
func (v *Verifier) GenerateReconnectionToken(user *models.User, workspaceName, clientID string, expiresIn time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles:       user.Roles,
		IsAnonymous: user.IsAnonymous,
		Email:       user.Email,
		Parent:      user.Parent,
		Scopes:      user.Scopes,
		Workspace:   workspaceName,
		ClientID:    clientID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func claimsToUser(claims *Claims) *models.User {
	user := &models.User{
		ID:          claims.Subject,
		Roles:       claims.Roles,
		IsAnonymous: claims.IsAnonymous,
		Email:       claims.Email,
		Parent:      claims.Parent,
		Scopes:      claims.Scopes,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Unix()
		user.ExpiresAt = &exp
	}
	return user
}
