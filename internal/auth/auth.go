// Package auth resolves the participant behind a request from a signed JWT.
// Tokens are issued by the account service; chatterd only verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/johndosdos/chatterd/internal/model"
)

type ContextKey string

const IdentityKey ContextKey = "identity"

var ErrNoToken = errors.New("internal/auth: no token in request")

// Identity is the authenticated participant of a request.
type Identity struct {
	Site        model.SiteID
	Participant model.Participant
	DisplayName string
	Avatar      string
}

// Claims carries the identity in a token. The subject is the participant id.
type Claims struct {
	jwt.RegisteredClaims
	Site   string `json:"site"`
	Kind   string `json:"kind"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Verifier checks tokens signed with an HMAC secret.
type Verifier struct {
	Secret string
	Issuer string
}

func (v Verifier) MakeJWT(id Identity, expiresIn time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.Issuer,
			Subject:   id.Participant.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
		Site:   string(id.Site),
		Kind:   string(id.Participant.Kind),
		Name:   id.DisplayName,
		Avatar: id.Avatar,
	})

	return token.SignedString([]byte(v.Secret))
}

func (v Verifier) ValidateJWT(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(v.Secret), nil },
		opts...,
	)
	if err != nil {
		return Identity{}, fmt.Errorf("internal/auth: failed to parse token: %w", err)
	}

	if !token.Valid {
		return Identity{}, errors.New("internal/auth: token is invalid")
	}

	if claims.Subject == "" {
		return Identity{}, errors.New("internal/auth: subject claim is missing")
	}
	if claims.Site == "" {
		return Identity{}, errors.New("internal/auth: site claim is missing")
	}

	p := model.Participant{Kind: model.ParticipantKind(claims.Kind), ID: claims.Subject}
	if !p.Kind.Valid() {
		return Identity{}, fmt.Errorf("internal/auth: invalid participant kind %q", claims.Kind)
	}

	name := claims.Name
	if name == "" {
		name = p.ID
	}

	return Identity{
		Site:        model.SiteID(claims.Site),
		Participant: p,
		DisplayName: name,
		Avatar:      claims.Avatar,
	}, nil
}

// TokenFromRequest looks for a bearer token, then the access_token query
// parameter (browsers cannot set headers on websocket upgrades), then the
// jwt cookie.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
			return "", errors.New("internal/auth: malformed authorization header")
		}
		return strings.TrimSpace(tok), nil
	}

	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return tok, nil
	}

	if c, err := r.Cookie("jwt"); err == nil && c.Value != "" {
		return c.Value, nil
	}

	return "", ErrNoToken
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentityFromContext returns the identity stored by the middleware.
func GetIdentityFromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	if !ok || id.Participant.ID == "" {
		return Identity{}, errors.New("internal/auth: identity not found in context")
	}
	return id, nil
}
