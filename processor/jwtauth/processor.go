// Package jwtauth provides a processor that authorizes inbound connections with a
// bearer JWT and passes messages through unchanged. The verified claims become the
// session's auth payload.
package jwtauth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viant/mcp-bridge/message"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Processor verifies `Authorization: Bearer <jwt>` headers.
type Processor struct {
	secret    []byte
	publicKey *rsa.PublicKey
	audience  string
}

// New creates a processor; either a secret or a public key is required.
func New(options ...Option) (*Processor, error) {
	ret := &Processor{}
	for _, opt := range options {
		opt(ret)
	}
	if len(ret.secret) == 0 && ret.publicKey == nil {
		return nil, errors.New("jwt auth requires a secret or a public key")
	}
	return ret, nil
}

// Authorize returns the verified jwt.MapClaims. When an audience is configured the
// token must carry it or the server name it is addressed to.
func (p *Processor) Authorize(_ context.Context, serverName, authHeader string) (any, error) {
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, p.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if p.audience != "" {
		audience, _ := claims.GetAudience()
		if !contains(audience, p.audience) && (serverName == "" || !contains(audience, serverName)) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	}
	return claims, nil
}

func (p *Processor) key(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(p.secret) > 0 {
			return p.secret, nil
		}
	case *jwt.SigningMethodRSA:
		if p.publicKey != nil {
			return p.publicKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}

func (p *Processor) ForwardMessageToServer(_ context.Context, _, _ string, msg *message.Message, _ any) (*message.Message, error) {
	return msg, nil
}

func (p *Processor) ReturnMessageToClient(_ context.Context, _, _ string, msg *message.Message, _ any) (*message.Message, error) {
	return msg, nil
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
