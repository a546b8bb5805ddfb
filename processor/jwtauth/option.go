package jwtauth

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Option configures a Processor.
type Option func(p *Processor)

// WithSecret verifies HMAC signed tokens.
func WithSecret(secret string) Option {
	return func(p *Processor) {
		p.secret = []byte(secret)
	}
}

// WithPublicKey verifies RSA signed tokens.
func WithPublicKey(key *rsa.PublicKey) Option {
	return func(p *Processor) {
		p.publicKey = key
	}
}

// WithAudience requires the aud claim.
func WithAudience(audience string) Option {
	return func(p *Processor) {
		p.audience = audience
	}
}

// ParsePublicKey decodes a PEM encoded RSA public key.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
