// Copyright (c) 2023 BVK Chaitanya

// Package credential supplies bearer tokens for the auction service.
//
// Bidding code only depends on the Provider interface. Store persists the
// operator's tokens in the database and Refresher keeps them fresh in the
// background.
package credential

import (
	"context"
	"errors"
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

// ErrNotAuthenticated is returned when no usable bearer token is available.
var ErrNotAuthenticated = errors.New("not authenticated")

// Provider returns the current bearer token or fails with ErrNotAuthenticated.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a Provider with a fixed token, typically from the environment.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if len(s) == 0 {
		return "", ErrNotAuthenticated
	}
	return string(s), nil
}

// Expiry returns the "exp" claim of a JWT bearer token. Signature is not
// verified; the service is the only party that needs to trust the token.
func Expiry(token string) (time.Time, bool) {
	tok, err := jwt.ParseSigned(token)
	if err != nil {
		return time.Time{}, false
	}
	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, false
	}
	if claims.Expiry == nil {
		return time.Time{}, false
	}
	return claims.Expiry.Time(), true
}
