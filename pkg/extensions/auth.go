// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned when a token cannot be validated.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity attached to a request after authentication.
//
// UserID keys the caller's long-term memories, so two people must never
// share one.
type AuthInfo struct {
	// UserID is never empty.
	UserID string

	// Anonymous is true when no token was presented and the identity came
	// from a permissive provider.
	Anonymous bool

	Roles []string
}

// HasRole reports whether the identity carries role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates a bearer token and returns the caller's identity.
//
// An empty token is passed through so that providers can decide whether
// anonymous access is allowed.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as the local user.
type NopAuthProvider struct{}

// LocalUserID is the identity NopAuthProvider returns.
const LocalUserID = "local-user"

// Validate always succeeds. The returned identity is marked anonymous so
// the API can still honour a user id supplied in the request body.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: LocalUserID, Anonymous: true}, nil
}

// StaticTokenAuthProvider maps pre-shared API tokens to user ids.
type StaticTokenAuthProvider struct {
	tokens map[string]string
}

// NewStaticTokenAuthProvider builds a provider from a token → user id map.
func NewStaticTokenAuthProvider(tokens map[string]string) *StaticTokenAuthProvider {
	copied := make(map[string]string, len(tokens))
	for token, user := range tokens {
		token = strings.TrimSpace(token)
		if token != "" && user != "" {
			copied[token] = user
		}
	}
	return &StaticTokenAuthProvider{tokens: copied}
}

// ParseTokenList parses "token1:alice,token2:bob" into a map.
func ParseTokenList(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("malformed token entry %q, expected token:user", pair)
		}
		out[token] = user
	}
	return out, nil
}

// Validate compares token against every known token in constant time.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	var matched string
	for known, user := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			matched = user
		}
	}
	if matched == "" {
		return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	return &AuthInfo{UserID: matched, Roles: []string{"analyst"}}, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenAuthProvider)(nil)
)
