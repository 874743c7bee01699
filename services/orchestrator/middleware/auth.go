// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware of the DataNexus API:
// bearer-token authentication, per-client rate limiting and CORS.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// With the default NopAuthProvider every request is an anonymous
// "local-user", and handlers fall back to the user named in the request
// body for long-term memory.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/gin-gonic/gin"
)

const authInfoKey = "datanexus_auth_info"

// SetAuthInfo stores info in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the AuthInfo stored by AuthMiddleware, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// ResolveUserID picks the identity that owns a request's memories.
//
// # Description
//
// An authenticated caller is always identified by its token. Anonymous
// callers may name themselves (the OpenAI "user" field); otherwise
// fallback is used.
func ResolveUserID(c *gin.Context, claimed, fallback string) string {
	if info := GetAuthInfo(c); info != nil && !info.Anonymous && info.UserID != "" {
		return info.UserID
	}
	if claimed = strings.TrimSpace(claimed); claimed != "" {
		return claimed
	}
	return fallback
}

// AuthMiddleware validates the bearer token of every request.
//
// # Description
//
// The token (possibly empty) is passed to provider. On success the
// returned AuthInfo is stored for GetAuthInfo; on failure the request is
// aborted with 401.
//
// # Inputs
//
//   - provider: Token validator. Must be safe for concurrent use.
//
// # Outputs
//
//   - gin.HandlerFunc: The middleware.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			slog.Warn("Request rejected by auth provider",
				"path", c.FullPath(), "client_ip", c.ClientIP(), "token_present", token != "")
			msg := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				msg = "unauthorized"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken returns the token of an "Authorization: Bearer"
// header, or "".
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
