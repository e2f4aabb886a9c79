// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth guards the administrative endpoints with a shared token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ManuGH/segsplit/internal/log"
)

// HeaderAdminToken carries the admin token.
const HeaderAdminToken = "X-Admin-Token"

// ExtractToken retrieves the admin token from r, in order:
//  1. Authorization: Bearer <token>
//  2. X-Admin-Token header
//  3. ?token= query parameter, if allowQuery
func ExtractToken(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if t := strings.TrimSpace(r.Header.Get(HeaderAdminToken)); t != "" {
		return t
	}
	if allowQuery {
		if t := r.URL.Query().Get("token"); t != "" {
			log.L().Debug().
				Str(log.FieldPath, r.URL.Path).
				Str(log.FieldRemoteIP, r.RemoteAddr).
				Msg("admin token passed as query parameter")
			return t
		}
	}
	return ""
}

// AuthorizeToken reports whether got matches expected in constant time.
// Empty tokens never match.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// AuthorizeRequest extracts a token from r and validates it against expected.
func AuthorizeRequest(r *http.Request, expected string, allowQuery bool) bool {
	if r == nil {
		return false
	}
	return AuthorizeToken(ExtractToken(r, allowQuery), expected)
}
