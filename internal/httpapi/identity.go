package httpapi

import (
	"net/http"
	"strings"
)

// IdentityResolver extracts the calling user's id from a request. The
// passthrough implementation below is a placeholder scheme; a token-verifying
// resolver can replace it without touching the handlers.
type IdentityResolver interface {
	// Resolve returns the user id or an empty string when the request
	// carries no identity.
	Resolve(r *http.Request) string
}

// PassthroughResolver trusts a caller-supplied uid from the X-User-Uid
// header or the uid query parameter.
type PassthroughResolver struct{}

func (PassthroughResolver) Resolve(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get("X-User-Uid")); uid != "" {
		return uid
	}
	return strings.TrimSpace(r.URL.Query().Get("uid"))
}
