package server

import (
	"net/http"
	"strings"
)

// Authenticator resolves bearer tokens to principal names. An empty key set
// rejects every caller, so an unconfigured server cannot be used by accident.
type Authenticator struct {
	keys map[string]string
}

// NewAuthenticator builds an authenticator over a token-to-principal map.
func NewAuthenticator(keys map[string]string) *Authenticator {
	return &Authenticator{keys: keys}
}

// Principal returns the principal for the request's bearer token, or false
// if the request carries no valid credential.
func (a *Authenticator) Principal(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	principal, ok := a.keys[token]
	return principal, ok
}
