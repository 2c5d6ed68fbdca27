package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"barrier.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer"
)

var (
	errMissingHeader   = errors.New("missing Authorization header")
	errMalformedHeader = errors.New("malformed Authorization header")
	errMissingType     = errors.New("missing Authorization type")
	errUnsupportedType = errors.New("unsupported Authorization type")
	errMissingToken    = errors.New("missing Bearer token")
)

// extractBearerToken splits the Authorization header into scheme and token.
// The scheme comparison is case sensitive.
func extractBearerToken(h http.Header) (string, error) {
	values, ok := h[authHeader]
	if !ok || len(values) == 0 {
		return "", errMissingHeader
	}
	header := values[0]
	if !visibleASCII(header) {
		return "", errMalformedHeader
	}
	parts := strings.Fields(header)
	if len(parts) == 0 {
		return "", errMissingType
	}
	if parts[0] != bearer {
		return "", errUnsupportedType
	}
	if len(parts) < 2 {
		return "", errMissingToken
	}
	return parts[1], nil
}

func visibleASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// withClaims authenticates the request and passes the verified claims on.
// Header problems are 400s; a token that fails verification is a 401.
func (a *API) withClaims(next func(w http.ResponseWriter, r *http.Request, claims *auth.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		claims, err := a.sessions.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid Bearer token")
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next(w, r.WithContext(ctx), claims)
	}
}
