package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"chainspace.org/internal/audit"
	"chainspace.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// callerHeader and rolesHeader supply the acting identity and its roles
	// when auth is disabled. They are trusted as-is in that mode.
	callerHeader = "X-Caller"
	rolesHeader  = "X-Roles"
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if !a.authEnabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if caller := strings.TrimSpace(r.Header.Get(callerHeader)); caller != "" {
				ctx := audit.WithCaller(r.Context(), caller)
				// Governance checks read a principal from the context, so
				// the header identity gets one here too.
				ctx = auth.ContextWithPrincipal(ctx, auth.Principal{
					Subject: caller,
					Roles:   splitRoles(r.Header.Get(rolesHeader)),
				})
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		principal := auth.Principal{Subject: claims.Subject, Roles: claims.Roles}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithCaller(ctx, principal.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// caller resolves the acting identity for the request.
func (a *API) caller(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return p.Subject
	}
	return strings.TrimSpace(r.Header.Get(callerHeader))
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// splitRoles parses the comma-separated roles header, dropping blanks.
func splitRoles(header string) []string {
	var roles []string
	for _, part := range strings.Split(header, ",") {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
