package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/goIdentity"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by a guard.
func AuthResultFromContext(ctx context.Context) (*goIdentity.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*goIdentity.AuthResult)
	return res, ok
}

// RequireAuth rejects requests without a valid bearer access token.
func RequireAuth(engine *goIdentity.Engine) func(http.Handler) http.Handler {
	return RequirePermission(engine)
}

// RequirePermission rejects requests whose token lacks any of perms with 403.
// Missing or invalid tokens get 401.
func RequirePermission(engine *goIdentity.Engine, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, goIdentity.ErrUnauthenticated)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, goIdentity.ErrUnauthenticated)
				return
			}

			res, err := engine.Authorize(r.Context(), token, perms...)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, &res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientMetadata records the peer address and User-Agent for the Engine.
// It trusts RemoteAddr only; put a proxy-aware middleware in front when
// running behind a load balancer.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ctx = goIdentity.WithClientIP(ctx, host)
		} else if r.RemoteAddr != "" {
			ctx = goIdentity.WithClientIP(ctx, r.RemoteAddr)
		}
		if ua := r.UserAgent(); ua != "" {
			ctx = goIdentity.WithDeviceName(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WriteError renders err with its mapped status and a client safe body.
func WriteError(w http.ResponseWriter, err error) {
	status := goIdentity.StatusCode(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": goIdentity.Describe(err)})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
