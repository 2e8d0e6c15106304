package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/putto11262002/arena/pkg/router"
)

const (
	key sessionKey = "session"
	// TokenQueryParam carries the token on websocket upgrades, where browsers cannot set headers.
	TokenQueryParam = "token"
)

type sessionKey = string

// Session is the authenticated participant of a request.
type Session struct {
	UID string
}

func contextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, key, session)
}

func sessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(key).(Session)
	return session, ok
}

// SessionFromRequest extracts the session from the request context.
// It must be called in handlers that are protected by the JWTMiddleware.
// It panics if the session is not found in the request context.
func SessionFromRequest(r *http.Request) Session {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		panic("session not found in request context: call this function in handlers that are protected by JWTMiddleware")
	}
	return session
}

// TokenFromRequest returns the bearer token of the Authorization header, falling back to the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// JWTMiddleware extracts the JWT token from the request, validates it and attaches the session to the request context.
// The session is guaranteed to be attached to the request context for subsequent handlers.
func JWTMiddleware(secret []byte) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		authErr := router.NewJsonError(http.StatusUnauthorized, "unauthenticated")

		return router.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			token := TokenFromRequest(r)
			if token == "" {
				return authErr
			}

			claims, err := VerifyToken(token, secret)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					return router.NewJsonError(http.StatusUnauthorized, ErrTokenExpired.Error())
				}
				return authErr
			}

			newCtx := contextWithSession(r.Context(), Session{UID: claims.UID()})
			next.ServeHTTP(w, r.WithContext(newCtx))
			return nil
		})
	}
}
