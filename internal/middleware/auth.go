package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorKey contextKey = "actorID"

// maxActorLength matches the width of the performed_by and decided_by columns
const maxActorLength = 64

var (
	errMissingActor = errors.New("token has no actor claim")
	errActorTooLong = errors.New("token actor claim is too long")
)

// Auth verifies HS256 bearer tokens signed with secret and puts the actor id
// (the user_id claim, falling back to sub) into the request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			actorID, err := validateToken(parts[1], secret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actorID)))
		})
	}
}

func validateToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errMissingActor
	}

	actorID := ""
	if userID, ok := claims["user_id"]; ok && userID != nil {
		actorID = fmt.Sprintf("%v", userID)
	} else if sub, err := claims.GetSubject(); err == nil {
		actorID = sub
	}
	if actorID == "" {
		return "", errMissingActor
	}
	if len(actorID) > maxActorLength {
		return "", errActorTooLong
	}
	return actorID, nil
}

// WithActor returns a context carrying the authenticated actor id
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the actor id set by Auth
func ActorFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorKey).(string)
	return actorID, ok && actorID != ""
}
