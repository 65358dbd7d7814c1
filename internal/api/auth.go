package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/appointment"
)

// RoleAdmin may act on any provider's template and read any appointment.
const RoleAdmin = "admin"

const actorKey contextKey = "actor"

// Claims are issued by the identity service. Subject is the actor's UUID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Authenticate enforces an HMAC-signed bearer token carrying sub and role.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication is not configured")
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			actor, err := parseActor(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseActor(secret, tokenString string) (Actor, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Actor{}, errors.New("invalid token")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Actor{}, errors.New("token subject must be a UUID")
	}
	switch claims.Role {
	case string(appointment.RolePatient), string(appointment.RoleDoctor), RoleAdmin:
	default:
		return Actor{}, errors.New("token role must be patient, doctor or admin")
	}
	return Actor{ID: id, Role: claims.Role}, nil
}

// ActorFromContext returns the authenticated actor if present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// IssueToken signs a token for actorID. Used by the simulator and tests;
// production tokens come from the identity service.
func IssueToken(secret string, actorID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
