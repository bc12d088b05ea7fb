package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fablink/internal/repository"
	"fablink/internal/service"
)

type ctxKey int

const actorKey ctxKey = iota

// IdentityResolver turns the gateway-provided user header into an Actor.
// Authentication itself lives with the external identity provider; this layer
// only resolves the already-verified user ID and applies the admin allowlist
// injected at construction.
type IdentityResolver struct {
	users  repository.Users
	admins map[string]struct{}
	logger *zap.Logger
}

func NewIdentityResolver(users repository.Users, adminIDs []string, logger *zap.Logger) *IdentityResolver {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &IdentityResolver{users: users, admins: admins, logger: logger}
}

func (m *IdentityResolver) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid identity", http.StatusUnauthorized)
			return
		}
		user, err := m.users.GetByID(r.Context(), id)
		if err != nil {
			m.logger.Debug("identity lookup failed", zap.String("user_id", raw), zap.Error(err))
			http.Error(w, "unknown identity", http.StatusUnauthorized)
			return
		}
		actor := service.Actor{User: user}
		if _, ok := m.admins[raw]; ok {
			actor.Admin = true
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the resolved caller; the second value is false on routes
// that skipped Resolve.
func ActorFrom(ctx context.Context) (service.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(service.Actor)
	return actor, ok
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || !actor.Admin {
			http.Error(w, "admin only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs every request with its duration.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("took", time.Since(start)))
		})
	}
}
