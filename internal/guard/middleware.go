package guard

import (
	"context"
	"net/http"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/middleware"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// Authorizer confirms that a client's session may gate protected operations
type Authorizer interface {
	Authorize(ctx context.Context, clientID string) (domain.Session, error)
}

type sessionKey struct{}

// Require protects server routes with rule. Unauthenticated clients get 401,
// clients of another user type 403.
func Require(authz Authorizer, rule Rule, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := middleware.ClientIDFrom(r.Context())
			if clientID == "" {
				middleware.WriteError(w, r, apperrors.NewAuthenticationError("Please sign in."), log)
				return
			}

			sess, err := authz.Authorize(r.Context(), clientID)
			if err != nil {
				middleware.WriteError(w, r, err, log)
				return
			}
			if !rule.Allows(sess.UserType) {
				log.WithFields(map[string]interface{}{
					"client_id": clientID,
					"user_type": sess.UserType,
					"path":      r.URL.Path,
				}).Warn("Route denied for user type")
				middleware.WriteError(w, r, apperrors.NewAuthorizationError("You do not have access to this area."), log)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFrom returns the session authorized by Require
func SessionFrom(ctx context.Context) (domain.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(domain.Session)
	return sess, ok
}
