package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"nutri-auth/pkg/logger"
)

// ContextKey represents keys used in request context
type ContextKey string

const (
	// ClientIDContextKey is the key for the client id in context
	ClientIDContextKey ContextKey = "client_id"
	// RequestIDContextKey is the key for request ID in context
	RequestIDContextKey ContextKey = "request_id"
)

// ClientCookieName is the cookie carrying the signed client id
const ClientCookieName = "nutri_client"

const clientCookieMaxAge = 365 * 24 * time.Hour

// ClientCookie issues and verifies the signed cookie that identifies a
// browser. Every piece of per-client state is keyed by the id it carries.
type ClientCookie struct {
	codec  *securecookie.SecureCookie
	secure bool
	logger *logger.Logger
}

// NewClientCookie creates a cookie codec. An empty hashKey generates a
// random one, which invalidates every client cookie on restart.
func NewClientCookie(hashKey []byte, secure bool, log *logger.Logger) *ClientCookie {
	if log == nil {
		log = logger.NewNop()
	}
	if len(hashKey) == 0 {
		log.Warn("COOKIE_HASH_KEY not set, using an ephemeral key")
		hashKey = securecookie.GenerateRandomKey(32)
	}
	codec := securecookie.New(hashKey, nil)
	codec.MaxAge(int(clientCookieMaxAge.Seconds()))
	return &ClientCookie{codec: codec, secure: secure, logger: log}
}

// Middleware resolves the client id from the cookie, issuing a new one when
// the cookie is missing or fails verification.
func (c *ClientCookie) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := c.read(r)
		if !ok {
			clientID = uuid.NewString()
			if err := c.write(w, clientID); err != nil {
				c.logger.WithError(err).Error("Failed to issue client cookie")
				WriteError(w, r, err, c.logger)
				return
			}
		}

		ctx := context.WithValue(r.Context(), ClientIDContextKey, clientID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *ClientCookie) read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(ClientCookieName)
	if err != nil {
		return "", false
	}
	var clientID string
	if err := c.codec.Decode(ClientCookieName, cookie.Value, &clientID); err != nil {
		c.logger.WithError(err).Debug("Rejected client cookie")
		return "", false
	}
	if _, err := uuid.Parse(clientID); err != nil {
		return "", false
	}
	return clientID, true
}

func (c *ClientCookie) write(w http.ResponseWriter, clientID string) error {
	encoded, err := c.codec.Encode(ClientCookieName, clientID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(clientCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClientIDFrom returns the client id set by ClientCookie.Middleware
func ClientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ClientIDContextKey).(string)
	return id
}

// RequestID tags each request with an id, reusing a well-formed inbound
// X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom returns the id set by RequestID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}
