package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"nutri-auth/pkg/logger"
)

// CORSPolicy describes which browser origins may call the API with the
// client cookie attached.
type CORSPolicy struct {
	Origins     []string
	Methods     []string
	Headers     []string
	Expose      []string
	Credentials bool
	MaxAge      time.Duration
}

// NewCORSPolicy returns the policy for the web app served from origins.
func NewCORSPolicy(origins ...string) *CORSPolicy {
	return &CORSPolicy{
		Origins: origins,
		Methods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		Headers: []string{"Accept", "Content-Type", "X-Request-ID", "X-Requested-With"},
		Expose:  []string{"X-Request-ID"},
		// the client cookie must ride along on cross-origin calls
		Credentials: true,
		MaxAge:      24 * time.Hour,
	}
}

// CORS creates a CORS middleware. Only listed origins are echoed back. A "*"
// entry is honoured only when credentials are off, since the client id
// travels in a cookie. Preflights from other origins are refused.
func CORS(policy *CORSPolicy, logger *logger.Logger) func(http.Handler) http.Handler {
	if policy == nil {
		policy = NewCORSPolicy()
	}

	allowedOrigins := make(map[string]bool)
	for _, origin := range policy.Origins {
		allowedOrigins[strings.TrimSuffix(origin, "/")] = true
	}
	wildcard := allowedOrigins["*"] && !policy.Credentials

	preflight := map[string]string{}
	if len(policy.Methods) > 0 {
		preflight["Access-Control-Allow-Methods"] = strings.Join(policy.Methods, ", ")
	}
	if len(policy.Headers) > 0 {
		preflight["Access-Control-Allow-Headers"] = strings.Join(policy.Headers, ", ")
	}
	if policy.MaxAge > 0 {
		preflight["Access-Control-Max-Age"] = strconv.Itoa(int(policy.MaxAge.Seconds()))
	}
	exposedHeaders := strings.Join(policy.Expose, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := allowedOrigins[origin] || wildcard
			isPreflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !allowed {
				logger.WithFields(map[string]interface{}{
					"origin": origin,
					"method": r.Method,
					"path":   r.URL.Path,
				}).Warn("CORS origin not allowed")
				if isPreflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if wildcard && !allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if policy.Credentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			if exposedHeaders != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
			}

			if isPreflight {
				for k, v := range preflight {
					w.Header().Set(k, v)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
