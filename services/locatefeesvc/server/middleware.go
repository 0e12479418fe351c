package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"locatefeesvc/observability/logging"
	"locatefeesvc/services/locatefeesvc/auth"
	"locatefeesvc/services/locatefeesvc/validate"
)

// requestLogger logs one structured line per request, grounded on the
// teacher's chi-middleware Logger slot but emitting through this service's
// slog logger (see package metrics / observability/logging) instead of the
// standard library logger. The API key is masked per spec §4.8: it must
// never appear in logs in plaintext.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			logging.MaskField("api_key", r.Header.Get("X-API-Key")),
		)
	})
}

// authAndRateLimit implements C8's middleware slot: authenticate via
// X-API-Key, then consume one token from the caller's bucket. A missing or
// invalid key surfaces UNAUTHORIZED before the rate limiter is ever
// consulted, per spec §7's "validation and auth errors never reach
// calculation."
func (s *Server) authAndRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.auth.Authenticate(r.Context(), r)
		if err != nil {
			if errors.Is(err, auth.ErrMissingKey) || errors.Is(err, auth.ErrInvalidKey) {
				writeError(w, validate.New(validate.CodeUnauthorized, "missing or invalid API key"))
				return
			}
			writeError(w, fmt.Errorf("authenticate: %w", err))
			return
		}

		limit := principal.RateLimit
		if limit <= 0 {
			limit = s.defaultRateLimit
		}
		res, err := s.limiter.Allow(r.Context(), principal.ClientID, limit)
		if err != nil {
			writeError(w, fmt.Errorf("rate limit check: %w", err))
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(res.ResetSecs))
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
			writeError(w, validate.New(validate.CodeRateLimitExceeded, "rate limit exceeded"))
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
