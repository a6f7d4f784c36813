package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apierrors "licensesrv/internal/errors"
)

// APIKeyHeader carries the admin API key
const APIKeyHeader = "X-API-Key"

// APIKeyAuth admits requests presenting one of keys, either in X-API-Key or
// as a Bearer token. With no keys configured every request is refused.
func APIKeyAuth(logger *slog.Logger, keys []string) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "api_key_auth"))

	digests := make([][sha256.Size]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := presentedKey(r)
			if presented != "" && matchesAny(digests, presented) {
				next.ServeHTTP(w, r)
				return
			}

			logger.WarnContext(r.Context(), "admin authentication failed",
				slog.Bool("key_present", presented != ""),
				slog.String("client_ip", ClientIP(r)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			problem := apierrors.NewProblemDetails(http.StatusUnauthorized, apierrors.TypeUnauthorized,
				"Unauthorized", "A valid API key is required", r.URL.Path).
				WithExtension("trace_id", GetRequestID(r.Context()))
			_ = render.Render(w, r, problem)
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// matchesAny compares fixed-size digests so timing reveals neither the
// matching key nor its length
func matchesAny(digests [][sha256.Size]byte, presented string) bool {
	sum := sha256.Sum256([]byte(presented))
	match := 0
	for i := range digests {
		match |= subtle.ConstantTimeCompare(digests[i][:], sum[:])
	}
	return match == 1
}
