package auth

import (
	"log/slog"
	"net/http"
	"strings"

	kgerrors "kgindex/internal/errors"
)

// AdminGuard authorizes administrative requests against one bcrypt token
// hash and throttles callers per remote address.
type AdminGuard struct {
	hash    string
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewAdminGuard creates a guard. An empty hash rejects every request.
func NewAdminGuard(hash string, limits RateLimitConfig, logger *slog.Logger) *AdminGuard {
	return &AdminGuard{
		hash:    hash,
		limiter: NewRateLimiter(limits, logger),
		logger:  logger,
	}
}

// Configured reports whether an admin token hash is set.
func (g *AdminGuard) Configured() bool {
	return g.hash != ""
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Authorize returns nil when r carries the admin token. Otherwise it returns
// an UNAUTHORIZED error; throttled callers get details with retryAfter.
func (g *AdminGuard) Authorize(r *http.Request) error {
	client := clientKey(r)
	if ok, retryAfter := g.limiter.Allow(client); !ok {
		g.logger.Warn("Admin request throttled", "client", client, "retryAfter", retryAfter)
		return kgerrors.Newf(kgerrors.Unauthorized, "too many admin requests").
			WithDetails(map[string]int{"retryAfter": retryAfter})
	}
	if !g.Configured() {
		return kgerrors.Newf(kgerrors.Unauthorized, "admin endpoints are disabled: server.adminTokenHash is not set")
	}
	token := BearerToken(r)
	if token == "" {
		return kgerrors.Newf(kgerrors.Unauthorized, "missing bearer token")
	}
	if !VerifyToken(token, g.hash) {
		g.logger.Warn("Rejected admin token", "client", client, "token", MaskToken(token))
		return kgerrors.Newf(kgerrors.Unauthorized, "invalid admin token")
	}
	return nil
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
