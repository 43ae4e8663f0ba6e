package handler

import (
	"context"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const (
	HeaderAPIKey         = "X-API-Key"
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	maxUserIDLength = 128
)

// ErrUserRequired is returned when an authenticated request names no user.
var ErrUserRequired = domain.NewError(domain.KindUnauthenticated, "USER_ID_REQUIRED", "X-User-ID header is required")

// Authenticator is implemented by *auth.Authenticator.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Principal is the caller of a request. The gateway holding the API key
// vouches for UserID.
type Principal struct {
	KeyID  string
	UserID string
	Admin  bool
}

type principalKey struct{}

// PrincipalFromContext returns the principal set by RequireUser.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// PrincipalKey buckets authenticated requests by API key and user. Requests
// without a principal fall back to the client IP.
func PrincipalKey(r *http.Request) string {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return httpmiddleware.ClientIP(r)
	}
	return p.KeyID + ":" + p.UserID
}

// RequireUser authenticates the API key, requires a user ID and stores the
// resulting Principal in the request context.
func RequireUser(authn Authenticator) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := authn.Authenticate(ctx, r.Header.Get(HeaderAPIKey))
			if err != nil {
				writeError(ctx, w, err)
				return
			}
			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if !validUserID(userID) {
				writeError(ctx, w, ErrUserRequired)
				return
			}

			p := Principal{
				KeyID:  info.ID,
				UserID: userID,
				Admin:  info.HasScope(auth.ScopeOrdersAdmin),
			}
			ctx = zctx.With(ctx, zap.String("user_id", userID))
			ctx = context.WithValue(ctx, principalKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validUserID(id string) bool {
	return id != "" && len(id) <= maxUserIDLength && strings.IndexFunc(id, unicode.IsControl) < 0
}

// principal returns the caller. Routes registered without RequireUser never
// call it.
func principal(r *http.Request) Principal {
	p, _ := PrincipalFromContext(r.Context())
	return p
}
