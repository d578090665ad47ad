package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/usecase"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
)

type ownerKey struct{}

func contextWithOwner(ctx context.Context, owner types.OwnerID) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the authenticated owner of the request
func OwnerFrom(ctx context.Context) (types.OwnerID, bool) {
	owner, ok := ctx.Value(ownerKey{}).(types.OwnerID)
	return owner, ok && owner != ""
}

// authMiddleware resolves the bearer token to an owner. Without an auth use
// case every request is rejected.
func authMiddleware(authUC AuthUseCase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authUC == nil {
				errutil.HandleHTTP(r.Context(), w, goerr.New("authentication is not configured"), http.StatusUnauthorized)
				return
			}

			token := ""
			if h := r.Header.Get("Authorization"); h != "" {
				scheme, value, ok := strings.Cut(h, " ")
				if !ok || !strings.EqualFold(scheme, "Bearer") {
					errutil.HandleHTTP(r.Context(), w, goerr.Wrap(usecase.ErrInvalidToken, "unsupported authorization scheme"), http.StatusUnauthorized)
					return
				}
				token = strings.TrimSpace(value)
			}

			owner, err := authUC.Authenticate(r.Context(), token)
			if err != nil {
				errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "authentication failed"), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithOwner(r.Context(), owner)))
		})
	}
}
