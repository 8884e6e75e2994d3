package closurehttp

import (
	"net/http"
	"strings"

	"github.com/restaurant-ops/restops/internal/shared"
)

// Identity copies the gateway identity headers into the request context.
// Requests without a user id keep an empty actor, which is never an admin.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := shared.Actor{
			UserID:   strings.TrimSpace(r.Header.Get(shared.HeaderUserID)),
			UserName: strings.TrimSpace(r.Header.Get(shared.HeaderUserName)),
			Role:     strings.TrimSpace(r.Header.Get(shared.HeaderUserRole)),
		}
		ctx := shared.ContextWithActor(r.Context(), actor)
		if client := strings.TrimSpace(r.Header.Get(shared.HeaderClientID)); client != "" {
			ctx = shared.ContextWithClientID(ctx, client)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
