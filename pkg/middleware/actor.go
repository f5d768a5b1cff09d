package middleware

import (
	"net/http"

	"clinic-scheduling/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActorHeader carries the caller id set by the auth gateway in front of the
// service.
const ActorHeader = "X-Actor-ID"

// Actor puts the caller id from ActorHeader into the request context. A
// missing header is allowed, a malformed one is rejected.
func Actor(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(ActorHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			actorID, err := uuid.Parse(raw)
			if err != nil {
				logger.Warn("Invalid actor header", zap.String("actor", raw), zap.String("path", r.URL.Path))
				utils.ResponseBadRequest(w, "Invalid "+ActorHeader+" header", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.SetActorContext(r.Context(), actorID)))
		})
	}
}
