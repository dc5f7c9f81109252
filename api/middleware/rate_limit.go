package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/cashloop/cashloop-backend/api/responses"
	"github.com/cashloop/cashloop-backend/pkg/config"
	pkgerrors "github.com/cashloop/cashloop-backend/pkg/errors"
	"github.com/cashloop/cashloop-backend/pkg/logger"
)

type fixedWindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// PayoutRateLimit caps how often a single user can submit payout requests.
func PayoutRateLimit(limiter fixedWindowLimiter, cfg config.RateLimitConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			userID := UserIDFromContext(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, _, err := limiter.FixedWindowAllow(r.Context(), "payouts:"+userID, int64(cfg.PayoutUserLimit), cfg.PayoutWindow)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check rate limit"))
				return
			}
			if !allowed {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many payout requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
