package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/resolver"
)

type contextKey string

const tenantKey contextKey = "tenant"

// SetTenant stores the resolved tenant on the context.
func SetTenant(ctx context.Context, tenant *model.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// TenantFrom returns the tenant resolved by TenantCtx.
func TenantFrom(ctx context.Context) (*model.Tenant, bool) {
	tenant, ok := ctx.Value(tenantKey).(*model.Tenant)
	return tenant, ok
}

// TenantCtx resolves the request's tenant before any tenant-scoped
// handler runs and short-circuits with 404 when no active tenant
// matches.
func TenantCtx(res *resolver.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, err := res.FromRequest(r)
			switch {
			case errors.Is(err, resolver.ErrTenantNotFound):
				Error(w, http.StatusNotFound, "Tenant not found")
				return
			case errors.Is(err, resolver.ErrAmbiguousRequest):
				Error(w, http.StatusBadRequest, "Tenant identifier required")
				return
			case err != nil:
				log.Error().Err(err).Str("path", r.URL.Path).Msg("Tenant resolution failed")
				Error(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			next.ServeHTTP(w, r.WithContext(SetTenant(r.Context(), tenant)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request")
	})
}

// Recovery converts panics into 500 responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
				Error(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
