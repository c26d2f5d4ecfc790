package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teresa-solution/tenant-provisioning-service/internal/resolver"
)

// Dependencies holds handler and middleware dependencies for the
// router.
type Dependencies struct {
	Resolver *resolver.Resolver
	Tenants  *TenantHandler
	Health   http.HandlerFunc
}

// NewRouter builds the chi router: tenant administration under
// /api/v1/tenants, operational endpoints at the root, and the
// tenant-scoped group behind the resolver middleware.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger)
	r.Use(Recovery)

	if deps.Health != nil {
		r.Get("/healthz", deps.Health)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Post("/", deps.Tenants.Create)
		r.Get("/{id}", deps.Tenants.Get)
		r.Delete("/{id}", deps.Tenants.Delete)
	})

	r.Route("/{tenant}", func(r chi.Router) {
		r.Use(TenantCtx(deps.Resolver))
		r.Get("/api/users", deps.Tenants.ListUsers)
	})

	return r
}
