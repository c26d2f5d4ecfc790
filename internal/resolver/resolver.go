// Package resolver maps inbound requests to tenants by their leading
// path segment or host subdomain label.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
	"github.com/teresa-solution/tenant-provisioning-service/internal/store"
)

var (
	// ErrTenantNotFound is returned when no active tenant matches the
	// request. Surfaced as a 404.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrAmbiguousRequest is returned when no identifiable segment or
	// subdomain label is present.
	ErrAmbiguousRequest = errors.New("no tenant identifier in request")
)

// Lookup is the registry read the resolver depends on.
type Lookup interface {
	Resolve(ctx context.Context, bindingKey string) (*model.Tenant, error)
}

var defaultReserved = []string{"www", "api", "admin", "metrics", "healthz", "static", "assets"}

// Resolver resolves binding keys against the tenant registry.
type Resolver struct {
	registry Lookup
	reserved map[string]struct{}
}

func New(registry Lookup) *Resolver {
	reserved := make(map[string]struct{}, len(defaultReserved))
	for _, label := range defaultReserved {
		reserved[label] = struct{}{}
	}
	return &Resolver{registry: registry, reserved: reserved}
}

// FromRequest resolves the tenant for an HTTP request, trying the path
// first and falling back to the host subdomain.
func (r *Resolver) FromRequest(req *http.Request) (*model.Tenant, error) {
	tenant, err := r.FromPath(req.Context(), req.URL.Path)
	if err == nil || !errors.Is(err, ErrAmbiguousRequest) {
		return tenant, err
	}
	return r.FromHost(req.Context(), req.Host)
}

// FromPath resolves the tenant named by the leading path segment, e.g.
// "/acme/api/announcements" -> binding key "acme".
func (r *Resolver) FromPath(ctx context.Context, path string) (*model.Tenant, error) {
	segment, _, _ := strings.Cut(strings.TrimLeft(path, "/"), "/")
	if !r.validLabel(segment) {
		return nil, fmt.Errorf("path %q: %w", path, ErrAmbiguousRequest)
	}
	return r.FromLabel(ctx, segment)
}

// FromHost resolves the tenant named by the host's subdomain label,
// e.g. "acme.example.com" -> binding key "acme". A bare domain has no
// label to go by.
func (r *Resolver) FromHost(ctx context.Context, host string) (*model.Tenant, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	// Hostnames are case-insensitive.
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) < 3 || !r.validLabel(labels[0]) {
		return nil, fmt.Errorf("host %q: %w", host, ErrAmbiguousRequest)
	}
	return r.FromLabel(ctx, labels[0])
}

// FromLabel looks a validated binding key up in the registry. Tenants
// that are not yet routable (still provisioning, suspended, deleted)
// are reported as not found to ordinary traffic.
func (r *Resolver) FromLabel(ctx context.Context, label string) (*model.Tenant, error) {
	tenant, err := r.registry.Resolve(ctx, label)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("binding %q: %w", label, ErrTenantNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !tenant.Routable() {
		return nil, fmt.Errorf("binding %q (status %s): %w", label, tenant.Status, ErrTenantNotFound)
	}
	return tenant, nil
}

// validLabel rejects empty, reserved, numeric-only and syntactically
// invalid labels before any registry lookup happens.
func (r *Resolver) validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if _, ok := r.reserved[label]; ok {
		return false
	}
	numericOnly := true
	for i, c := range label {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
			numericOnly = false
		case c == '-' && i > 0 && i < len(label)-1:
			numericOnly = false
		default:
			return false
		}
	}
	return !numericOnly
}
