package relay

import "github.com/shineum/form-relay/internal/config"

// Router maps request paths to configured endpoints.
type Router struct {
	endpoints []config.Endpoint
}

// NewRouter creates a Router over endpoints in configuration order.
func NewRouter(endpoints []config.Endpoint) *Router {
	return &Router{endpoints: append([]config.Endpoint(nil), endpoints...)}
}

// Resolve returns the first endpoint whose path equals path exactly.
func (r *Router) Resolve(path string) (config.Endpoint, bool) {
	for _, ep := range r.endpoints {
		if ep.Path == path {
			return ep, true
		}
	}
	return config.Endpoint{}, false
}
