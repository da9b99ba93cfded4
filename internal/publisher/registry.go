package publisher

import "fmt"

// Registry maps platform identifiers to adapter implementations. It is
// populated once at startup and read-only afterwards; adding a platform means
// registering another implementation, not growing a switch.
type Registry struct {
	publishers map[string]Publisher
}

func NewRegistry() *Registry {
	return &Registry{publishers: make(map[string]Publisher)}
}

func (r *Registry) Register(platform string, p Publisher) {
	r.publishers[platform] = p
}

func (r *Registry) Get(platform string) (Publisher, error) {
	p, ok := r.publishers[platform]
	if !ok {
		return nil, fmt.Errorf("no publisher registered for platform %q", platform)
	}
	return p, nil
}

func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		platforms = append(platforms, name)
	}
	return platforms
}
