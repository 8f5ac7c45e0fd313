package llm

import (
	"fmt"
	"sort"
)

// ModelRoute binds a logical model to a provider and physical model name.
type ModelRoute struct {
	Name        string
	Provider    string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Seed        int
}

// Registry resolves models to providers.
type Registry struct {
	providers    map[string]Provider
	models       map[string]ModelRoute
	defaultModel string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]ModelRoute),
	}
}

// RegisterProvider adds a provider implementation.
func (r *Registry) RegisterProvider(name string, p Provider) {
	r.providers[name] = p
}

// RegisterModel adds a model route.
func (r *Registry) RegisterModel(name string, route ModelRoute, isDefault bool) {
	route.Name = name
	r.models[name] = route
	if isDefault || r.defaultModel == "" {
		r.defaultModel = name
	}
}

// Models returns registered logical model names in sorted order.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the provider and route for a given model name (default if empty).
func (r *Registry) Resolve(modelName string) (Provider, ModelRoute, error) {
	if modelName == "" {
		modelName = r.defaultModel
	}

	route, ok := r.models[modelName]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("model %q not registered", modelName)
	}

	p, ok := r.providers[route.Provider]
	if !ok {
		return nil, ModelRoute{}, fmt.Errorf("provider %q not registered for model %q", route.Provider, modelName)
	}

	return p, route, nil
}
