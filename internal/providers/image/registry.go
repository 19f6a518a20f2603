package image

import (
	"fmt"
	"sort"

	"gallery/internal/domain"
)

// Registry maps model keys ("replicate:sdxl", "openai:dalle3") to configured
// adapters. Keys absent from the registry are not offered to users.
type Registry struct {
	generators map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: map[string]Generator{}}
}

// Register binds a generator to a model key, replacing any previous binding.
func (r *Registry) Register(modelKey string, gen Generator) {
	r.generators[modelKey] = gen
}

// Get resolves the adapter for a model key.
func (r *Registry) Get(modelKey string) (Generator, error) {
	gen, ok := r.generators[modelKey]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", modelKey, domain.ErrUnknownModel)
	}
	return gen, nil
}

// Keys lists registered model keys in stable order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.generators))
	for k := range r.generators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
