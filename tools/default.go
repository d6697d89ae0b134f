package tools

import "worldsd/worlds"

// NewDefaultRegistry builds the registry with the three built-in tools.
func NewDefaultRegistry(store worlds.Store, iriBase string) (*Registry, error) {
	r := NewRegistry()
	for _, t := range []*Tool{
		NewSearchFactsTool(store),
		NewExecuteSparqlTool(store),
		NewGenerateIriTool(iriBase),
	} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
