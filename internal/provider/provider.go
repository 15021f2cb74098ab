// ABOUTME: Provider interface and registry. The registry
// ABOUTME: is an instance owned by whatever builds the agent.Config, not a
// ABOUTME: package global, per the spec's resolved Open Question on registry scope.

package provider

import (
	"context"
	"sync"

	"github.com/wyvernlab/agentcore-go/internal/core"
)

// Provider streams a completion for one turn against a given model.
type Provider interface {
	// Stream begins a streaming call and returns immediately with an
	// EventStream the caller drains. The provider goroutine owns the
	// EventStream's lifecycle and must call Finish/FinishWithError
	// exactly once.
	Stream(ctx context.Context, model *core.Model, llmCtx *core.Context, opts core.StreamOptions) *EventStream
}

type entry struct {
	provider Provider
	sourceID string
}

// Registry maps an api_id to the Provider implementing it. Registration
// is last-writer-wins: a later Register for the same api_id silently
// replaces the earlier one. Instances are independent; embedders that
// need process-wide lookup share one Registry value.
type Registry struct {
	mu    sync.RWMutex
	byAPI map[core.Api]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byAPI: make(map[core.Api]entry)}
}

// Register installs provider under api, tagged with sourceID (empty
// string if the caller does not need bulk unregistration).
func (r *Registry) Register(api core.Api, p Provider, sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAPI[api] = entry{provider: p, sourceID: sourceID}
}

// Get returns the provider registered for api, or false if none.
func (r *Registry) Get(api core.Api) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byAPI[api]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Has reports whether api has a registered provider.
func (r *Registry) Has(api core.Api) bool {
	_, ok := r.Get(api)
	return ok
}

// UnregisterBySource removes every provider tagged with sourceID, e.g.
// when a plugin or extension supplying providers is unloaded.
func (r *Registry) UnregisterBySource(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for api, e := range r.byAPI {
		if e.sourceID == sourceID {
			delete(r.byAPI, api)
		}
	}
}

// Clear removes every registered provider.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAPI = make(map[core.Api]entry)
}
