// Package registry is strata's process-wide Setup/Registry component:
// it holds every model.Meta a process knows about and the parent/child
// relationships between them, and provides Init, which builds a
// driver.Client for the caller to pass to txn.Run. It keeps no client
// of its own.
//
// Grounded on store/registry.go's Registry — kept wholesale for the
// relationship bookkeeping — extended to also register model classes,
// since the teacher never had a model layer of its own to register.
package registry

import (
	"fmt"
	"sync"

	"github.com/jacentio/strata/model"
)

// Relationship records that childClass is parented by parentClass
// through parentKeyAttr — store/registry.go's Relationship, generalized
// from entity-specific TableName bookkeeping to model.Meta references.
type Relationship struct {
	ParentClass   *model.Meta
	ChildClass    *model.Meta
	ParentKeyAttr string
}

// Registry is the process-wide model-class and relationship registry.
// A zero Registry is not usable; construct with New.
type Registry struct {
	mu            sync.RWMutex
	classes       map[string]*model.Meta
	relationships []Relationship
	byParent      map[string][]Relationship
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		classes:  make(map[string]*model.Meta),
		byParent: make(map[string][]Relationship),
	}
}

// RegisterClass adds meta to the registry, keyed by its class name.
// Registering the same class name twice is a programming error — it
// almost always means two model.Compile calls produced distinct *Meta
// values for what should be one declaration.
func (r *Registry) RegisterClass(meta *model.Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.classes[meta.Name()]; exists {
		return fmt.Errorf("registry: class %q already registered", meta.Name())
	}
	r.classes[meta.Name()] = meta
	if meta.ParentClass != nil {
		rel := Relationship{ParentClass: meta.ParentClass, ChildClass: meta, ParentKeyAttr: meta.ParentKeyAttr}
		r.relationships = append(r.relationships, rel)
		r.byParent[meta.ParentClass.Name()] = append(r.byParent[meta.ParentClass.Name()], rel)
	}
	return nil
}

// Class looks up a registered model.Meta by name.
func (r *Registry) Class(name string) (*model.Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.classes[name]
	return m, ok
}

// Classes returns every registered model.Meta, in no particular order.
func (r *Registry) Classes() []*model.Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Meta, 0, len(r.classes))
	for _, m := range r.classes {
		out = append(out, m)
	}
	return out
}

// ChildrenOf returns every relationship whose parent is parentClass —
// store/registry.go's ChildrenOf, keyed by class name instead of a
// string entity-type tag.
func (r *Registry) ChildrenOf(parentClass string) []Relationship {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Relationship(nil), r.byParent[parentClass]...)
}

// HasChildren reports whether parentClass has any registered child
// relationships — store/registry.go's HasChildren.
func (r *Registry) HasChildren(parentClass string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParent[parentClass]) > 0
}

// AllRelationships returns every registered relationship.
func (r *Registry) AllRelationships() []Relationship {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Relationship(nil), r.relationships...)
}
