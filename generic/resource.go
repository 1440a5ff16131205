/*
resource.go - Resource type registration and lookup

PURPOSE:
  Domain packages register their ResourceType values here so storage can turn
  the string it persisted back into the concrete type.

USAGE:
  generic.RegisterResource(leave.Type("CASUAL"))
  rt := generic.GetOrCreateResource("CASUAL")
*/
package generic

import (
	"sync"
)

var (
	resourceRegistry = make(map[string]ResourceType)
	registryMu       sync.RWMutex
)

// RegisterResource adds a resource type to the global registry.
func RegisterResource(r ResourceType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	resourceRegistry[r.ResourceID()] = r
}

// LookupResource finds a registered resource type by ID, or nil.
func LookupResource(id string) ResourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return resourceRegistry[id]
}

// StringResource is the fallback when an ID was persisted by a domain that is
// not loaded in this process.
type StringResource struct {
	ID     string
	Domain string
}

func (r StringResource) ResourceID() string     { return r.ID }
func (r StringResource) ResourceDomain() string { return r.Domain }

// GetOrCreateResource looks up a resource type, or creates a StringResource fallback.
func GetOrCreateResource(id string) ResourceType {
	if r := LookupResource(id); r != nil {
		return r
	}
	return StringResource{ID: id, Domain: "unknown"}
}
