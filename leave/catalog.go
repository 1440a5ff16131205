package leave

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// CATALOG - the live set of leave-type policies
// =============================================================================

// Catalog resolves labels to policies. Admin edits are persisted through the
// attached CatalogStore and take effect immediately.
type Catalog struct {
	mu       sync.RWMutex
	policies map[Type]Policy
	aliases  map[Type]Type
	store    CatalogStore
}

// NewCatalog builds a catalog. With no policies it uses DefaultPolicies.
func NewCatalog(policies ...Policy) (*Catalog, error) {
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	c := &Catalog{
		policies: make(map[Type]Policy, len(policies)),
		aliases:  make(map[Type]Type),
	}
	for _, p := range policies {
		p.Code = NormalizeType(string(p.Code))
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("leave type %s: %w", p.Code, err)
		}
		c.putLocked(p)
	}
	return c, nil
}

// Attach loads persisted catalog entries over the current ones and keeps the
// store for later edits.
func (c *Catalog) Attach(ctx context.Context, store CatalogStore) error {
	persisted, err := store.LeaveTypes(ctx)
	if err != nil {
		return fmt.Errorf("load leave types: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range persisted {
		c.putLocked(p)
	}
	c.store = store
	return nil
}

func (c *Catalog) putLocked(p Policy) {
	if old, ok := c.policies[p.Code]; ok {
		for _, a := range old.Aliases {
			delete(c.aliases, NormalizeType(a))
		}
	}
	c.policies[p.Code] = p
	for _, a := range p.Aliases {
		c.aliases[NormalizeType(a)] = p.Code
	}
	generic.RegisterResource(p.Code)
}

// Resolve maps a label (code or alias, any case) to its canonical type.
func (c *Catalog) Resolve(label string) (Type, bool) {
	t := NormalizeType(label)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.policies[t]; ok {
		return t, true
	}
	if canonical, ok := c.aliases[t]; ok {
		return canonical, true
	}
	return "", false
}

// Get returns the policy for a code or alias.
func (c *Catalog) Get(t Type) (Policy, bool) {
	canonical, ok := c.Resolve(string(t))
	if !ok {
		return Policy{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.policies[canonical]
	return p, ok
}

// List returns all policies ordered by code.
func (c *Catalog) List() []Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Policy, 0, len(c.policies))
	for _, p := range c.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Add creates a new leave type.
func (c *Catalog) Add(ctx context.Context, p Policy) (Policy, error) {
	p.Code = NormalizeType(string(p.Code))
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, c.save(ctx, p, true)
}

// Update replaces an existing leave type. The code cannot change.
func (c *Catalog) Update(ctx context.Context, code Type, p Policy) (Policy, error) {
	canonical, ok := c.Resolve(string(code))
	if !ok {
		return Policy{}, &NotFoundError{What: "leave type", ID: string(code)}
	}
	p.Code = canonical
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, c.save(ctx, p, false)
}

func (c *Catalog) save(ctx context.Context, p Policy, create bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if create {
		_, code := c.policies[p.Code]
		_, alias := c.aliases[p.Code]
		if code || alias {
			return invalid("code", fmt.Sprintf("leave type %s already exists", p.Code))
		}
	}
	for _, a := range p.Aliases {
		if owner, ok := c.aliases[NormalizeType(a)]; ok && owner != p.Code {
			return invalid("aliases", fmt.Sprintf("%s already maps to %s", a, owner))
		}
		if _, ok := c.policies[NormalizeType(a)]; ok {
			return invalid("aliases", fmt.Sprintf("%s is a leave type code", a))
		}
	}
	if c.store != nil {
		if err := c.store.SaveLeaveType(ctx, p); err != nil {
			return fmt.Errorf("save leave type: %w", err)
		}
	}
	c.putLocked(p)
	return nil
}
