package replay

import (
	"strings"
	"sync"

	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
)

// Role classifies a registered handle.
type Role string

const (
	// RolePrimary marks the controllable instance that receives applied
	// state once a transition hands control back.
	RolePrimary Role = "primary"
	// RoleSecondary marks a stand-in instance, such as a passive replay
	// visualization, hidden once the primary takes over.
	RoleSecondary Role = "secondary"
)

// RegisterResult reports what a Register call did.
type RegisterResult struct {
	Role     Role
	Replaced bool
	Previous runtime.Handle
}

// MappingSummary reports the partition sizes after a rebuild.
type MappingSummary struct {
	Primaries   int
	Secondaries int
}

// Registry tracks the live entity handles the engine may read from or write
// to, partitioned into a primary and a secondary mapping, each keyed by
// declared entity id. The same id may appear in both mappings at once, which
// is the normal shape while a replay visualization mirrors a live entity.
//
// A handle classifies as secondary when its hierarchy path descends from one
// of the configured secondary-role container names; with no containers
// configured every handle is primary.
type Registry struct {
	mu                  sync.Mutex
	primaries           map[string]runtime.Handle
	secondaries         map[string]runtime.Handle
	primaryOrder        []string
	secondaryOrder      []string
	secondaryContainers []string
}

// NewRegistry constructs an empty registry with the given secondary-role
// container names.
func NewRegistry(secondaryContainers []string) *Registry {
	return &Registry{
		primaries:           make(map[string]runtime.Handle),
		secondaries:         make(map[string]runtime.Handle),
		secondaryContainers: append([]string(nil), secondaryContainers...),
	}
}

// Register adds a handle to the mapping its hierarchy path classifies it
// into, keyed by its declared entity id. Registering the same instance again
// is a no-op; a different instance under an existing id replaces the old
// entry, and the result carries the replaced handle so the caller can warn.
func (r *Registry) Register(h runtime.Handle) RegisterResult {
	if r == nil || h == nil || h.EntityID() == "" {
		return RegisterResult{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	role := r.classifyLocked(h)
	entries, order := r.roleLocked(role)
	id := h.EntityID()

	previous, exists := entries[id]
	if exists && previous == h {
		return RegisterResult{Role: role}
	}
	entries[id] = h
	if !exists {
		*order = append(*order, id)
		return RegisterResult{Role: role}
	}
	return RegisterResult{Role: role, Replaced: true, Previous: previous}
}

// Unregister removes the handle's id from the mapping the handle classifies
// into. The entity's recorded timeline is untouched; history persists
// independent of current liveness.
func (r *Registry) Unregister(h runtime.Handle) bool {
	if r == nil || h == nil || h.EntityID() == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	role := r.classifyLocked(h)
	entries, order := r.roleLocked(role)
	id := h.EntityID()
	if _, ok := entries[id]; !ok {
		return false
	}
	delete(entries, id)
	*order = removeID(*order, id)
	return true
}

// RebuildMappings reclassifies every registered handle from its current
// hierarchy path, moving entries between the primary and secondary mappings
// when their classification changed. Encounter order within each mapping is
// preserved for handles that stay, with movers appended.
func (r *Registry) RebuildMappings() MappingSummary {
	if r == nil {
		return MappingSummary{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	type entry struct {
		id string
		h  runtime.Handle
	}
	ordered := make([]entry, 0, len(r.primaryOrder)+len(r.secondaryOrder))
	for _, id := range r.primaryOrder {
		if h, ok := r.primaries[id]; ok {
			ordered = append(ordered, entry{id: id, h: h})
		}
	}
	for _, id := range r.secondaryOrder {
		if h, ok := r.secondaries[id]; ok {
			ordered = append(ordered, entry{id: id, h: h})
		}
	}

	r.primaries = make(map[string]runtime.Handle, len(ordered))
	r.secondaries = make(map[string]runtime.Handle, len(ordered))
	r.primaryOrder = r.primaryOrder[:0]
	r.secondaryOrder = r.secondaryOrder[:0]

	for _, e := range ordered {
		role := r.classifyLocked(e.h)
		entries, order := r.roleLocked(role)
		if _, ok := entries[e.id]; ok {
			continue
		}
		entries[e.id] = e.h
		*order = append(*order, e.id)
	}

	return MappingSummary{Primaries: len(r.primaries), Secondaries: len(r.secondaries)}
}

// Primary returns the primary handle registered under id.
func (r *Registry) Primary(id string) (runtime.Handle, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.primaries[id]
	return h, ok
}

// Secondary returns the secondary handle registered under id.
func (r *Registry) Secondary(id string) (runtime.Handle, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.secondaries[id]
	return h, ok
}

// PrimaryIDs returns the primary ids in encounter order.
func (r *Registry) PrimaryIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.primaryOrder...)
}

// SecondaryIDs returns the secondary ids in encounter order.
func (r *Registry) SecondaryIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.secondaryOrder...)
}

// SampleSet returns the handles the recorder captures: every primary in
// encounter order, then every secondary whose id is not shadowed by a
// primary.
func (r *Registry) SampleSet() []runtime.Handle {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]runtime.Handle, 0, len(r.primaryOrder)+len(r.secondaryOrder))
	for _, id := range r.primaryOrder {
		if h, ok := r.primaries[id]; ok {
			handles = append(handles, h)
		}
	}
	for _, id := range r.secondaryOrder {
		if _, shadowed := r.primaries[id]; shadowed {
			continue
		}
		if h, ok := r.secondaries[id]; ok {
			handles = append(handles, h)
		}
	}
	return handles
}

// RebindSecondary rekeys a secondary entry from one id to another. It is
// used by the reconciliation matcher to align a stand-in with the primary it
// was matched to. Rebinding fails when the source id is absent or the target
// id is already taken by another secondary.
func (r *Registry) RebindSecondary(fromID, toID string) bool {
	if r == nil || fromID == "" || toID == "" || fromID == toID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.secondaries[fromID]
	if !ok {
		return false
	}
	if _, taken := r.secondaries[toID]; taken {
		return false
	}
	delete(r.secondaries, fromID)
	r.secondaries[toID] = h
	for i, id := range r.secondaryOrder {
		if id == fromID {
			r.secondaryOrder[i] = toID
			break
		}
	}
	return true
}

// Counts returns the current partition sizes.
func (r *Registry) Counts() MappingSummary {
	if r == nil {
		return MappingSummary{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return MappingSummary{Primaries: len(r.primaries), Secondaries: len(r.secondaries)}
}

// SecondaryContainers returns the configured secondary-role container names.
func (r *Registry) SecondaryContainers() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.secondaryContainers...)
}

func (r *Registry) classifyLocked(h runtime.Handle) Role {
	if len(r.secondaryContainers) == 0 {
		return RolePrimary
	}
	segments := splitHierarchyPath(h.HierarchyPath())
	// The leaf is the entity itself; only ancestors make it a descendant of
	// a container.
	for i := 0; i < len(segments)-1; i++ {
		for _, container := range r.secondaryContainers {
			if segments[i] == container {
				return RoleSecondary
			}
		}
	}
	return RolePrimary
}

func (r *Registry) roleLocked(role Role) (map[string]runtime.Handle, *[]string) {
	if role == RoleSecondary {
		return r.secondaries, &r.secondaryOrder
	}
	return r.primaries, &r.primaryOrder
}

func splitHierarchyPath(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
