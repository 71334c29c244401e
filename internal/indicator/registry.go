package indicator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

var (
	// ErrUnknownIndicator is returned when an id has no registered descriptor.
	ErrUnknownIndicator = errors.New("unknown indicator")
	// ErrDuplicateIndicator is returned when an id is registered twice.
	ErrDuplicateIndicator = errors.New("indicator already registered")
	// ErrInvalidDescriptor is returned for structurally invalid registrations.
	ErrInvalidDescriptor = errors.New("invalid indicator descriptor")
	// ErrCyclicDependency is returned when a registration would close a
	// dependency cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
)

// Registry holds every known indicator descriptor and guarantees the
// dependency graph over calculated indicators stays acyclic. Cycle
// detection runs once at registration time, never per resolution.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
	}
}

// Register validates and stores a descriptor. Calculated descriptors
// may reference dependencies that are not registered yet; the check
// that closes the loop runs whichever registration completes the cycle.
func (r *Registry) Register(d Descriptor) error {
	if err := validateDescriptor(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateIndicator, d.ID)
	}
	if d.IsCalculated() {
		if path := r.findCycleLocked(d); len(path) > 0 {
			return fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(path, " -> "))
		}
	}

	r.descriptors[d.ID] = d
	return nil
}

// MustRegister registers a descriptor and panics on error. Intended for
// static catalog wiring where a bad descriptor is a programming error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor for an id.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownIndicator, id)
	}
	return d, nil
}

// Has reports whether an id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[id]
	return ok
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// List returns all descriptors sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := lo.Values(r.descriptors)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByCategory returns descriptors in one category, sorted by id.
func (r *Registry) ListByCategory(c Category) []Descriptor {
	return lo.Filter(r.List(), func(d Descriptor, _ int) bool {
		return d.Category == c
	})
}

// ListByKind returns descriptors of one kind, sorted by id.
func (r *Registry) ListByKind(k Kind) []Descriptor {
	return lo.Filter(r.List(), func(d Descriptor, _ int) bool {
		return d.Kind == k
	})
}

// Categories returns the distinct categories in use, sorted.
func (r *Registry) Categories() []Category {
	cats := lo.Uniq(lo.Map(r.List(), func(d Descriptor, _ int) Category {
		return d.Category
	}))
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

func validateDescriptor(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDescriptor)
	}
	if d.Category == "" {
		return fmt.Errorf("%w: %s has no category", ErrInvalidDescriptor, d.ID)
	}
	switch d.Kind {
	case KindRaw:
		if len(d.Dependencies) > 0 || d.Transform != "" {
			return fmt.Errorf("%w: raw indicator %s declares dependencies", ErrInvalidDescriptor, d.ID)
		}
	case KindCalculated:
		if d.Transform == "" {
			return fmt.Errorf("%w: calculated indicator %s has no transform", ErrInvalidDescriptor, d.ID)
		}
		if len(d.Dependencies) == 0 {
			return fmt.Errorf("%w: calculated indicator %s has no dependencies", ErrInvalidDescriptor, d.ID)
		}
		for _, dep := range d.Dependencies {
			if dep == "" {
				return fmt.Errorf("%w: calculated indicator %s has an empty dependency", ErrInvalidDescriptor, d.ID)
			}
			if dep == d.ID {
				return fmt.Errorf("%w: %s -> %s", ErrCyclicDependency, d.ID, d.ID)
			}
		}
		if dup := firstDuplicate(d.Dependencies); dup != "" {
			return fmt.Errorf("%w: calculated indicator %s lists dependency %s twice", ErrInvalidDescriptor, d.ID, dup)
		}
	default:
		return fmt.Errorf("%w: %s has kind %q", ErrInvalidDescriptor, d.ID, d.Kind)
	}
	return nil
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}

// findCycleLocked runs a depth-first walk from the candidate descriptor
// over the graph as it would exist after registration. Dependencies
// with no descriptor yet are leaves; if they later close a cycle, the
// registration that adds the closing edge fails instead.
func (r *Registry) findCycleLocked(candidate Descriptor) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int)
	lookup := func(id string) (Descriptor, bool) {
		if id == candidate.ID {
			return candidate, true
		}
		d, ok := r.descriptors[id]
		return d, ok
	}

	var cycle []string
	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		switch state[id] {
		case done:
			return false
		case inStack:
			// Trim the path to the segment that loops back to id.
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle = append(append([]string{}, path[start:]...), id)
			return true
		}

		d, ok := lookup(id)
		if !ok || !d.IsCalculated() {
			state[id] = done
			return false
		}

		state[id] = inStack
		for _, dep := range d.Dependencies {
			if visit(dep, append(path, id)) {
				return true
			}
		}
		state[id] = done
		return false
	}

	visit(candidate.ID, nil)
	return cycle
}
