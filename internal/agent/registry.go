package agent

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNoSuchAgent is returned by [Registry.Get] and [Registry.Resolve] when a
// name cannot be matched to any registered profile. A failed handoff target
// is a normal data-driven outcome, not a defect.
var ErrNoSuchAgent = errors.New("agent: no such agent")

// Registry is an immutable name → [Profile] mapping built once at startup.
// Lookups are case-insensitive and ignore surrounding whitespace. All
// methods are safe for concurrent use — the Registry is read-only after
// construction.
type Registry struct {
	profiles map[string]Profile // keyed by normalized name
	names    []string           // canonical names, sorted
}

// NewRegistry builds a [Registry] from the given profiles. Profile names
// must be non-empty and unique after case folding.
func NewRegistry(profiles []Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, errors.New("agent: registry needs at least one profile")
	}

	r := &Registry{
		profiles: make(map[string]Profile, len(profiles)),
		names:    make([]string, 0, len(profiles)),
	}
	for _, p := range profiles {
		key := normalize(p.Name)
		if key == "" {
			return nil, errors.New("agent: profile with empty name")
		}
		if _, dup := r.profiles[key]; dup {
			return nil, fmt.Errorf("agent: duplicate profile name %q", p.Name)
		}
		r.profiles[key] = p
		r.names = append(r.names, p.Name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Get looks up a profile by name. Case and surrounding whitespace are
// ignored; no fuzzy matching is applied. Returns [ErrNoSuchAgent] when the
// name is not registered.
func (r *Registry) Get(name string) (Profile, error) {
	p, ok := r.profiles[normalize(name)]
	if !ok {
		return Profile{}, fmt.Errorf("agent: get %q: %w", name, ErrNoSuchAgent)
	}
	return p, nil
}

// Resolve looks up a profile by a possibly mangled name. An exact match
// (after case folding and trimming) always wins; otherwise the name is
// matched against the registered profiles phonetically and by string
// similarity, forgiving the near-miss spellings a speech model produces for
// enumerated values. Returns [ErrNoSuchAgent] when nothing clears the
// similarity thresholds.
func (r *Registry) Resolve(name string) (Profile, error) {
	key := normalize(name)
	if p, ok := r.profiles[key]; ok {
		return p, nil
	}

	canonical, ok := closestName(key, r.names)
	if !ok {
		return Profile{}, fmt.Errorf("agent: resolve %q: %w", name, ErrNoSuchAgent)
	}
	return r.profiles[normalize(canonical)], nil
}

// Names returns the canonical agent names in sorted order. The returned
// slice is a copy. This is the enumeration advertised in the switch_agent
// tool's input schema.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}

// normalize folds case and trims surrounding whitespace.
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
