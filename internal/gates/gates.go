package gates

import (
	"sort"
	"strings"
)

const defaultRetries = 1

// Gate is a physical barrier known to the controller.
type Gate struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Retries     int    `json:"retries"`
}

// Equal reports whether both values address the same controller device.
// Name, description and retry count are not part of the identity.
func (g Gate) Equal(other Gate) bool {
	return g.ID == other.ID
}

// Definition is the configured description of a gate, keyed by gate name.
type Definition struct {
	ID          int    `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Retries     int    `yaml:"retries" json:"retries"`
}

// Set is an authorization set: gates sorted by name with unique names.
type Set []Gate

// Find returns the gate with exactly the given name.
func (s Set) Find(name string) (Gate, bool) {
	for _, g := range s {
		if g.Name == name {
			return g, true
		}
	}
	return Gate{}, false
}

// Names lists gate names in set order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for _, g := range s {
		out = append(out, g.Name)
	}
	return out
}

// Normalize returns a copy of gs deduplicated by name and sorted by name.
// When names collide the first occurrence wins.
func Normalize(gs []Gate) Set {
	seen := make(map[string]struct{}, len(gs))
	out := make(Set, 0, len(gs))
	for _, g := range gs {
		if _, ok := seen[g.Name]; ok {
			continue
		}
		seen[g.Name] = struct{}{}
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.Compare(out[i].Name, out[j].Name) < 0
	})
	return out
}
