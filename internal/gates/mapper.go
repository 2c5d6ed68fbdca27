package gates

// Mapper derives authorization sets from directory group memberships.
// It is immutable after construction and safe for concurrent use.
type Mapper struct {
	byGroup map[string][]Gate
	all     Set
}

// NewMapper builds a mapper from group -> gate names and gate name -> definition tables.
// Gate names a group refers to that have no definition are dropped.
func NewMapper(groups map[string][]string, catalog map[string]Definition) *Mapper {
	m := &Mapper{byGroup: make(map[string][]Gate, len(groups))}

	all := make([]Gate, 0, len(catalog))
	for name, def := range catalog {
		all = append(all, fromDefinition(name, def))
	}
	m.all = Normalize(all)

	for group, names := range groups {
		resolved := make([]Gate, 0, len(names))
		for _, name := range names {
			def, ok := catalog[name]
			if !ok {
				continue
			}
			resolved = append(resolved, fromDefinition(name, def))
		}
		m.byGroup[group] = resolved
	}
	return m
}

func fromDefinition(name string, def Definition) Gate {
	retries := def.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return Gate{
		ID:          def.ID,
		Name:        name,
		Description: def.Description,
		Retries:     retries,
	}
}

// Resolve returns the gates reachable through the given groups.
// Unknown groups are ignored; an empty result is a valid, empty set.
func (m *Mapper) Resolve(groups []string) Set {
	var matched []Gate
	for _, group := range groups {
		matched = append(matched, m.byGroup[group]...)
	}
	return Normalize(matched)
}

// Gates returns every configured gate sorted by name.
func (m *Mapper) Gates() Set {
	out := make(Set, len(m.all))
	copy(out, m.all)
	return out
}
