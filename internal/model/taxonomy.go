package model

// NameSet is an ordered set of distinct names. Insertion order is kept for
// display; membership is what matters.
type NameSet []string

// Has reports whether name is a member.
func (s NameSet) Has(name string) bool {
	for _, n := range s {
		if n == name {
			return true
		}
	}
	return false
}

// With returns a copy of s including name. The bool is false when name was
// already present.
func (s NameSet) With(name string) (NameSet, bool) {
	if s.Has(name) {
		return s.clone(), false
	}
	return append(s.clone(), name), true
}

// Without returns a copy of s excluding name. The bool is false when name was
// not present.
func (s NameSet) Without(name string) (NameSet, bool) {
	out := make(NameSet, 0, len(s))
	removed := false
	for _, n := range s {
		if n == name {
			removed = true
			continue
		}
		out = append(out, n)
	}
	return out, removed
}

func (s NameSet) clone() NameSet {
	out := make(NameSet, len(s))
	copy(out, s)
	return out
}

// Taxonomy holds the selectable items of both categories.
type Taxonomy struct {
	Clients NameSet `json:"clients"`
	Family  NameSet `json:"family"`
}

// EmptyTaxonomy returns a taxonomy with both sets empty (not nil).
func EmptyTaxonomy() Taxonomy {
	return Taxonomy{Clients: NameSet{}, Family: NameSet{}}
}

// Items returns the set for c. Unknown categories have no items.
func (t Taxonomy) Items(c Category) NameSet {
	switch c {
	case CategoryClients:
		return t.Clients
	case CategoryFamily:
		return t.Family
	default:
		return nil
	}
}

// With returns t with name added to c.
func (t Taxonomy) With(c Category, name string) (Taxonomy, bool) {
	set, added := t.Items(c).With(name)
	return t.replace(c, set), added
}

// Without returns t with name removed from c.
func (t Taxonomy) Without(c Category, name string) (Taxonomy, bool) {
	set, removed := t.Items(c).Without(name)
	return t.replace(c, set), removed
}

func (t Taxonomy) replace(c Category, set NameSet) Taxonomy {
	out := Taxonomy{Clients: t.Clients.clone(), Family: t.Family.clone()}
	switch c {
	case CategoryClients:
		out.Clients = set
	case CategoryFamily:
		out.Family = set
	}
	return out
}

// Value returns the whole taxonomy as written to the store.
func (t Taxonomy) Value() map[string]any {
	return map[string]any{
		string(CategoryClients): []string(t.Clients.clone()),
		string(CategoryFamily):  []string(t.Family.clone()),
	}
}

// NormalizeTaxonomy turns any remote payload into a well-formed Taxonomy.
// Absent or non-object payloads yield empty sets. A member that is not an
// array becomes empty on its own; non-string elements and duplicates are
// dropped.
func NormalizeTaxonomy(raw any) Taxonomy {
	t := EmptyTaxonomy()
	obj, ok := raw.(map[string]any)
	if !ok {
		return t
	}
	t.Clients = normalizeNames(obj[string(CategoryClients)])
	t.Family = normalizeNames(obj[string(CategoryFamily)])
	return t
}

func normalizeNames(raw any) NameSet {
	set := NameSet{}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	default:
		return set
	}
	for _, item := range items {
		name, ok := item.(string)
		if !ok || name == "" {
			continue
		}
		set, _ = set.With(name)
	}
	return set
}
