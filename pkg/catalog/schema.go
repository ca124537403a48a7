// Package catalog maps graph labels and relationship types onto
// relational tables for Bifrost.
//
// A View is one named mapping: node labels to tables with identifier
// columns and a property-to-column map, relationship types to edge
// tables with from/to column lists, optional composite edge keys,
// optional polymorphic discriminator columns, and static row filters.
// Views load from YAML files and are published as immutable snapshots
// through a Registry; a compile call holds exactly one snapshot and
// never observes a partial reload.
package catalog

import "sort"

// NodeSchema maps one node label onto a table.
type NodeSchema struct {
	// Label is the graph label this mapping serves.
	Label string
	// Table is the backing table name.
	Table string
	// IDColumns is the ordered identifier column list. Composite
	// identities carry more than one column and always compare as the
	// full tuple.
	IDColumns []string
	// Properties maps graph property names to column names.
	Properties map[string]string
	// Filters are static SQL fragments ANDed into every scan of the
	// table. `{alias}` expands to the scan alias and `{{name}}` to a
	// view argument supplied at compile time.
	Filters []string
}

// PropertyNames returns the mapped property names in sorted order.
func (s *NodeSchema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EdgeSchema maps one relationship type onto a table.
type EdgeSchema struct {
	// Type is the relationship type this mapping serves.
	Type string
	// Table is the backing table name.
	Table string
	// FromColumns/ToColumns reference the endpoint node identifiers.
	// Ordered; composite endpoint identities list every column.
	FromColumns []string
	ToColumns   []string
	// KeyColumns optionally declare the edge's own identity. When
	// empty, edge identity falls back to FromColumns followed by
	// ToColumns.
	KeyColumns []string
	// Properties maps relationship property names to column names.
	Properties map[string]string
	// Filters are static SQL fragments, as on NodeSchema.
	Filters []string
	// TypeColumn is set when the table is polymorphic: it holds one
	// row set for several relationship types, disambiguated by this
	// discriminator column.
	TypeColumn string
	// FromLabelColumn/ToLabelColumn optionally discriminate endpoint
	// labels for polymorphic endpoints.
	FromLabelColumn string
	ToLabelColumn   string
	// FromLabel/ToLabel declare which node labels the endpoints join
	// to. Required so endpoint tables can be resolved.
	FromLabel string
	ToLabel   string
}

// IdentityColumns returns the columns forming the edge identity used
// by the no-repeat-edge rule: declared KeyColumns when present, else
// FromColumns followed by ToColumns.
func (s *EdgeSchema) IdentityColumns() []string {
	if len(s.KeyColumns) > 0 {
		return s.KeyColumns
	}
	cols := make([]string, 0, len(s.FromColumns)+len(s.ToColumns))
	cols = append(cols, s.FromColumns...)
	cols = append(cols, s.ToColumns...)
	return cols
}

// PropertyNames returns the mapped property names in sorted order.
func (s *EdgeSchema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View is one named label/type-to-table mapping.
type View struct {
	Name string
	// Parameters declares the view argument names its filters may
	// reference via `{{name}}`.
	Parameters []string

	nodes map[string][]*NodeSchema
	edges map[string][]*EdgeSchema
}

// NewView assembles a View from schema lists. Used by the loader and
// by tests that build views in code.
func NewView(name string, parameters []string, nodes []*NodeSchema, edges []*EdgeSchema) *View {
	v := &View{
		Name:       name,
		Parameters: parameters,
		nodes:      make(map[string][]*NodeSchema),
		edges:      make(map[string][]*EdgeSchema),
	}
	for _, n := range nodes {
		v.nodes[n.Label] = append(v.nodes[n.Label], n)
	}
	for _, e := range edges {
		v.edges[e.Type] = append(v.edges[e.Type], e)
	}
	return v
}

// NodeSchemas returns the table mappings for a label, or nil when the
// label is not in the view.
func (v *View) NodeSchemas(label string) []*NodeSchema {
	return v.nodes[label]
}

// EdgeSchemas returns the table mappings for a relationship type, or
// nil when the type is not in the view.
func (v *View) EdgeSchemas(typ string) []*EdgeSchema {
	return v.edges[typ]
}

// NodeLabels returns all mapped labels in sorted order.
func (v *View) NodeLabels() []string {
	labels := make([]string, 0, len(v.nodes))
	for label := range v.nodes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// EdgeTypes returns all mapped relationship types in sorted order.
func (v *View) EdgeTypes() []string {
	types := make([]string, 0, len(v.edges))
	for typ := range v.edges {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// HasParameter reports whether the view declares the named argument.
func (v *View) HasParameter(name string) bool {
	for _, p := range v.Parameters {
		if p == name {
			return true
		}
	}
	return false
}
