package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// viewFile is the YAML document shape for one view definition.
//
//	name: social
//	parameters: [tenant_id]
//	nodes:
//	  - label: User
//	    table: users
//	    id: [id]
//	    properties:
//	      name: user_name
//	    filters:
//	      - "{alias}.deleted = 0"
//	edges:
//	  - type: FOLLOWS
//	    table: follows
//	    from: [follower_id]
//	    to: [followee_id]
//	    from_label: User
//	    to_label: User
type viewFile struct {
	Name       string     `yaml:"name"`
	Parameters []string   `yaml:"parameters"`
	Nodes      []nodeYAML `yaml:"nodes"`
	Edges      []edgeYAML `yaml:"edges"`
}

type nodeYAML struct {
	Label      string            `yaml:"label"`
	Table      string            `yaml:"table"`
	ID         []string          `yaml:"id"`
	Properties map[string]string `yaml:"properties"`
	Filters    []string          `yaml:"filters"`
}

type edgeYAML struct {
	Type            string            `yaml:"type"`
	Table           string            `yaml:"table"`
	From            []string          `yaml:"from"`
	To              []string          `yaml:"to"`
	Key             []string          `yaml:"key"`
	Properties      map[string]string `yaml:"properties"`
	Filters         []string          `yaml:"filters"`
	TypeColumn      string            `yaml:"type_column"`
	FromLabelColumn string            `yaml:"from_label_column"`
	ToLabelColumn   string            `yaml:"to_label_column"`
	FromLabel       string            `yaml:"from_label"`
	ToLabel         string            `yaml:"to_label"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var paramPlaceholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// ParseView parses and validates one YAML view definition.
func ParseView(data []byte) (*View, error) {
	var vf viewFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parse view: %w", err)
	}
	return vf.build()
}

// LoadViewFile loads one view definition from disk.
func LoadViewFile(path string) (*View, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read view file: %w", err)
	}
	v, err := ParseView(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return v, nil
}

// LoadDir loads every *.yaml / *.yml view definition in a directory,
// in file-name order.
func LoadDir(dir string) ([]*View, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read views dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no view definitions in %s", dir)
	}

	views := make([]*View, 0, len(names))
	seen := make(map[string]string)
	for _, name := range names {
		v, err := LoadViewFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[v.Name]; dup {
			return nil, fmt.Errorf("%s: view %q already defined in %s", name, v.Name, prev)
		}
		seen[v.Name] = name
		views = append(views, v)
	}
	return views, nil
}

func (vf *viewFile) build() (*View, error) {
	if vf.Name == "" {
		return nil, fmt.Errorf("view name is required")
	}
	for _, p := range vf.Parameters {
		if !identRe.MatchString(p) {
			return nil, fmt.Errorf("view %s: invalid parameter name %q", vf.Name, p)
		}
	}
	if len(vf.Nodes) == 0 {
		return nil, fmt.Errorf("view %s: at least one node mapping is required", vf.Name)
	}

	labels := make(map[string]bool)
	nodes := make([]*NodeSchema, 0, len(vf.Nodes))
	for _, n := range vf.Nodes {
		schema, err := n.build(vf.Name)
		if err != nil {
			return nil, err
		}
		labels[schema.Label] = true
		nodes = append(nodes, schema)
	}

	edges := make([]*EdgeSchema, 0, len(vf.Edges))
	for _, e := range vf.Edges {
		schema, err := e.build(vf.Name)
		if err != nil {
			return nil, err
		}
		if !labels[schema.FromLabel] {
			return nil, fmt.Errorf("view %s: edge %s references unknown from_label %q", vf.Name, schema.Type, schema.FromLabel)
		}
		if !labels[schema.ToLabel] {
			return nil, fmt.Errorf("view %s: edge %s references unknown to_label %q", vf.Name, schema.Type, schema.ToLabel)
		}
		edges = append(edges, schema)
	}

	v := NewView(vf.Name, vf.Parameters, nodes, edges)
	if err := v.checkFilterPlaceholders(); err != nil {
		return nil, err
	}
	return v, nil
}

func (n *nodeYAML) build(view string) (*NodeSchema, error) {
	if n.Label == "" {
		return nil, fmt.Errorf("view %s: node mapping missing label", view)
	}
	if !identRe.MatchString(n.Table) {
		return nil, fmt.Errorf("view %s: node %s: invalid table name %q", view, n.Label, n.Table)
	}
	if len(n.ID) == 0 {
		return nil, fmt.Errorf("view %s: node %s: id column list must not be empty", view, n.Label)
	}
	for _, col := range n.ID {
		if !identRe.MatchString(col) {
			return nil, fmt.Errorf("view %s: node %s: invalid id column %q", view, n.Label, col)
		}
	}
	for prop, col := range n.Properties {
		if !identRe.MatchString(prop) || !identRe.MatchString(col) {
			return nil, fmt.Errorf("view %s: node %s: invalid property mapping %q: %q", view, n.Label, prop, col)
		}
	}
	return &NodeSchema{
		Label:      n.Label,
		Table:      n.Table,
		IDColumns:  append([]string(nil), n.ID...),
		Properties: n.Properties,
		Filters:    append([]string(nil), n.Filters...),
	}, nil
}

func (e *edgeYAML) build(view string) (*EdgeSchema, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("view %s: edge mapping missing type", view)
	}
	if !identRe.MatchString(e.Table) {
		return nil, fmt.Errorf("view %s: edge %s: invalid table name %q", view, e.Type, e.Table)
	}
	if len(e.From) == 0 || len(e.To) == 0 {
		return nil, fmt.Errorf("view %s: edge %s: from/to column lists must not be empty", view, e.Type)
	}
	for _, col := range append(append(append([]string{}, e.From...), e.To...), e.Key...) {
		if !identRe.MatchString(col) {
			return nil, fmt.Errorf("view %s: edge %s: invalid column %q", view, e.Type, col)
		}
	}
	if e.FromLabel == "" || e.ToLabel == "" {
		return nil, fmt.Errorf("view %s: edge %s: from_label and to_label are required", view, e.Type)
	}
	for _, col := range []string{e.TypeColumn, e.FromLabelColumn, e.ToLabelColumn} {
		if col != "" && !identRe.MatchString(col) {
			return nil, fmt.Errorf("view %s: edge %s: invalid discriminator column %q", view, e.Type, col)
		}
	}
	for prop, col := range e.Properties {
		if !identRe.MatchString(prop) || !identRe.MatchString(col) {
			return nil, fmt.Errorf("view %s: edge %s: invalid property mapping %q: %q", view, e.Type, prop, col)
		}
	}
	return &EdgeSchema{
		Type:            e.Type,
		Table:           e.Table,
		FromColumns:     append([]string(nil), e.From...),
		ToColumns:       append([]string(nil), e.To...),
		KeyColumns:      append([]string(nil), e.Key...),
		Properties:      e.Properties,
		Filters:         append([]string(nil), e.Filters...),
		TypeColumn:      e.TypeColumn,
		FromLabelColumn: e.FromLabelColumn,
		ToLabelColumn:   e.ToLabelColumn,
		FromLabel:       e.FromLabel,
		ToLabel:         e.ToLabel,
	}, nil
}

// checkFilterPlaceholders verifies that every `{{name}}` placeholder in
// a filter fragment is a declared view parameter.
func (v *View) checkFilterPlaceholders() error {
	check := func(where string, filters []string) error {
		for _, f := range filters {
			for _, m := range paramPlaceholderRe.FindAllStringSubmatch(f, -1) {
				if !v.HasParameter(m[1]) {
					return fmt.Errorf("view %s: %s filter references undeclared parameter %q", v.Name, where, m[1])
				}
			}
		}
		return nil
	}
	for _, label := range v.NodeLabels() {
		for _, s := range v.NodeSchemas(label) {
			if err := check("node "+label, s.Filters); err != nil {
				return err
			}
		}
	}
	for _, typ := range v.EdgeTypes() {
		for _, s := range v.EdgeSchemas(typ) {
			if err := check("edge "+typ, s.Filters); err != nil {
				return err
			}
		}
	}
	return nil
}

// SubstituteFilter expands `{alias}` and `{{param}}` placeholders in a
// catalog filter fragment. Parameter values are quoted as SQL string
// literals. Returns an error naming the first missing argument.
func SubstituteFilter(fragment, alias string, args map[string]string) (string, error) {
	out := strings.ReplaceAll(fragment, "{alias}", alias)
	var missing string
	out = paramPlaceholderRe.ReplaceAllStringFunc(out, func(m string) string {
		name := paramPlaceholderRe.FindStringSubmatch(m)[1]
		val, ok := args[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	})
	if missing != "" {
		return "", &MissingArgumentError{Name: missing}
	}
	return out, nil
}

// MissingArgumentError reports a filter placeholder with no supplied
// view argument.
type MissingArgumentError struct {
	Name string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing view argument %q", e.Name)
}
