package domain

import (
	"regexp"
	"slices"
	"strings"

	"go.trai.ch/zerr"
)

var validNodeNameRegex = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

// NodeSpec is a node template inside a module or trait, before identity
// resolution. Dependency references are either bare sibling names or full
// dot-separated identities.
type NodeSpec struct {
	Kind         NodeKind
	Dependencies []string
	Inputs       []string
	Sig          string
	Body         BodyFunc
	Start        StartFunc
}

// Trait is a reusable bundle of node templates a module can inherit.
type Trait struct {
	Name  string
	Nodes map[string]NodeSpec
}

// Module is a named grouping of nodes and nested modules. A module may list
// traits in Use; trait nodes are installed first and the module's own nodes
// override them individually. The tree is built once at load time and is
// immutable for the evaluation session.
type Module struct {
	Name     string
	Use      []string
	Nodes    map[string]NodeSpec
	Children []*Module
}

// Flatten resolves the module tree against the given traits into a flat node
// set with full dot-separated identities, ready to be added to a Graph.
// Trait inheritance is resolved here so the evaluator only ever sees plain
// nodes; there is no inheritance at evaluation time.
func (m *Module) Flatten(traits map[string]Trait) ([]Node, error) {
	var nodes []Node
	if err := m.flattenInto(&nodes, traits, ""); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (m *Module) flattenInto(out *[]Node, traits map[string]Trait, prefix string) error {
	if m.Name != "" && !validNodeNameRegex.MatchString(m.Name) {
		return zerr.With(ErrInvalidNodeName, "module", m.Name)
	}

	path := prefix
	if m.Name != "" {
		path = joinPath(prefix, m.Name)
	}

	// Trait nodes first, in declaration order, then the module's own nodes.
	// A later entry for the same name replaces the earlier one wholesale.
	effective := make(map[string]NodeSpec)
	for _, use := range m.Use {
		trait, ok := traits[use]
		if !ok {
			return zerr.With(zerr.With(ErrUnknownTrait, "trait", use), "module", path)
		}
		for name, spec := range trait.Nodes {
			effective[name] = spec
		}
	}
	for name, spec := range m.Nodes {
		effective[name] = spec
	}

	names := make([]string, 0, len(effective))
	for name := range effective {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if !validNodeNameRegex.MatchString(name) {
			return zerr.With(zerr.With(ErrInvalidNodeName, "node", name), "module", path)
		}
		spec := effective[name]
		node := Node{
			Name:   NewInternedString(joinPath(path, name)),
			Kind:   spec.Kind,
			Inputs: NewInternedStrings(spec.Inputs),
			Sig:    spec.Sig,
			Body:   spec.Body,
			Start:  spec.Start,
		}
		node.Dependencies = make([]InternedString, len(spec.Dependencies))
		for i, dep := range spec.Dependencies {
			node.Dependencies[i] = resolveDependency(path, dep)
		}
		*out = append(*out, node)
	}

	for _, child := range m.Children {
		if err := child.flattenInto(out, traits, path); err != nil {
			return err
		}
	}
	return nil
}

// resolveDependency turns a dependency reference into a full identity. A bare
// name refers to a sibling node in the same module; anything containing a dot
// is already a full path.
func resolveDependency(modulePath, dep string) InternedString {
	if strings.Contains(dep, ".") {
		return NewInternedString(dep)
	}
	return NewInternedString(joinPath(modulePath, dep))
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
