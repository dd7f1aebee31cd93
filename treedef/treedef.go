// Package treedef loads declarative tree definitions from YAML or JSON and
// applies them to a container, creating the described groups and leaves.
// It is the bulk-loading front end used by the CLI.
package treedef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/hierarchy"
	"github.com/mbellward/arbor/internal/util"
)

// NodeDef describes one node to create. Kind may be omitted: definitions
// with children default to groups, the rest to leaves.
type NodeDef struct {
	Name     string         `yaml:"name" json:"name"`
	Kind     string         `yaml:"kind,omitempty" json:"kind,omitempty"` // "group" or "leaf"
	Attrs    map[string]any `yaml:"attrs,omitempty" json:"attrs,omitempty"`
	Data     string         `yaml:"data,omitempty" json:"data,omitempty"` // leaf payload
	Children []NodeDef      `yaml:"children,omitempty" json:"children,omitempty"`
}

// TreeDef is a forest of node definitions rooted at the container root.
type TreeDef struct {
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`
}

// LoadFile reads a tree definition, picking the format by file extension.
// Supports YAML (.yaml, .yml) and JSON (.json).
func LoadFile(path string) (*TreeDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var def TreeDef
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tree definition: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tree definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown tree definition file extension: %s", path)
	}
	return &def, nil
}

// Apply creates every defined node under the container root. Nodes are
// created parents-first; a failure aborts the load with the offending
// definition named in the error.
func (t *TreeDef) Apply(c *hierarchy.Container) error {
	logger := util.GetLogger("treedef.Apply")

	count := 0
	for i := range t.Nodes {
		n, err := applyDef(c, c.Root(), &t.Nodes[i], &count)
		if err != nil {
			return err
		}
		n.Release()
	}
	logger.Info().Int("nodes", count).Msg("Applied tree definition")
	return nil
}

func applyDef(c *hierarchy.Container, parent *hierarchy.Node, def *NodeDef, count *int) (*hierarchy.Node, error) {
	kind, err := def.kind()
	if err != nil {
		return nil, err
	}

	var node *hierarchy.Node
	switch kind {
	case arbor.GroupKind:
		node, err = c.CreateGroup(parent, def.Name)
	case arbor.LeafKind:
		node, err = c.CreateLeaf(parent, def.Name, []byte(def.Data))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %q under %q: %w", def.Name, parent.Path(), err)
	}
	*count++

	for name, value := range def.Attrs {
		if err := node.SetAttr(name, value); err != nil {
			node.Release()
			return nil, fmt.Errorf("failed to set attribute %q on %q: %w", name, node.Path(), err)
		}
	}

	for i := range def.Children {
		child, err := applyDef(c, node, &def.Children[i], count)
		if err != nil {
			node.Release()
			return nil, err
		}
		child.Release()
	}
	return node, nil
}

// kind resolves the definition's node kind, defaulting from the presence of
// children.
func (d *NodeDef) kind() (arbor.NodeKind, error) {
	switch d.Kind {
	case "group":
		return arbor.GroupKind, nil
	case "leaf":
		if len(d.Children) > 0 {
			return 0, fmt.Errorf("leaf definition %q cannot have children", d.Name)
		}
		return arbor.LeafKind, nil
	case "":
		if len(d.Children) > 0 {
			return arbor.GroupKind, nil
		}
		if d.Data != "" {
			return arbor.LeafKind, nil
		}
		return arbor.GroupKind, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q for %q", d.Kind, d.Name)
	}
}
