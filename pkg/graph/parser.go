package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowforge/flowforge/pkg/domain/types"
)

// yamlGraph mirrors the on-disk document structure before conversion to the
// domain Graph.
type yamlGraph struct {
	ID    string     `yaml:"id,omitempty" json:"id,omitempty"`
	Name  string     `yaml:"name" json:"name"`
	Nodes []yamlNode `yaml:"nodes" json:"nodes"`
	Edges []yamlEdge `yaml:"edges,omitempty" json:"edges,omitempty"`
}

type yamlNode struct {
	ID     string                 `yaml:"id" json:"id"`
	Type   string                 `yaml:"type" json:"type"`
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

type yamlEdge struct {
	Source       string `yaml:"source" json:"source"`
	Target       string `yaml:"target" json:"target"`
	SourceHandle string `yaml:"source_handle,omitempty" json:"source_handle,omitempty"`
	TargetHandle string `yaml:"target_handle,omitempty" json:"target_handle,omitempty"`
}

// Parse parses a graph document from YAML bytes. JSON input also works since
// YAML is a superset, but ParseJSON avoids the YAML type coercions when the
// input is known to be JSON.
func Parse(data []byte) (*Graph, error) {
	if len(data) == 0 {
		return nil, errors.New("empty graph document")
	}

	var yg yamlGraph
	if err := yaml.Unmarshal(data, &yg); err != nil {
		return nil, fmt.Errorf("failed to parse graph document: %w", err)
	}

	return convert(&yg)
}

// ParseJSON parses a graph document from JSON bytes.
func ParseJSON(data []byte) (*Graph, error) {
	if len(data) == 0 {
		return nil, errors.New("empty graph document")
	}

	var yg yamlGraph
	if err := json.Unmarshal(data, &yg); err != nil {
		return nil, fmt.Errorf("failed to parse graph document: %w", err)
	}

	return convert(&yg)
}

// ParseFile loads and parses a graph document from disk, choosing the decoder
// by file extension.
func ParseFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	if strings.HasSuffix(path, ".json") {
		return ParseJSON(data)
	}
	return Parse(data)
}

func convert(yg *yamlGraph) (*Graph, error) {
	g := &Graph{
		ID:    yg.ID,
		Name:  yg.Name,
		Nodes: make([]NodeSpec, 0, len(yg.Nodes)),
		Edges: make([]EdgeSpec, 0, len(yg.Edges)),
	}
	if g.ID == "" {
		g.ID = types.NewWorkflowID().String()
	}

	seen := make(map[string]bool, len(yg.Nodes))
	for _, yn := range yg.Nodes {
		node := NodeSpec{ID: yn.ID, Type: yn.Type, Config: yn.Config}
		if err := node.Validate(); err != nil {
			return nil, err
		}
		if seen[node.ID] {
			return nil, fmt.Errorf("duplicate node ID: %s", node.ID)
		}
		seen[node.ID] = true
		g.Nodes = append(g.Nodes, node)
	}

	for _, ye := range yg.Edges {
		edge := EdgeSpec{
			Source:       ye.Source,
			Target:       ye.Target,
			SourceHandle: ye.SourceHandle,
			TargetHandle: ye.TargetHandle,
		}
		if err := edge.Validate(); err != nil {
			return nil, err
		}
		g.Edges = append(g.Edges, edge)
	}

	return g, nil
}
