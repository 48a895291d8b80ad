// Package graph defines the workflow graph data model and structural analysis.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// NodeSpec describes a single typed unit of work in a workflow graph.
// Config is an open key-value map; typed views over it are available via
// the config accessors in config.go.
type NodeSpec struct {
	ID     string                 `json:"id" yaml:"id"`
	Type   string                 `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// Validate checks the node invariants that hold regardless of type.
func (n *NodeSpec) Validate() error {
	if n.ID == "" {
		return errors.New("node: empty node ID")
	}
	if n.Type == "" {
		return fmt.Errorf("node %s: empty node type", n.ID)
	}
	return nil
}

// EdgeSpec describes a data dependency from one node to another.
// Handles are optional output/input key selectors; when empty, all of the
// source's outputs merge into the target's inputs.
type EdgeSpec struct {
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty" yaml:"target_handle,omitempty"`
}

// Validate checks the edge fields are populated.
func (e *EdgeSpec) Validate() error {
	if e.Source == "" {
		return errors.New("edge: empty source node")
	}
	if e.Target == "" {
		return errors.New("edge: empty target node")
	}
	return nil
}

// Graph is an ordered collection of nodes and the data dependencies between
// them. Edge endpoints are validated, not assumed: use validation.Validator
// before handing a graph to the optimizer or executor.
type Graph struct {
	ID    string     `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string     `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`
	Edges []EdgeSpec `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// NodeByID returns the node with the given ID, or nil if absent.
func (g *Graph) NodeByID(id string) *NodeSpec {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	return g.NodeByID(id) != nil
}

// NodeIDs returns the IDs of all nodes in graph order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for i := range g.Nodes {
		ids = append(ids, g.Nodes[i].ID)
	}
	return ids
}

// OutgoingEdges returns all edges whose source is the given node.
func (g *Graph) OutgoingEdges(id string) []EdgeSpec {
	var out []EdgeSpec
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges whose target is the given node.
func (g *Graph) IncomingEdges(id string) []EdgeSpec {
	var in []EdgeSpec
	for _, e := range g.Edges {
		if e.Target == id {
			in = append(in, e)
		}
	}
	return in
}

// Adjacency builds the forward adjacency map (source -> targets). Every node
// appears as a key, including nodes with no outgoing edges.
func (g *Graph) Adjacency() map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	for i := range g.Nodes {
		adj[g.Nodes[i].ID] = nil
	}
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}

// ReverseAdjacency builds the reverse adjacency map (target -> sources).
func (g *Graph) ReverseAdjacency() map[string][]string {
	rev := make(map[string][]string, len(g.Nodes))
	for i := range g.Nodes {
		rev[g.Nodes[i].ID] = nil
	}
	for _, e := range g.Edges {
		rev[e.Target] = append(rev[e.Target], e.Source)
	}
	return rev
}

// InDegrees computes the in-degree of every node.
func (g *Graph) InDegrees() map[string]int {
	deg := make(map[string]int, len(g.Nodes))
	for i := range g.Nodes {
		deg[g.Nodes[i].ID] = 0
	}
	for _, e := range g.Edges {
		deg[e.Target]++
	}
	return deg
}

// Clone returns a deep copy of the graph. The rewriter mutates its working
// copy, never the caller's graph.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		ID:    g.ID,
		Name:  g.Name,
		Nodes: make([]NodeSpec, len(g.Nodes)),
		Edges: make([]EdgeSpec, len(g.Edges)),
	}
	copy(clone.Edges, g.Edges)
	for i := range g.Nodes {
		clone.Nodes[i] = NodeSpec{
			ID:     g.Nodes[i].ID,
			Type:   g.Nodes[i].Type,
			Config: deepCopyConfig(g.Nodes[i].Config),
		}
	}
	return clone
}

// Normalized returns a copy with runtime-only config fields stripped, nodes
// sorted by ID and edges sorted by (source, target). Two graphs that differ
// only in ordering or runtime bookkeeping normalize identically; the plan
// cache fingerprints this form.
func (g *Graph) Normalized() *Graph {
	norm := g.Clone()
	for i := range norm.Nodes {
		for _, key := range runtimeConfigKeys {
			delete(norm.Nodes[i].Config, key)
		}
		if len(norm.Nodes[i].Config) == 0 {
			norm.Nodes[i].Config = nil
		}
	}
	sort.Slice(norm.Nodes, func(i, j int) bool {
		return norm.Nodes[i].ID < norm.Nodes[j].ID
	})
	sort.Slice(norm.Edges, func(i, j int) bool {
		if norm.Edges[i].Source != norm.Edges[j].Source {
			return norm.Edges[i].Source < norm.Edges[j].Source
		}
		return norm.Edges[i].Target < norm.Edges[j].Target
	})
	return norm
}

// runtimeConfigKeys are per-run bookkeeping fields that must not influence
// plan-cache fingerprints.
var runtimeConfigKeys = []string{
	"status", "result", "results", "started_at", "finished_at",
	"execution_time", "last_error",
}

func deepCopyConfig(config map[string]interface{}) map[string]interface{} {
	if config == nil {
		return nil
	}
	// JSON round-trip keeps the copy honest for nested maps and slices.
	raw, err := json.Marshal(config)
	if err != nil {
		copied := make(map[string]interface{}, len(config))
		for k, v := range config {
			copied[k] = v
		}
		return copied
	}
	var copied map[string]interface{}
	if err := json.Unmarshal(raw, &copied); err != nil {
		copied = make(map[string]interface{}, len(config))
		for k, v := range config {
			copied[k] = v
		}
	}
	return copied
}
