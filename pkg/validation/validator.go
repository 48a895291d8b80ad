// Package validation implements graph validation: independent rule checks
// aggregated into a single verdict consumed by the optimizer and executor.
package validation

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/flowforge/flowforge/pkg/graph"
)

// Result aggregates the outcome of all validation rules. Valid is true only
// when no rule produced an error; warnings never fail validation.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Options carries the optional inputs to validation. A nil Schema skips the
// schema-compatibility rule; nil BusinessRules skips the business-rule checks.
type Options struct {
	Schema        *Schema
	BusinessRules *BusinessRules
	// KnownTypes lists registered node types. Unknown types become warnings,
	// not errors, so graphs can be validated before handlers are registered.
	KnownTypes []string
}

// BusinessRules are organization-level constraints on graph shape.
type BusinessRules struct {
	// MaxNodesPerType caps how many nodes of a type one graph may contain.
	MaxNodesPerType map[string]int
	// RequiredTypes lists node types whose absence is worth a warning.
	RequiredTypes []string
	// ForbiddenCombinations lists sets of node types that must not coexist.
	ForbiddenCombinations [][]string
}

// Validator runs every rule independently and aggregates the results. A rule
// implementation that panics is caught and converted into a single error for
// that rule; the remaining rules still run.
type Validator struct {
	analyzer *graph.Analyzer
}

// NewValidator creates a graph validator.
func NewValidator() *Validator {
	return &Validator{analyzer: graph.NewAnalyzer()}
}

type rule struct {
	name string
	fn   func(*graph.Graph, Options, *Result)
}

// Validate runs all validation rules against the graph.
func (v *Validator) Validate(g *graph.Graph, opts Options) Result {
	result := Result{Errors: []string{}, Warnings: []string{}}

	rules := []rule{
		{"structure", v.checkStructure},
		{"edges", v.checkEdges},
		{"schema", v.checkSchema},
		{"business", v.checkBusinessRules},
		{"data-types", v.checkDataTypes},
		{"cycles", v.checkCycles},
	}

	for _, r := range rules {
		v.runRule(r, g, opts, &result)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *Validator) runRule(r rule, g *graph.Graph, opts Options, result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("validation rule %s failed: %v", r.name, rec))
		}
	}()
	r.fn(g, opts, result)
}

// checkStructure verifies every node carries an ID and a type, and flags
// unknown types as warnings.
func (v *Validator) checkStructure(g *graph.Graph, opts Options, result *Result) {
	known := make(map[string]bool, len(opts.KnownTypes))
	for _, t := range opts.KnownTypes {
		known[t] = true
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == "" {
			result.Errors = append(result.Errors, "found node with empty node ID")
			continue
		}
		if seen[node.ID] {
			result.Errors = append(result.Errors, fmt.Sprintf("duplicate node ID found: %s", node.ID))
		}
		seen[node.ID] = true

		if !IsValidIdentifier(node.ID) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("node ID '%s' contains characters outside [a-zA-Z0-9_-]", node.ID))
		}

		if node.Type == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("node %s has no type", node.ID))
			continue
		}
		if len(known) > 0 && !known[node.Type] {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("node %s has unknown type '%s'", node.ID, node.Type))
		}
	}
}

// checkEdges verifies edge endpoints reference existing nodes. Self-loops are
// warnings; the cycle rule reports them as errors separately.
func (v *Validator) checkEdges(g *graph.Graph, _ Options, result *Result) {
	for _, e := range g.Edges {
		if !g.HasNode(e.Source) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Edge source '%s' not found in nodes", e.Source))
		}
		if !g.HasNode(e.Target) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Edge target '%s' not found in nodes", e.Target))
		}
		if e.Source != "" && e.Source == e.Target {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("edge from %s to itself (self-loop)", e.Source))
		}
	}
}

// checkBusinessRules applies the optional organization-level constraints.
func (v *Validator) checkBusinessRules(g *graph.Graph, opts Options, result *Result) {
	rules := opts.BusinessRules
	if rules == nil {
		return
	}

	typeCounts := make(map[string]int)
	for i := range g.Nodes {
		typeCounts[g.Nodes[i].Type]++
	}

	for nodeType, max := range rules.MaxNodesPerType {
		if typeCounts[nodeType] > max {
			result.Errors = append(result.Errors,
				fmt.Sprintf("too many nodes of type '%s': %d (max %d)",
					nodeType, typeCounts[nodeType], max))
		}
	}

	for _, required := range rules.RequiredTypes {
		if typeCounts[required] == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("graph has no node of recommended type '%s'", required))
		}
	}

	for _, combo := range rules.ForbiddenCombinations {
		all := len(combo) > 0
		for _, nodeType := range combo {
			if typeCounts[nodeType] == 0 {
				all = false
				break
			}
		}
		if all {
			result.Errors = append(result.Errors,
				fmt.Sprintf("forbidden node type combination present: %s",
					strings.Join(combo, " + ")))
		}
	}
}

// checkDataTypes applies cheap heuristics to filter condition strings.
func (v *Validator) checkDataTypes(g *graph.Graph, _ Options, result *Result) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Type != graph.TypeFilter {
			continue
		}
		cfg := graph.FilterConfigOf(node)
		if cfg.Condition == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("filter node %s has no condition", node.ID))
			continue
		}
		if !balancedParens(cfg.Condition) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("filter node %s condition has unbalanced parentheses", node.ID))
			continue
		}
		// A condition that fails to compile will fail again at runtime;
		// surface it early, but only as a warning since custom handlers may
		// interpret conditions differently.
		if _, err := expr.Compile(cfg.Condition, expr.AllowUndefinedVariables()); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("filter node %s condition does not parse: %v", node.ID, err))
		}
	}
}

// checkCycles reports any directed cycle as a validation error.
func (v *Validator) checkCycles(g *graph.Graph, _ Options, result *Result) {
	if v.analyzer.HasCycle(g) {
		result.Errors = append(result.Errors, "graph contains a cycle")
	}
}

func balancedParens(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
