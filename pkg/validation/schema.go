package validation

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/flowforge/flowforge/pkg/graph"
)

// NodeTypeSchema declares, for one node type, the JSON Schema its config must
// satisfy and the data shape it produces and accepts.
type NodeTypeSchema struct {
	// ConfigSchema is a JSON Schema document for the node's config map.
	// Nil means any config is acceptable.
	ConfigSchema map[string]interface{}
	// OutputShape names the shape this node type emits (e.g. "rows", "record").
	OutputShape string
	// AcceptsShapes lists upstream shapes this node type can consume.
	// Empty means any shape is acceptable.
	AcceptsShapes []string
}

// Schema maps node types to their declared schemas. Types absent from the map
// are not schema-checked.
type Schema struct {
	Types map[string]NodeTypeSchema
}

type yamlNodeTypeSchema struct {
	ConfigSchema  map[string]interface{} `yaml:"config_schema"`
	OutputShape   string                 `yaml:"output_shape"`
	AcceptsShapes []string               `yaml:"accepts_shapes"`
}

// LoadSchemaFile reads a schema definition from a YAML or JSON file. The file
// maps node types to their config schema and data shapes:
//
//	filter:
//	  config_schema: {type: object, required: [condition]}
//	  output_shape: rows
//	  accepts_shapes: [rows]
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var raw map[string]yamlNodeTypeSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	schema := &Schema{Types: make(map[string]NodeTypeSchema, len(raw))}
	for nodeType, ts := range raw {
		schema.Types[nodeType] = NodeTypeSchema{
			ConfigSchema:  normalizeYAML(ts.ConfigSchema),
			OutputShape:   ts.OutputShape,
			AcceptsShapes: ts.AcceptsShapes,
		}
	}
	return schema, nil
}

// normalizeYAML rewrites map[interface{}]interface{} values produced by YAML
// decoding into map[string]interface{} so the JSON Schema loader accepts them.
func normalizeYAML(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeYAML(val)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// checkSchema validates node configs against their declared JSON Schemas and
// flags incompatible shapes between adjacent nodes. Runs only when a schema
// was supplied.
func (v *Validator) checkSchema(g *graph.Graph, opts Options, result *Result) {
	schema := opts.Schema
	if schema == nil || len(schema.Types) == 0 {
		return
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		ts, ok := schema.Types[node.Type]
		if !ok || ts.ConfigSchema == nil {
			continue
		}

		schemaLoader := gojsonschema.NewGoLoader(ts.ConfigSchema)
		config := node.Config
		if config == nil {
			config = map[string]interface{}{}
		}
		docLoader := gojsonschema.NewGoLoader(config)

		res, err := gojsonschema.Validate(schemaLoader, docLoader)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %s: config schema check failed: %v", node.ID, err))
			continue
		}
		for _, desc := range res.Errors() {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %s: config %s", node.ID, desc.String()))
		}
	}

	// Shape compatibility between adjacent nodes.
	for _, e := range g.Edges {
		source := g.NodeByID(e.Source)
		target := g.NodeByID(e.Target)
		if source == nil || target == nil {
			// Dangling edges are the edge rule's problem.
			continue
		}

		sourceSchema, sourceOK := schema.Types[source.Type]
		targetSchema, targetOK := schema.Types[target.Type]
		if !sourceOK || !targetOK {
			continue
		}
		if sourceSchema.OutputShape == "" || len(targetSchema.AcceptsShapes) == 0 {
			continue
		}

		if !containsString(targetSchema.AcceptsShapes, sourceSchema.OutputShape) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("incompatible shapes on edge %s -> %s: %s produces '%s', %s accepts %v",
					e.Source, e.Target, e.Source, sourceSchema.OutputShape,
					e.Target, targetSchema.AcceptsShapes))
		}
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
