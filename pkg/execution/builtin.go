package execution

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// RegisterBuiltins installs the built-in handlers for the common node types.
// They operate on row sets: a "rows" key holding a slice of records. Nothing
// is registered implicitly; callers opt in.
func RegisterBuiltins(r *Registry) {
	r.Register("source", newSourceHandler)
	r.Register("filter", newFilterHandler)
	r.Register("transform", newTransformHandler)
	r.Register("join", newJoinHandler)
	r.Register("aggregate", newAggregateHandler)
	r.Register("branch", newBranchHandler)
	r.Register("export", newPassthroughHandler)
	r.Register("output", newPassthroughHandler)
}

// rowsOf extracts the row slice from a map, tolerating both generic and typed
// slices.
func rowsOf(m map[string]interface{}) []interface{} {
	switch v := m["rows"].(type) {
	case []interface{}:
		return v
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}

func compileCondition(condition string) (*vm.Program, error) {
	program, err := expr.Compile(condition, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", condition, err)
	}
	return program, nil
}

func rowEnv(row interface{}) map[string]interface{} {
	if m, ok := row.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"value": row}
}

// sourceHandler emits the rows declared in its config. Filters and
// projections relocated into the source by the rewriter are applied here, so
// consumers read already-filtered data.
type sourceHandler struct {
	rows       []interface{}
	filters    []*vm.Program
	projection []string
}

func newSourceHandler(config map[string]interface{}) (Handler, error) {
	h := &sourceHandler{rows: rowsOf(config)}

	if raw, ok := config["pushed_filters"].([]string); ok {
		for _, condition := range raw {
			program, err := compileCondition(condition)
			if err != nil {
				return nil, err
			}
			h.filters = append(h.filters, program)
		}
	}
	if raw, ok := config["pushed_filters"].([]interface{}); ok {
		for _, item := range raw {
			condition, ok := item.(string)
			if !ok {
				continue
			}
			program, err := compileCondition(condition)
			if err != nil {
				return nil, err
			}
			h.filters = append(h.filters, program)
		}
	}

	switch proj := config["pushed_projection"].(type) {
	case []string:
		h.projection = proj
	case []interface{}:
		for _, f := range proj {
			if s, ok := f.(string); ok {
				h.projection = append(h.projection, s)
			}
		}
	}

	return h, nil
}

func (h *sourceHandler) Execute(_ context.Context, _ map[string]interface{}, _ NodeContext) (map[string]interface{}, error) {
	rows := h.rows

	for _, program := range h.filters {
		var kept []interface{}
		for _, row := range rows {
			out, err := expr.Run(program, rowEnv(row))
			if err != nil {
				return nil, fmt.Errorf("pushed filter failed: %w", err)
			}
			if pass, _ := out.(bool); pass {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	if len(h.projection) > 0 {
		projected := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			env := rowEnv(row)
			selected := make(map[string]interface{}, len(h.projection))
			for _, field := range h.projection {
				if v, ok := env[field]; ok {
					selected[field] = v
				}
			}
			projected = append(projected, selected)
		}
		rows = projected
	}

	return map[string]interface{}{"rows": rows}, nil
}

type filterHandler struct {
	program *vm.Program
}

func newFilterHandler(config map[string]interface{}) (Handler, error) {
	condition, _ := config["condition"].(string)
	if condition == "" {
		return nil, fmt.Errorf("filter: missing required condition")
	}
	program, err := compileCondition(condition)
	if err != nil {
		return nil, err
	}
	return &filterHandler{program: program}, nil
}

func (h *filterHandler) Execute(_ context.Context, inputs map[string]interface{}, _ NodeContext) (map[string]interface{}, error) {
	var kept []interface{}
	for _, row := range rowsOf(inputs) {
		out, err := expr.Run(h.program, rowEnv(row))
		if err != nil {
			return nil, fmt.Errorf("filter condition failed: %w", err)
		}
		if pass, _ := out.(bool); pass {
			kept = append(kept, row)
		}
	}
	return map[string]interface{}{"rows": kept}, nil
}

// transformHandler either projects rows to the configured fields or evaluates
// the operation expression per row into a target field.
type transformHandler struct {
	fields      []string
	program     *vm.Program
	targetField string
}

func newTransformHandler(config map[string]interface{}) (Handler, error) {
	h := &transformHandler{targetField: "value"}

	switch fields := config["fields"].(type) {
	case []string:
		h.fields = fields
	case []interface{}:
		for _, f := range fields {
			if s, ok := f.(string); ok {
				h.fields = append(h.fields, s)
			}
		}
	}

	if operation, _ := config["operation"].(string); operation != "" && operation != "select" {
		program, err := expr.Compile(operation, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("invalid operation %q: %w", operation, err)
		}
		h.program = program
	}
	if target, _ := config["target_field"].(string); target != "" {
		h.targetField = target
	}
	return h, nil
}

func (h *transformHandler) Execute(_ context.Context, inputs map[string]interface{}, _ NodeContext) (map[string]interface{}, error) {
	rows := rowsOf(inputs)
	out := make([]interface{}, 0, len(rows))

	for _, row := range rows {
		env := rowEnv(row)
		result := make(map[string]interface{}, len(env)+1)

		if len(h.fields) > 0 {
			for _, field := range h.fields {
				if v, ok := env[field]; ok {
					result[field] = v
				}
			}
		} else {
			for k, v := range env {
				result[k] = v
			}
		}

		if h.program != nil {
			value, err := expr.Run(h.program, env)
			if err != nil {
				return nil, fmt.Errorf("transform operation failed: %w", err)
			}
			result[h.targetField] = value
		}
		out = append(out, result)
	}

	return map[string]interface{}{"rows": out}, nil
}

// joinHandler concatenates the row sets delivered on its input handles.
// Edges into a join should use target handles so the sides stay distinct.
type joinHandler struct{}

func newJoinHandler(map[string]interface{}) (Handler, error) {
	return &joinHandler{}, nil
}

func (h *joinHandler) Execute(_ context.Context, inputs map[string]interface{}, _ NodeContext) (map[string]interface{}, error) {
	var rows []interface{}
	for _, v := range inputs {
		switch slice := v.(type) {
		case []interface{}:
			rows = append(rows, slice...)
		}
	}
	return map[string]interface{}{"rows": rows}, nil
}

// aggregateHandler computes count/sum/avg over the input rows, optionally
// grouped by a single field.
type aggregateHandler struct {
	groupBy   string
	functions []string
}

func newAggregateHandler(config map[string]interface{}) (Handler, error) {
	h := &aggregateHandler{}
	switch groups := config["group_by"].(type) {
	case []string:
		if len(groups) > 0 {
			h.groupBy = groups[0]
		}
	case []interface{}:
		if len(groups) > 0 {
			if s, ok := groups[0].(string); ok {
				h.groupBy = s
			}
		}
	case string:
		h.groupBy = groups
	}
	switch fns := config["functions"].(type) {
	case []string:
		h.functions = fns
	case []interface{}:
		for _, f := range fns {
			if s, ok := f.(string); ok {
				h.functions = append(h.functions, s)
			}
		}
	}
	if len(h.functions) == 0 {
		h.functions = []string{"count"}
	}
	return h, nil
}

func (h *aggregateHandler) Execute(_ context.Context, inputs map[string]interface{}, _ NodeContext) (map[string]interface{}, error) {
	groups := make(map[string][]map[string]interface{})
	var order []string

	for _, row := range rowsOf(inputs) {
		env := rowEnv(row)
		key := ""
		if h.groupBy != "" {
			key = fmt.Sprintf("%v", env[h.groupBy])
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], env)
	}

	out := make([]interface{}, 0, len(groups))
	for _, key := range order {
		members := groups[key]
		record := map[string]interface{}{}
		if h.groupBy != "" {
			record[h.groupBy] = key
		}
		for _, fn := range h.functions {
			name, field := splitFunction(fn)
			switch name {
			case "count":
				record["count"] = len(members)
			case "sum":
				record["sum_"+field] = sumField(members, field)
			case "avg":
				if len(members) > 0 {
					record["avg_"+field] = sumField(members, field) / float64(len(members))
				}
			}
		}
		out = append(out, record)
	}

	return map[string]interface{}{"rows": out}, nil
}

// splitFunction parses "sum:amount" into ("sum", "amount").
func splitFunction(fn string) (name, field string) {
	for i := 0; i < len(fn); i++ {
		if fn[i] == ':' {
			return fn[:i], fn[i+1:]
		}
	}
	return fn, ""
}

func sumField(members []map[string]interface{}, field string) float64 {
	total := 0.0
	for _, m := range members {
		switch v := m[field].(type) {
		case float64:
			total += v
		case int:
			total += float64(v)
		case int64:
			total += float64(v)
		}
	}
	return total
}

// branchHandler evaluates its condition against the whole input map and
// passes rows through alongside the verdict.
type branchHandler struct {
	program *vm.Program
}

func newBranchHandler(config map[string]interface{}) (Handler, error) {
	condition, _ := config["condition"].(string)
	if condition == "" {
		return nil, fmt.Errorf("branch: missing required condition")
	}
	program, err := compileCondition(condition)
	if err != nil {
		return nil, err
	}
	return &branchHandler{program: program}, nil
}

func (h *branchHandler) Execute(_ context.Context, inputs map[string]interface{}, _ NodeContext) (map[string]interface{}, error) {
	out, err := expr.Run(h.program, inputs)
	if err != nil {
		return nil, fmt.Errorf("branch condition failed: %w", err)
	}
	verdict, _ := out.(bool)
	return map[string]interface{}{
		"rows":   rowsOf(inputs),
		"branch": verdict,
	}, nil
}

// passthroughHandler hands its inputs through unchanged. Used for export and
// output terminals, whose real side effects live outside the engine.
type passthroughHandler struct{}

func newPassthroughHandler(map[string]interface{}) (Handler, error) {
	return &passthroughHandler{}, nil
}

func (h *passthroughHandler) Execute(_ context.Context, inputs map[string]interface{}, _ NodeContext) (map[string]interface{}, error) {
	outputs := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		outputs[k] = v
	}
	return outputs, nil
}
