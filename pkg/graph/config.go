package graph

// Typed views over the open per-node config map. Each view decodes the fields
// the engine itself reads and keeps the raw map for forward compatibility;
// handler-specific keys pass through untouched.

// Node type names the engine treats specially. Anything else is opaque to the
// optimizer and is executed through the handler registry as-is.
const (
	TypeSource    = "source"
	TypeFilter    = "filter"
	TypeTransform = "transform"
	TypeJoin      = "join"
	TypeAggregate = "aggregate"
	TypeBranch    = "branch"
	TypeExport    = "export"
	TypeOutput    = "output"
)

// SourceConfig is the typed view of a source node's config.
type SourceConfig struct {
	SourceType       string   // e.g. "database", "api", "file"
	SupportsFilter   bool     // source can apply pushed-down filter conditions
	PushedFilters    []string // filter conditions relocated into this source
	PushedProjection []string // projected fields relocated into this source
	Raw              map[string]interface{}
}

// FilterConfig is the typed view of a filter node's config.
type FilterConfig struct {
	Condition  string
	PushedDown bool
	Raw        map[string]interface{}
}

// TransformConfig is the typed view of a transform node's config.
type TransformConfig struct {
	Operation  string
	Fields     []string // populated when the operation is a pure field selection
	Complexity string   // "low", "medium", "high" cost hint
	Raw        map[string]interface{}
}

// JoinConfig is the typed view of a join node's config.
type JoinConfig struct {
	Condition string
	JoinType  string
	Priority  int // execution priority hint set by join reordering
	Raw       map[string]interface{}
}

// AggregateConfig is the typed view of an aggregate node's config.
type AggregateConfig struct {
	GroupBy   []string
	Functions []string
	Raw       map[string]interface{}
}

// SourceConfigOf decodes the source view of a node's config.
func SourceConfigOf(n *NodeSpec) SourceConfig {
	return SourceConfig{
		SourceType:       configString(n.Config, "source_type"),
		SupportsFilter:   configBool(n.Config, "supports_filter"),
		PushedFilters:    configStrings(n.Config, "pushed_filters"),
		PushedProjection: configStrings(n.Config, "pushed_projection"),
		Raw:              n.Config,
	}
}

// FilterConfigOf decodes the filter view of a node's config.
func FilterConfigOf(n *NodeSpec) FilterConfig {
	return FilterConfig{
		Condition:  configString(n.Config, "condition"),
		PushedDown: configBool(n.Config, "pushed_down"),
		Raw:        n.Config,
	}
}

// TransformConfigOf decodes the transform view of a node's config.
func TransformConfigOf(n *NodeSpec) TransformConfig {
	return TransformConfig{
		Operation:  configString(n.Config, "operation"),
		Fields:     configStrings(n.Config, "fields"),
		Complexity: configString(n.Config, "complexity"),
		Raw:        n.Config,
	}
}

// JoinConfigOf decodes the join view of a node's config.
func JoinConfigOf(n *NodeSpec) JoinConfig {
	return JoinConfig{
		Condition: configString(n.Config, "condition"),
		JoinType:  configString(n.Config, "join_type"),
		Priority:  configInt(n.Config, "priority"),
		Raw:       n.Config,
	}
}

// AggregateConfigOf decodes the aggregate view of a node's config.
func AggregateConfigOf(n *NodeSpec) AggregateConfig {
	return AggregateConfig{
		GroupBy:   configStrings(n.Config, "group_by"),
		Functions: configStrings(n.Config, "functions"),
		Raw:       n.Config,
	}
}

// SetConfig writes a key into the node's config map, allocating it if needed.
func (n *NodeSpec) SetConfig(key string, value interface{}) {
	if n.Config == nil {
		n.Config = make(map[string]interface{})
	}
	n.Config[key] = value
}

// IsTerminal reports whether the node is a designated terminal (export or
// output type). Dead-code elimination walks backward from terminals.
func (n *NodeSpec) IsTerminal() bool {
	return n.Type == TypeExport || n.Type == TypeOutput
}

func configString(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}

func configBool(config map[string]interface{}, key string) bool {
	if config == nil {
		return false
	}
	if b, ok := config[key].(bool); ok {
		return b
	}
	return false
}

func configInt(config map[string]interface{}, key string) int {
	if config == nil {
		return 0
	}
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func configStrings(config map[string]interface{}, key string) []string {
	if config == nil {
		return nil
	}
	switch v := config[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
