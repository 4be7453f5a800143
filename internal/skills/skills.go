// Package skills holds the fixed registry of skills the planner may emit and
// the executor may run. The registry is the single source for the planner's
// whitelist and required arguments and for the policy gate's skill classes.
package skills

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill IDs referenced from Go code.
const (
	TaskCreate         = "clickup_task_create"
	TaskListWeekly     = "clickup_task_list_weekly"
	SwitchClient       = "switch_client"
	SetDefaultClient   = "set_default_client"
	ClearDefaults      = "clear_defaults"
	Help               = "help"
	ClientLookup       = "cc_client_lookup"
	BrandList          = "cc_brand_list"
	MappingAudit       = "cc_brand_mapping_audit"
	RemediationPreview = "cc_brand_mapping_remediation_preview"
	RemediationApply   = "cc_brand_mapping_remediation_apply"
	AssignmentUpsert   = "cc_assignment_upsert"
	AssignmentRemove   = "cc_assignment_remove"
	BrandCreate        = "cc_brand_create"
	BrandUpdate        = "cc_brand_update"
)

//go:embed skills.yaml
var registryYAML []byte

// Skill describes one invocable unit of work.
type Skill struct {
	ID           string   `yaml:"id"`
	Description  string   `yaml:"description"`
	RequiredArgs []string `yaml:"required_args"`
	OptionalArgs []string `yaml:"optional_args"`
	Mutation     bool     `yaml:"mutation"`
	AdminOnly    bool     `yaml:"admin_only"`
	ReadOnly     bool     `yaml:"read_only"`
}

// Registry is an immutable set of skills keyed by id.
type Registry struct {
	byID  map[string]Skill
	order []string
}

type registryFile struct {
	Skills []Skill `yaml:"skills"`
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("skills: parse registry: %w", err)
	}
	r := &Registry{byID: make(map[string]Skill, len(f.Skills))}
	for _, s := range f.Skills {
		if s.ID == "" {
			return nil, fmt.Errorf("skills: skill with empty id")
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, fmt.Errorf("skills: duplicate skill id %q", s.ID)
		}
		if s.Mutation && s.ReadOnly {
			return nil, fmt.Errorf("skills: %s cannot be both mutation and read_only", s.ID)
		}
		r.byID[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	return r, nil
}

var defaultRegistry = mustParse(registryYAML)

func mustParse(data []byte) *Registry {
	r, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the embedded registry.
func Default() *Registry {
	return defaultRegistry
}

// Lookup returns the skill for id.
func (r *Registry) Lookup(id string) (Skill, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// IDs returns skill ids in registry order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// MissingArgs returns the required arguments of s that are absent or empty
// in args, sorted.
func (s Skill) MissingArgs(args map[string]any) []string {
	var missing []string
	for _, name := range s.RequiredArgs {
		v, ok := args[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Catalogue renders the registry for an LLM prompt, one skill per line.
func (r *Registry) Catalogue() string {
	var b strings.Builder
	for _, id := range r.order {
		s := r.byID[id]
		fmt.Fprintf(&b, "- %s: %s", s.ID, s.Description)
		if len(s.RequiredArgs) > 0 {
			fmt.Fprintf(&b, " required_args=[%s]", strings.Join(s.RequiredArgs, ", "))
		}
		if len(s.OptionalArgs) > 0 {
			fmt.Fprintf(&b, " optional_args=[%s]", strings.Join(s.OptionalArgs, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
