package ability

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
)

// Policy is a declarative rule set: named roles holding ordered rules,
// and identities mapping callers to roles plus the principal value
// substituted into rule conditions. Anonymous lists the roles applied
// to the empty identity; without it, anonymous callers get an empty
// ability that grants nothing.
type Policy struct {
	Roles      map[string][]PolicyRule   `yaml:"roles"`
	Identities map[string]PolicyIdentity `yaml:"identities"`
	Anonymous  []string                  `yaml:"anonymous"`
}

// PolicyRule is one rule of a role, in the filter-document condition
// language. The string "${principal}" in a condition value is replaced
// by the caller's principal when the ability is built.
type PolicyRule struct {
	Action   string         `yaml:"action"`
	Model    string         `yaml:"model"`
	Fields   []string       `yaml:"fields"`
	Where    map[string]any `yaml:"where"`
	Reason   string         `yaml:"reason"`
	Inverted bool           `yaml:"inverted"`
}

// PolicyIdentity binds a caller identity to roles and a principal
// value.
type PolicyIdentity struct {
	Principal any      `yaml:"principal"`
	Roles     []string `yaml:"roles"`
}

// LoadPolicy decodes a policy document.
func LoadPolicy(r io.Reader) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("ability: decode policy: %w", err)
	}
	return &p, nil
}

// LoadPolicyFile reads a policy document from disk.
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadPolicy(f)
}

// BuildFunc returns the ability build function over this policy: the
// identity's roles are concatenated in declaration order and their
// conditions parsed against the schema with the principal substituted.
// The empty identity gets the anonymous roles (an empty ability when
// none are declared); only a non-empty identity missing from the
// policy fails with IdentityNotFound.
func (p *Policy) BuildFunc(reg *schema.Registry) BuildFunc {
	return func(_ context.Context, identity string) (*Ability, error) {
		if identity == "" {
			return p.rulesFor(reg, p.Anonymous, nil)
		}
		id, ok := p.Identities[identity]
		if !ok {
			return nil, warden.NewIdentityNotFoundError(identity)
		}
		return p.rulesFor(reg, id.Roles, id.Principal)
	}
}

func (p *Policy) rulesFor(reg *schema.Registry, roles []string, principal any) (*Ability, error) {
	var rules []Rule
	for _, role := range roles {
		for _, pr := range p.Roles[role] {
			action := warden.Action(pr.Action)
			if !action.Valid() {
				return nil, fmt.Errorf("ability: unknown action %q in role %q", pr.Action, role)
			}
			var when predicate.P
			if len(pr.Where) > 0 {
				where, ok := substitute(pr.Where, principal).(map[string]any)
				if !ok {
					return nil, fmt.Errorf("ability: condition of role %q is not a document", role)
				}
				var err error
				when, err = predicate.FromMap(reg, pr.Model, where)
				if err != nil {
					return nil, err
				}
			}
			rules = append(rules, Rule{
				Action:   action,
				Model:    pr.Model,
				Fields:   pr.Fields,
				When:     when,
				Reason:   pr.Reason,
				Inverted: pr.Inverted,
			})
		}
	}
	return New(rules...), nil
}

func substitute(v any, principal any) any {
	switch v := v.(type) {
	case string:
		if v == "${principal}" {
			return principal
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = substitute(val, principal)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = substitute(val, principal)
		}
		return out
	default:
		return v
	}
}
