package scope

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy mirrors policy.yml: role name to permission codes.
type Policy struct {
	Roles map[string][]string `yaml:"roles"`
}

// DefaultPolicy is used when no policy file exists.
func DefaultPolicy() *Policy {
	return &Policy{Roles: map[string][]string{
		"general_manager": {
			Prefix + PermViewAll,
			Prefix + PermApprovePlan,
			Prefix + PermApproveGoal,
			Prefix + PermChangePlan,
			Prefix + PermChangeGoal,
			Prefix + PermAddPlan,
			Prefix + PermAddGoal,
		},
		"department_manager": {
			Prefix + PermViewDepartment,
			Prefix + PermApprovePlan,
			Prefix + PermAddPlan,
			Prefix + PermAddGoal,
		},
		"employee": {
			Prefix + PermViewAssigned,
			Prefix + PermAddPlan,
			Prefix + PermAddGoal,
		},
	}}
}

// LoadPolicy reads the policy YAML from path. A missing file yields the
// default policy.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return &p, nil
}

// Expand returns the union of direct permissions and those granted by roles.
func (p *Policy) Expand(roles, direct []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(code string) {
		code = strings.TrimSpace(code)
		if code == "" {
			return
		}
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	for _, code := range direct {
		add(code)
	}
	if p == nil {
		return out
	}
	for _, role := range roles {
		for _, code := range p.Roles[strings.TrimSpace(role)] {
			add(code)
		}
	}
	return out
}
