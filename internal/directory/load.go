package directory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"planengine/internal/model"
)

type rawFile struct {
	Companies   []Company    `yaml:"companies"`
	Departments []Department `yaml:"departments"`
	Users       []User       `yaml:"users"`
}

// LoadFile reads and validates a directory YAML file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	return Parse(data)
}

// Parse validates directory YAML. Problems are reported together.
func Parse(data []byte) (*Static, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, model.Invalid("yaml", "%v", err)
	}

	var errs model.ValidationErrors
	companies := make(map[string]struct{})
	for i, c := range raw.Companies {
		field := fmt.Sprintf("companies[%d].id", i)
		if c.ID == "" {
			errs.Add(field, "is required")
			continue
		}
		if _, dup := companies[c.ID]; dup {
			errs.Add(field, "duplicate company %q", c.ID)
		}
		companies[c.ID] = struct{}{}
	}

	departments := make(map[string]struct{})
	for i, dept := range raw.Departments {
		if dept.ID == "" {
			errs.Add(fmt.Sprintf("departments[%d].id", i), "is required")
			continue
		}
		if _, dup := departments[dept.ID]; dup {
			errs.Add(fmt.Sprintf("departments[%d].id", i), "duplicate department %q", dept.ID)
		}
		departments[dept.ID] = struct{}{}
		if dept.CompanyID != "" {
			if _, ok := companies[dept.CompanyID]; !ok {
				errs.Add(fmt.Sprintf("departments[%d].company_id", i), "unknown company %q", dept.CompanyID)
			}
		}
	}

	users := make(map[string]struct{})
	for i, u := range raw.Users {
		if u.ID == "" {
			errs.Add(fmt.Sprintf("users[%d].id", i), "is required")
			continue
		}
		if _, dup := users[u.ID]; dup {
			errs.Add(fmt.Sprintf("users[%d].id", i), "duplicate user %q", u.ID)
		}
		users[u.ID] = struct{}{}
		if u.CompanyID != "" {
			if _, ok := companies[u.CompanyID]; !ok {
				errs.Add(fmt.Sprintf("users[%d].company_id", i), "unknown company %q", u.CompanyID)
			}
		}
		if u.DepartmentID != "" {
			if _, ok := departments[u.DepartmentID]; !ok {
				errs.Add(fmt.Sprintf("users[%d].department_id", i), "unknown department %q", u.DepartmentID)
			}
		}
	}
	for i, u := range raw.Users {
		if u.Supervisor == "" {
			continue
		}
		if _, ok := users[u.Supervisor]; !ok {
			errs.Add(fmt.Sprintf("users[%d].supervisor", i), "unknown user %q", u.Supervisor)
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return NewStatic(raw.Companies, raw.Departments, raw.Users), nil
}
