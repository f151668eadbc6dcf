// Package directory is the identity provider boundary: companies,
// departments and users are owned elsewhere and only read here.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"planengine/internal/model"
)

// Roles the engine routes reminders by.
const (
	RoleGeneralManager    = "general_manager"
	RoleDepartmentManager = "department_manager"
)

// Company is a tenant.
type Company struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Department belongs to one company.
type Department struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	CompanyID string `yaml:"company_id"`
	Manager   string `yaml:"manager"`
}

// User is the profile the engine needs about a person.
type User struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	CompanyID      string   `yaml:"company_id"`
	DepartmentID   string   `yaml:"department_id"`
	Roles          []string `yaml:"roles"`
	Permissions    []string `yaml:"permissions"`
	Superuser      bool     `yaml:"superuser"`
	Inactive       bool     `yaml:"inactive"`
	Supervisor     string   `yaml:"supervisor"`
	TelegramChatID int64    `yaml:"telegram_chat_id"`
}

// Active reports whether the user may receive work.
func (u User) Active() bool {
	return !u.Inactive
}

// HasRole reports whether the user carries role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}

// DisplayName falls back to the id when no name is configured.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// Directory reads identity data.
type Directory interface {
	Profile(ctx context.Context, userID string) (User, error)
	Department(ctx context.Context, id string) (Department, error)
	// Users lists active users; an empty companyID lists every company.
	Users(ctx context.Context, companyID string) ([]User, error)
	Companies(ctx context.Context) ([]Company, error)
}

// Static is an in-memory Directory, usually loaded from directory.yml.
type Static struct {
	companies   []Company
	departments map[string]Department
	users       map[string]User
	order       []string
}

// NewStatic builds a Static directory from already validated records.
func NewStatic(companies []Company, departments []Department, users []User) *Static {
	d := &Static{
		companies:   append([]Company(nil), companies...),
		departments: make(map[string]Department, len(departments)),
		users:       make(map[string]User, len(users)),
	}
	for _, dept := range departments {
		d.departments[dept.ID] = dept
	}
	for _, u := range users {
		d.users[u.ID] = u
		d.order = append(d.order, u.ID)
	}
	sort.Strings(d.order)
	return d
}

func (d *Static) Profile(_ context.Context, userID string) (User, error) {
	u, ok := d.users[userID]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	return u, nil
}

func (d *Static) Department(_ context.Context, id string) (Department, error) {
	dept, ok := d.departments[id]
	if !ok {
		return Department{}, fmt.Errorf("department %s: %w", id, model.ErrNotFound)
	}
	return dept, nil
}

func (d *Static) Users(_ context.Context, companyID string) ([]User, error) {
	var out []User
	for _, id := range d.order {
		u := d.users[id]
		if !u.Active() {
			continue
		}
		if companyID != "" && d.companyOf(u) != companyID {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (d *Static) Companies(_ context.Context) ([]Company, error) {
	return append([]Company(nil), d.companies...), nil
}

func (d *Static) companyOf(u User) string {
	if u.CompanyID != "" {
		return u.CompanyID
	}
	return d.departments[u.DepartmentID].CompanyID
}
