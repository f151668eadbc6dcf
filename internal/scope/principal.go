// Package scope resolves who is asking and what they may see.
package scope

import (
	"strings"

	"planengine/internal/model"
)

// Prefix is the application label in front of every permission code.
const Prefix = "plan_management."

// Wildcard grants every permission.
const Wildcard = "__all__"

// Permission codes, without the application prefix.
const (
	PermAddPlan        = "add_plan"
	PermChangePlan     = "change_plan"
	PermApprovePlan    = "approve_plan"
	PermAddGoal        = "add_goal"
	PermChangeGoal     = "change_goal"
	PermApproveGoal    = "approve_goal"
	PermViewAll        = "view_all"
	PermViewAssigned   = "view_assigned"
	PermViewDepartment = "view_department"
)

// Principal is the caller of a service operation.
type Principal struct {
	UserID       string
	Name         string
	CompanyID    string
	DepartmentID string
	Permissions  []string
	Superuser    bool
}

// System is the principal scheduled jobs act as.
var System = Principal{UserID: "system", Name: "系统", Superuser: true}

// Has reports whether the principal holds code. Codes may be given with or
// without the application prefix.
func (p Principal) Has(code string) bool {
	if p.Superuser {
		return true
	}
	code = strings.TrimPrefix(code, Prefix)
	for _, perm := range p.Permissions {
		perm = strings.TrimPrefix(strings.TrimSpace(perm), Prefix)
		if perm == Wildcard || perm == code {
			return true
		}
	}
	return false
}

// CanDecide reports whether the principal may resolve requests on kind.
func (p Principal) CanDecide(kind model.Kind) bool {
	if kind == model.KindGoal {
		return p.Has(PermChangeGoal) || p.Has(PermApproveGoal)
	}
	return p.Has(PermChangePlan) || p.Has(PermApprovePlan)
}

// ApprovePermission is the code approvers of kind hold.
func ApprovePermission(kind model.Kind) string {
	if kind == model.KindGoal {
		return PermApproveGoal
	}
	return PermApprovePlan
}

// Predicate is the storage-side filter for what a principal may read.
type Predicate struct {
	// CompanyID is empty when company scope could not be resolved.
	CompanyID string
	// All skips visibility checks within the company.
	All          bool
	UserID       string
	DepartmentID string
}

// Unrestricted matches every row.
var Unrestricted = Predicate{All: true}

// Predicate builds the read filter for the principal.
func (p Principal) Predicate() Predicate {
	pred := Predicate{
		CompanyID: p.CompanyID,
		UserID:    p.UserID,
		All:       p.Superuser || p.Has(PermViewAll),
	}
	if p.Superuser {
		pred.CompanyID = ""
	}
	if p.Has(PermViewDepartment) {
		pred.DepartmentID = p.DepartmentID
	}
	return pred
}

// Visible reports whether an object with the given relations passes the
// predicate. It mirrors the SQL rendering in the store.
func (pred Predicate) Visible(companyID, departmentID string, users ...string) bool {
	if pred.CompanyID != "" && companyID != pred.CompanyID {
		return false
	}
	if pred.All {
		return true
	}
	for _, u := range users {
		if u != "" && u == pred.UserID {
			return true
		}
	}
	return pred.DepartmentID != "" && departmentID == pred.DepartmentID
}
