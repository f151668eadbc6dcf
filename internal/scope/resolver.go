package scope

import (
	"context"
	"fmt"
	"log/slog"

	"planengine/internal/directory"
)

// Resolver turns user ids into principals and routes recipients.
type Resolver struct {
	dir    directory.Directory
	policy *Policy
	log    *slog.Logger
}

// NewResolver wires a resolver. A nil policy means DefaultPolicy.
func NewResolver(dir directory.Directory, policy *Policy, log *slog.Logger) *Resolver {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{dir: dir, policy: policy, log: log}
}

// Directory exposes the underlying identity provider.
func (r *Resolver) Directory() directory.Directory {
	return r.dir
}

// Principal resolves userID. Company comes from the profile, then from
// the profile's department. When neither resolves the principal has no
// company and reads are not company filtered.
func (r *Resolver) Principal(ctx context.Context, userID string) (Principal, error) {
	u, err := r.dir.Profile(ctx, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("resolve principal: %w", err)
	}
	return r.fromUser(ctx, u), nil
}

func (r *Resolver) fromUser(ctx context.Context, u directory.User) Principal {
	p := Principal{
		UserID:       u.ID,
		Name:         u.DisplayName(),
		CompanyID:    r.companyOf(ctx, u),
		DepartmentID: u.DepartmentID,
		Permissions:  r.policy.Expand(u.Roles, u.Permissions),
		Superuser:    u.Superuser,
	}
	if p.CompanyID == "" && !p.Superuser {
		r.log.Warn("company scope unresolved, reads are unfiltered", "user_id", u.ID)
	}
	return p
}

func (r *Resolver) companyOf(ctx context.Context, u directory.User) string {
	if u.CompanyID != "" {
		return u.CompanyID
	}
	if u.DepartmentID == "" {
		return ""
	}
	dept, err := r.dir.Department(ctx, u.DepartmentID)
	if err != nil {
		return ""
	}
	return dept.CompanyID
}

// UsersWithPermission lists active users in companyID holding code.
func (r *Resolver) UsersWithPermission(ctx context.Context, companyID, code string) ([]Principal, error) {
	users, err := r.dir.Users(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var out []Principal
	for _, u := range users {
		p := r.fromUser(ctx, u)
		if p.Has(code) {
			out = append(out, p)
		}
	}
	return out, nil
}

// UsersWithRole lists active users in companyID carrying role.
func (r *Resolver) UsersWithRole(ctx context.Context, companyID, role string) ([]directory.User, error) {
	users, err := r.dir.Users(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var out []directory.User
	for _, u := range users {
		if u.HasRole(role) {
			out = append(out, u)
		}
	}
	return out, nil
}

// ActiveUsers lists active users in companyID.
func (r *Resolver) ActiveUsers(ctx context.Context, companyID string) ([]directory.User, error) {
	users, err := r.dir.Users(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Supervisor returns the supervisor of userID, if any.
func (r *Resolver) Supervisor(ctx context.Context, userID string) (string, error) {
	u, err := r.dir.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.Supervisor != "" {
		return u.Supervisor, nil
	}
	if u.DepartmentID == "" {
		return "", nil
	}
	dept, err := r.dir.Department(ctx, u.DepartmentID)
	if err != nil || dept.Manager == u.ID {
		return "", nil
	}
	return dept.Manager, nil
}

// Name returns the display name of userID, or the id itself.
func (r *Resolver) Name(ctx context.Context, userID string) string {
	u, err := r.dir.Profile(ctx, userID)
	if err != nil {
		return userID
	}
	return u.DisplayName()
}
