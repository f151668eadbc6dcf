package scope

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"planengine/internal/directory"
	"planengine/internal/model"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	dir := directory.NewStatic(
		[]directory.Company{{ID: "c1"}},
		[]directory.Department{{ID: "d1", CompanyID: "c1", Manager: "boss"}},
		[]directory.User{
			{ID: "boss", CompanyID: "c1", Roles: []string{"general_manager"}},
			{ID: "u1", DepartmentID: "d1"},
			{ID: "orphan"},
			{ID: "root", Superuser: true},
		},
	)
	return NewResolver(dir, DefaultPolicy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPrincipalCompanyResolution(t *testing.T) {
	r := testResolver(t)
	ctx := context.Background()

	u1, err := r.Principal(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u1.CompanyID != "c1" {
		t.Fatalf("u1 company = %q, want c1 via department", u1.CompanyID)
	}

	orphan, err := r.Principal(ctx, "orphan")
	if err != nil {
		t.Fatal(err)
	}
	if got := orphan.Predicate().CompanyID; got != "" {
		t.Fatalf("orphan predicate company = %q, want unfiltered", got)
	}
}

func TestHasWildcardAndPrefix(t *testing.T) {
	p := Principal{Permissions: []string{"plan_management.approve_plan"}}
	if !p.Has(PermApprovePlan) || !p.Has("plan_management.approve_plan") {
		t.Fatal("expected approve_plan with and without prefix")
	}
	if p.Has(PermViewAll) {
		t.Fatal("unexpected view_all")
	}
	all := Principal{Permissions: []string{"plan_management.__all__"}}
	if !all.Has(PermChangeGoal) {
		t.Fatal("wildcard should grant change_goal")
	}
	if !all.CanDecide(model.KindGoal) {
		t.Fatal("wildcard should allow goal decisions")
	}
}

func TestPredicateVisible(t *testing.T) {
	pred := Principal{UserID: "u1", CompanyID: "c1", DepartmentID: "d1", Permissions: []string{PermViewDepartment}}.Predicate()
	if !pred.Visible("c1", "d2", "u1") {
		t.Fatal("own object should be visible")
	}
	if !pred.Visible("c1", "d1", "u9") {
		t.Fatal("department object should be visible with view_department")
	}
	if pred.Visible("c2", "d1", "u1") {
		t.Fatal("other company should be hidden")
	}
	if pred.Visible("c1", "d2", "u9") {
		t.Fatal("unrelated object should be hidden")
	}
}

func TestUsersWithPermission(t *testing.T) {
	r := testResolver(t)
	approvers, err := r.UsersWithPermission(context.Background(), "c1", PermApprovePlan)
	if err != nil {
		t.Fatal(err)
	}
	if len(approvers) != 1 || approvers[0].UserID != "boss" {
		t.Fatalf("approvers = %#v, want boss", approvers)
	}
	sup, err := r.Supervisor(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sup != "boss" {
		t.Fatalf("supervisor = %q, want boss", sup)
	}
}
