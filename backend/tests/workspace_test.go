package tests

import (
	"errors"
	"fmt"
	"testing"
)

type workspaceInfo struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
	Role string `json:"role"`
}

type memberInfo struct {
	UserId string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func TestWorkspaceLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	workspaceId, err := owner.createWorkspace("Customer Research")
	if err != nil {
		t.Fatal(err)
	}

	var ws workspaceInfo
	if err := owner.Get("/workspaces/" + workspaceId).Do(&ws); err != nil {
		t.Fatal(err)
	}
	if ws.Name != "Customer Research" || ws.Slug != "customer-research" || ws.Role != "owner" {
		t.Fatalf("unexpected workspace: %+v", ws)
	}

	err = owner.Put("/workspaces/"+workspaceId).Json(map[string]string{"name": "Renamed"}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	var list []workspaceInfo
	if err := owner.Get("/workspaces/").Do(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "Renamed" {
		t.Fatalf("unexpected workspace list: %+v", list)
	}

	if err := owner.Delete("/workspaces/" + workspaceId).Do(nil); err != nil {
		t.Fatal(err)
	}
	if err := owner.Get("/workspaces/" + workspaceId).Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestWorkspaceSlugCollision(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	first, err := owner.createWorkspace("Surveys")
	if err != nil {
		t.Fatal(err)
	}
	second, err := owner.createWorkspace("Surveys")
	if err != nil {
		t.Fatal(err)
	}

	var a, b workspaceInfo
	if err := owner.Get("/workspaces/" + first).Do(&a); err != nil {
		t.Fatal(err)
	}
	if err := owner.Get("/workspaces/" + second).Do(&b); err != nil {
		t.Fatal(err)
	}
	if a.Slug != "surveys" {
		t.Fatalf("unexpected slug %v", a.Slug)
	}
	if b.Slug == a.Slug || len(b.Slug) <= len("surveys-") {
		t.Fatalf("expected suffixed slug, got %v", b.Slug)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	outsider, err := env.newUser("outsider")
	if err != nil {
		t.Fatal(err)
	}

	workspaceId, err := owner.createWorkspace("Private")
	if err != nil {
		t.Fatal(err)
	}

	// A non member cannot see the workspace at all.
	if err := outsider.Get("/workspaces/" + workspaceId).Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for outsider, got %v", err)
	}
	if err := outsider.Get("/workspaces/" + workspaceId + "/members").Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for outsider members list, got %v", err)
	}

	var list []workspaceInfo
	if err := outsider.Get("/workspaces/").Do(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list for outsider, got %+v", list)
	}
}

func TestWorkspaceMembers(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	editor, err := env.newUser("editor")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("viewer")
	if err != nil {
		t.Fatal(err)
	}

	workspaceId, err := owner.createWorkspace("Team")
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.addMember(workspaceId, editor.email, "editor"); err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(workspaceId, viewer.email, "viewer"); err != nil {
		t.Fatal(err)
	}

	var members []memberInfo
	if err := owner.Get("/workspaces/" + workspaceId + "/members").Do(&members); err != nil {
		t.Fatal(err)
	}
	roles := make(map[string]string)
	for _, m := range members {
		roles[m.Email] = m.Role
	}
	expected := map[string]string{"owner@mail.com": "owner", "editor@mail.com": "editor", "viewer@mail.com": "viewer"}
	if len(roles) != len(expected) {
		t.Fatalf("unexpected members: %+v", members)
	}
	for email, role := range expected {
		if roles[email] != role {
			t.Fatalf("expected %v to have role %v, got %v", email, role, roles[email])
		}
	}

	if err := owner.addMember(workspaceId, editor.email, "viewer"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate member, got %v", err)
	}
	if err := owner.addMember(workspaceId, "ghost@mail.com", "viewer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
	if err := owner.addMember(workspaceId, viewer.email, "superuser"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad role, got %v", err)
	}
}

func TestWorkspaceRoleGates(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	admin, err := env.newUser("admin")
	if err != nil {
		t.Fatal(err)
	}
	editor, err := env.newUser("editor")
	if err != nil {
		t.Fatal(err)
	}
	extra, err := env.newUser("extra")
	if err != nil {
		t.Fatal(err)
	}

	workspaceId, err := owner.createWorkspace("Gated")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(workspaceId, admin.email, "admin"); err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(workspaceId, editor.email, "editor"); err != nil {
		t.Fatal(err)
	}

	// Editors cannot manage members.
	if err := editor.addMember(workspaceId, extra.email, "viewer"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for editor adding member, got %v", err)
	}

	// Admins can add members, but only owners can grant ownership.
	if err := admin.addMember(workspaceId, extra.email, "viewer"); err != nil {
		t.Fatal(err)
	}
	err = admin.Put(fmt.Sprintf("/workspaces/%v/members/%v", workspaceId, extra.userId)).
		Json(map[string]string{"role": "owner"}).Do(nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for admin granting owner, got %v", err)
	}

	// Workspace deletion is owner only.
	if err := admin.Delete("/workspaces/" + workspaceId).Do(nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for admin deleting workspace, got %v", err)
	}
	if err := owner.Delete("/workspaces/" + workspaceId).Do(nil); err != nil {
		t.Fatal(err)
	}
}

func TestLastOwnerProtection(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	partner, err := env.newUser("partner")
	if err != nil {
		t.Fatal(err)
	}

	workspaceId, err := owner.createWorkspace("Solo")
	if err != nil {
		t.Fatal(err)
	}

	demote := func(c client, userId string) error {
		return c.Put(fmt.Sprintf("/workspaces/%v/members/%v", workspaceId, userId)).
			Json(map[string]string{"role": "admin"}).Do(nil)
	}

	if err := demote(owner, owner.userId); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict demoting the only owner, got %v", err)
	}
	err = owner.Delete(fmt.Sprintf("/workspaces/%v/members/%v", workspaceId, owner.userId)).Do(nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict removing the only owner, got %v", err)
	}

	// A second owner unblocks the demotion.
	if err := owner.addMember(workspaceId, partner.email, "owner"); err != nil {
		t.Fatal(err)
	}
	if err := demote(owner, owner.userId); err != nil {
		t.Fatal(err)
	}
}

func TestMemberSelfRemoval(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("viewer")
	if err != nil {
		t.Fatal(err)
	}

	workspaceId, err := owner.createWorkspace("Leavable")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(workspaceId, viewer.email, "viewer"); err != nil {
		t.Fatal(err)
	}

	err = viewer.Delete(fmt.Sprintf("/workspaces/%v/members/%v", workspaceId, viewer.userId)).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := viewer.Get("/workspaces/" + workspaceId).Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected workspace to vanish after leaving, got %v", err)
	}
}
