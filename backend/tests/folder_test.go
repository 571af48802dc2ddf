package tests

import (
	"errors"
	"fmt"
	"testing"
)

type folderInfo struct {
	Id          string  `json:"id"`
	WorkspaceId string  `json:"workspace_id"`
	Name        string  `json:"name"`
	ParentId    *string `json:"parent_id"`
}

func (c *client) createFolder(workspaceId, name string, parentId *string) (string, error) {
	body := map[string]interface{}{"workspace_id": workspaceId, "name": name}
	if parentId != nil {
		body["parent_id"] = *parentId
	}
	var res folderInfo
	err := c.Post("/folders/").Json(body).Do(&res)
	if err != nil {
		return "", err
	}
	return res.Id, nil
}

func TestFolderTree(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	workspaceId, err := owner.createWorkspace("Docs")
	if err != nil {
		t.Fatal(err)
	}

	rootId, err := owner.createFolder(workspaceId, "Surveys", nil)
	if err != nil {
		t.Fatal(err)
	}
	childId, err := owner.createFolder(workspaceId, "2026", &rootId)
	if err != nil {
		t.Fatal(err)
	}

	var child folderInfo
	if err := owner.Get("/folders/" + childId).Do(&child); err != nil {
		t.Fatal(err)
	}
	if child.ParentId == nil || *child.ParentId != rootId {
		t.Fatalf("unexpected parent: %+v", child)
	}

	var children []folderInfo
	if err := owner.Get("/folders/" + rootId + "/children").Do(&children); err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Id != childId {
		t.Fatalf("unexpected children: %+v", children)
	}

	var all []folderInfo
	if err := owner.Get("/folders/?workspace_id=" + workspaceId).Do(&all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 folders, got %+v", all)
	}
}

func TestFolderMove(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	workspaceId, err := owner.createWorkspace("Docs")
	if err != nil {
		t.Fatal(err)
	}

	a, err := owner.createFolder(workspaceId, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := owner.createFolder(workspaceId, "b", &a)
	if err != nil {
		t.Fatal(err)
	}
	c, err := owner.createFolder(workspaceId, "c", &b)
	if err != nil {
		t.Fatal(err)
	}

	// Moving a under its own descendant would create a cycle.
	err = owner.Put("/folders/"+a+"/move").Json(map[string]string{"parent_id": c}).Do(nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for cycle, got %v", err)
	}
	err = owner.Put("/folders/"+a+"/move").Json(map[string]string{"parent_id": a}).Do(nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for self parent, got %v", err)
	}

	// Detaching to the root is always allowed.
	err = owner.Put("/folders/"+c+"/move").Json(map[string]*string{"parent_id": nil}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}
	var moved folderInfo
	if err := owner.Get("/folders/" + c).Do(&moved); err != nil {
		t.Fatal(err)
	}
	if moved.ParentId != nil {
		t.Fatalf("expected folder at root, got %+v", moved)
	}
}

func TestFolderCrossWorkspaceParent(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	wsA, err := owner.createWorkspace("A")
	if err != nil {
		t.Fatal(err)
	}
	wsB, err := owner.createWorkspace("B")
	if err != nil {
		t.Fatal(err)
	}

	parentInB, err := owner.createFolder(wsB, "elsewhere", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := owner.createFolder(wsA, "stray", &parentInB); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for cross workspace parent, got %v", err)
	}
}

func TestFolderDelete(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	workspaceId, err := owner.createWorkspace("Docs")
	if err != nil {
		t.Fatal(err)
	}

	parentId, err := owner.createFolder(workspaceId, "parent", nil)
	if err != nil {
		t.Fatal(err)
	}
	childId, err := owner.createFolder(workspaceId, "child", &parentId)
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.Delete("/folders/" + parentId).Do(nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict deleting folder with children, got %v", err)
	}

	// Forms survive folder deletion, detached to the workspace root.
	formId, err := owner.createForm(workspaceId, "Feedback", nil)
	if err != nil {
		t.Fatal(err)
	}
	err = owner.Post("/forms/" + formId + "/move").Json(map[string]string{"folder_id": childId}).Do(nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := owner.Delete("/folders/" + childId).Do(nil); err != nil {
		t.Fatal(err)
	}

	var form formResult
	if err := owner.Get("/forms/" + formId).Do(&form); err != nil {
		t.Fatal(err)
	}
	if form.FolderId != nil {
		t.Fatalf("expected form detached from folder, got %+v", form)
	}
	if err := owner.Get(fmt.Sprintf("/folders/%v", childId)).Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected folder gone, got %v", err)
	}
}

func TestFolderViewerCannotMutate(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("viewer")
	if err != nil {
		t.Fatal(err)
	}

	workspaceId, err := owner.createWorkspace("Docs")
	if err != nil {
		t.Fatal(err)
	}
	if err := owner.addMember(workspaceId, viewer.email, "viewer"); err != nil {
		t.Fatal(err)
	}

	if _, err := viewer.createFolder(workspaceId, "nope", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer creating folder, got %v", err)
	}

	folderId, err := owner.createFolder(workspaceId, "real", nil)
	if err != nil {
		t.Fatal(err)
	}
	err = viewer.Put("/folders/"+folderId).Json(map[string]string{"name": "hax"}).Do(nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer renaming folder, got %v", err)
	}
	if err := viewer.Get("/folders/" + folderId).Do(nil); err != nil {
		t.Fatalf("viewer should be able to read folders: %v", err)
	}
}
