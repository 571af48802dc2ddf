package tests

import (
	"errors"
	"fmt"
	"testing"

	"formbase/backend/schema"
)

type submissionResult struct {
	Id            string `json:"id"`
	FormId        string `json:"form_id"`
	FormVersionId string `json:"form_version_id"`
	WorkspaceId   string `json:"workspace_id"`
	Source        string `json:"source"`
}

type answerResult struct {
	FieldRef    string                 `json:"field_ref"`
	FieldType   string                 `json:"field_type"`
	ValueText   *string                `json:"value_text"`
	ValueNumber *float64               `json:"value_number"`
	ValueBool   *bool                  `json:"value_bool"`
	ValueTime   *string                `json:"value_time"`
	ChoiceIds   []string               `json:"choice_ids"`
	ValueJson   map[string]interface{} `json:"value_json"`
}

func publishedForm(t *testing.T, env *testEnv, owner client) (string, string, publishResult) {
	t.Helper()

	workspaceId, err := owner.createWorkspace("Intake")
	if err != nil {
		t.Fatal(err)
	}
	formId, err := owner.createForm(workspaceId, "Signup", map[string]interface{}{
		"fields": []interface{}{
			map[string]interface{}{"ref": "name", "type": "short_text"},
			map[string]interface{}{"ref": "age", "type": "number"},
			map[string]interface{}{"ref": "subscribed", "type": "boolean"},
			map[string]interface{}{"ref": "joined", "type": "date"},
			map[string]interface{}{
				"ref": "colors", "type": "checkboxes",
				"choices": []interface{}{
					map[string]interface{}{"id": "r", "label": "Red"},
					map[string]interface{}{"id": "g", "label": "Green"},
				},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	pub, err := owner.publishForm(formId)
	if err != nil {
		t.Fatal(err)
	}
	return workspaceId, formId, pub
}

func TestAnonymousSubmission(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	workspaceId, formId, pub := publishedForm(t, env, owner)

	anon := env.newClient()
	res, err := anon.submit(formId, map[string]interface{}{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}
	if res["workspace_id"] != workspaceId {
		t.Fatalf("expected submission tagged with workspace %v, got %v", workspaceId, res)
	}
	if res["form_version_id"] != pub.VersionId {
		t.Fatalf("expected submission pinned to %v, got %v", pub.VersionId, res)
	}

	// The submitter cannot read anything back.
	submissionId := res["submission_id"].(string)
	if err := anon.Get("/submissions/" + submissionId).Do(nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized reading back anonymously, got %v", err)
	}

	var submission submissionResult
	if err := owner.Get("/submissions/" + submissionId).Do(&submission); err != nil {
		t.Fatal(err)
	}
	if submission.FormId != formId || submission.WorkspaceId != workspaceId {
		t.Fatalf("unexpected submission: %+v", submission)
	}
}

func TestTypedAnswers(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	_, formId, _ := publishedForm(t, env, owner)

	anon := env.newClient()
	res, err := anon.submit(formId, map[string]interface{}{
		"name":       "ada",
		"age":        float64(36),
		"subscribed": true,
		"joined":     "2026-08-15",
		"colors":     []interface{}{"r", "g"},
		"mystery":    "whence",
		"depth":      float64(12.5),
	})
	if err != nil {
		t.Fatal(err)
	}

	var answers []answerResult
	err = owner.Get(fmt.Sprintf("/submissions/%v/answers", res["submission_id"])).Do(&answers)
	if err != nil {
		t.Fatal(err)
	}

	byRef := make(map[string]answerResult, len(answers))
	for _, a := range answers {
		byRef[a.FieldRef] = a
	}
	if len(byRef) != 7 {
		t.Fatalf("expected 7 answers, got %+v", answers)
	}

	if a := byRef["name"]; a.FieldType != "short_text" || a.ValueText == nil || *a.ValueText != "ada" {
		t.Fatalf("unexpected text answer: %+v", a)
	}
	if a := byRef["age"]; a.FieldType != "number" || a.ValueNumber == nil || *a.ValueNumber != 36 {
		t.Fatalf("unexpected number answer: %+v", a)
	}
	if a := byRef["subscribed"]; a.ValueBool == nil || !*a.ValueBool {
		t.Fatalf("unexpected boolean answer: %+v", a)
	}
	if a := byRef["joined"]; a.FieldType != "date" || a.ValueTime == nil {
		t.Fatalf("unexpected date answer: %+v", a)
	}
	if a := byRef["colors"]; len(a.ChoiceIds) != 2 || a.ChoiceIds[0] != "r" || a.ChoiceIds[1] != "g" {
		t.Fatalf("unexpected choice answer: %+v", a)
	}
	// Refs outside the catalog are kept as text plus the raw value,
	// stringified even when they are not strings.
	if a := byRef["mystery"]; a.ValueText == nil || *a.ValueText != "whence" || a.ValueJson["value"] != "whence" {
		t.Fatalf("unexpected fallback answer: %+v", a)
	}
	if a := byRef["depth"]; a.ValueText == nil || *a.ValueText != "12.5" || a.ValueJson["value"] != float64(12.5) {
		t.Fatalf("unexpected non-string fallback answer: %+v", a)
	}
}

func TestMistypedAnswerKept(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	_, formId, _ := publishedForm(t, env, owner)

	anon := env.newClient()
	res, err := anon.submit(formId, map[string]interface{}{
		"age":        "not a number",
		"subscribed": float64(3),
	})
	if err != nil {
		t.Fatal(err)
	}

	var answers []answerResult
	err = owner.Get(fmt.Sprintf("/submissions/%v/answers", res["submission_id"])).Do(&answers)
	if err != nil {
		t.Fatal(err)
	}
	byRef := make(map[string]answerResult, len(answers))
	for _, a := range answers {
		byRef[a.FieldRef] = a
	}
	if len(byRef) != 2 {
		t.Fatalf("expected 2 answers, got %+v", answers)
	}

	a := byRef["age"]
	if a.ValueNumber != nil || a.ValueText == nil || *a.ValueText != "not a number" {
		t.Fatalf("expected mistyped value preserved as text, got %+v", a)
	}
	if a.ValueJson["value"] != "not a number" {
		t.Fatalf("expected raw value retained, got %+v", a)
	}

	// Non-string mismatches are stringified, not dropped.
	b := byRef["subscribed"]
	if b.ValueBool != nil || b.ValueText == nil || *b.ValueText != "3" {
		t.Fatalf("expected mistyped boolean stringified, got %+v", b)
	}
	if b.ValueJson["value"] != float64(3) {
		t.Fatalf("expected raw value retained, got %+v", b)
	}
}

func TestSubmissionRequiresPublishedForm(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	workspaceId, err := owner.createWorkspace("Intake")
	if err != nil {
		t.Fatal(err)
	}
	formId, err := owner.createForm(workspaceId, "Draft Only", nil)
	if err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()
	if _, err := anon.submit(formId, map[string]interface{}{"name": "ada"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error submitting to draft form, got %v", err)
	}

	if _, err := owner.publishForm(formId); err != nil {
		t.Fatal(err)
	}
	if err := owner.Post("/forms/" + formId + "/unpublish").Do(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := anon.submit(formId, map[string]interface{}{"name": "ada"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error submitting to unpublished form, got %v", err)
	}
}

func TestSubmissionVersionPinning(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	_, formId, firstPub := publishedForm(t, env, owner)

	anon := env.newClient()
	before, err := anon.submit(formId, map[string]interface{}{"name": "first"})
	if err != nil {
		t.Fatal(err)
	}

	// Republishing means unpublish first; the earlier snapshot stays put.
	if err := owner.Post("/forms/" + formId + "/unpublish").Do(nil); err != nil {
		t.Fatal(err)
	}
	secondPub, err := owner.publishForm(formId)
	if err != nil {
		t.Fatal(err)
	}
	after, err := anon.submit(formId, map[string]interface{}{"name": "second"})
	if err != nil {
		t.Fatal(err)
	}

	if before["form_version_id"] != firstPub.VersionId {
		t.Fatalf("expected first submission pinned to the first snapshot, got %v", before)
	}
	if after["form_version_id"] != secondPub.VersionId {
		t.Fatalf("expected second submission pinned to the second snapshot, got %v", after)
	}

	// Both submissions remain listable, filtered by the version they pinned.
	var pinned []submissionResult
	err = owner.Get("/submissions/?form_version_id=" + firstPub.VersionId).Do(&pinned)
	if err != nil {
		t.Fatal(err)
	}
	if len(pinned) != 1 || pinned[0].Id != before["submission_id"] {
		t.Fatalf("unexpected submissions for first version: %+v", pinned)
	}
}

func TestSubmissionListFilters(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	workspaceId, formId, _ := publishedForm(t, env, owner)

	anon := env.newClient()
	for i := 0; i < 3; i++ {
		if _, err := anon.submit(formId, map[string]interface{}{"name": fmt.Sprintf("u%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	if err := owner.Get("/submissions/").Do(nil); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request without filters, got %v", err)
	}

	var byForm []submissionResult
	if err := owner.Get("/submissions/?form_id=" + formId).Do(&byForm); err != nil {
		t.Fatal(err)
	}
	if len(byForm) != 3 {
		t.Fatalf("expected 3 submissions by form, got %+v", byForm)
	}

	var byWorkspace []submissionResult
	if err := owner.Get("/submissions/?workspace_id=" + workspaceId).Do(&byWorkspace); err != nil {
		t.Fatal(err)
	}
	if len(byWorkspace) != 3 {
		t.Fatalf("expected 3 submissions by workspace, got %+v", byWorkspace)
	}
}

func TestSubmissionIsolation(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	outsider, err := env.newUser("outsider")
	if err != nil {
		t.Fatal(err)
	}
	_, formId, _ := publishedForm(t, env, owner)

	anon := env.newClient()
	res, err := anon.submit(formId, map[string]interface{}{"name": "secret"})
	if err != nil {
		t.Fatal(err)
	}
	submissionId := res["submission_id"].(string)

	if err := outsider.Get("/submissions/" + submissionId).Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for outsider, got %v", err)
	}
	err = outsider.Get(fmt.Sprintf("/submissions/%v/answers", submissionId)).Do(nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for outsider answers, got %v", err)
	}
	if err := outsider.Get("/submissions/?form_id=" + formId).Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found listing by invisible form, got %v", err)
	}
}

func TestSubmissionDelete(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := env.newUser("viewer")
	if err != nil {
		t.Fatal(err)
	}
	workspaceId, formId, _ := publishedForm(t, env, owner)
	if err := owner.addMember(workspaceId, viewer.email, "viewer"); err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()
	res, err := anon.submit(formId, map[string]interface{}{"name": "ada", "age": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	submissionId := res["submission_id"].(string)

	if err := viewer.Delete("/submissions/" + submissionId).Do(nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer deleting submission, got %v", err)
	}
	if err := owner.Delete("/submissions/" + submissionId).Do(nil); err != nil {
		t.Fatal(err)
	}

	if err := owner.Get("/submissions/" + submissionId).Do(nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected submission gone, got %v", err)
	}
	var count int64
	if err := env.bypassDb().Model(&schema.Answer{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected answers removed with the submission, found %d", count)
	}
}
