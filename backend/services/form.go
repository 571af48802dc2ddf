package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"formbase/backend/auth"
	"formbase/backend/events"
	"formbase/backend/schema"
	"formbase/utils"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FormService struct {
	db  *gorm.DB
	jwt *auth.JwtManager
	bus events.Bus
}

func (s *FormService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.jwt.AccessContextMiddleware)

	r.Post("/", s.Create)
	r.Get("/", s.List)

	r.Route("/{form_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Post("/publish", s.Publish)
		r.Post("/unpublish", s.Unpublish)
		r.Post("/archive", s.Archive)
		r.Post("/duplicate", s.Duplicate)
		r.Post("/move", s.Move)

		r.Put("/definition", s.UpdateDefinition)

		r.Get("/versions", s.ListVersions)
		r.Get("/versions/{version_id}", s.GetVersion)
		r.Get("/versions/{version_id}/fields", s.VersionFields)
	})

	return r
}

type FormInfo struct {
	Id                 uuid.UUID  `json:"id"`
	WorkspaceId        uuid.UUID  `json:"workspace_id"`
	FolderId           *uuid.UUID `json:"folder_id,omitempty"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	DraftVersionId     *uuid.UUID `json:"draft_version_id,omitempty"`
	PublishedVersionId *uuid.UUID `json:"published_version_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func formInfo(form schema.Form) FormInfo {
	return FormInfo{
		Id:                 form.Id,
		WorkspaceId:        form.WorkspaceId,
		FolderId:           form.FolderId,
		Name:               form.Name,
		Status:             form.Status,
		DraftVersionId:     form.DraftVersionId,
		PublishedVersionId: form.PublishedVersionId,
		CreatedAt:          form.CreatedAt,
		UpdatedAt:          form.UpdatedAt,
	}
}

type VersionInfo struct {
	Id            uuid.UUID         `json:"id"`
	FormId        uuid.UUID         `json:"form_id"`
	VersionNumber int               `json:"version_number"`
	State         string            `json:"state"`
	Definition    datatypes.JSONMap `json:"definition"`
	PublishedAt   *time.Time        `json:"published_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func versionInfo(version schema.FormVersion) VersionInfo {
	return VersionInfo{
		Id:            version.Id,
		FormId:        version.FormId,
		VersionNumber: version.VersionNumber,
		State:         version.State,
		Definition:    version.Definition,
		PublishedAt:   version.PublishedAt,
		CreatedAt:     version.CreatedAt,
	}
}

func copyDefinition(definition datatypes.JSONMap) (datatypes.JSONMap, error) {
	if definition == nil {
		return datatypes.JSONMap{"fields": []interface{}{}}, nil
	}
	data, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("definition cannot be serialized: %w", err)
	}
	var copied datatypes.JSONMap
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("definition cannot be copied: %w", err)
	}
	return copied, nil
}

type createFormRequest struct {
	WorkspaceId uuid.UUID         `json:"workspace_id"`
	Name        string            `json:"name"`
	FolderId    *uuid.UUID        `json:"folder_id"`
	Definition  datatypes.JSONMap `json:"definition"`
}

func (p createFormRequest) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.WorkspaceId, validation.Required),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
	)
}

func (s *FormService) Create(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createFormRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	definition, err := copyDefinition(params.Definition)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	now := time.Now().UTC()
	form := schema.Form{
		Id:          uuid.New(),
		WorkspaceId: params.WorkspaceId,
		FolderId:    params.FolderId,
		Name:        params.Name,
		Status:      schema.FormStatusDraft,
		CreatedBy:   identity.UserId,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	draft := schema.FormVersion{
		Id:            uuid.New(),
		FormId:        form.Id,
		VersionNumber: 1,
		State:         schema.VersionStateDraft,
		Definition:    definition,
		CreatedAt:     now,
	}
	form.DraftVersionId = &draft.Id

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if _, err := getWorkspaceChecked(txn, params.WorkspaceId); err != nil {
			return err
		}
		if err := requireRole(txn, params.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}
		if params.FolderId != nil {
			if err := checkParentFolder(txn, params.WorkspaceId, *params.FolderId); err != nil {
				return err
			}
		}

		result := txn.Create(&form)
		if result.Error != nil {
			slog.Error("sql error creating form", "workspace_id", params.WorkspaceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Create(&draft)
		if result.Error != nil {
			slog.Error("sql error creating initial form version", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating form: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("created form", "form_id", form.Id, "workspace_id", form.WorkspaceId)
	s.bus.Publish(events.FormCreated(form.Id, form.WorkspaceId))

	utils.WriteCreatedResponse(w, formInfo(form))
}

func (s *FormService) List(w http.ResponseWriter, r *http.Request) {
	workspaceId, err := uuid.Parse(r.URL.Query().Get("workspace_id"))
	if err != nil {
		http.Error(w, "missing or invalid workspace_id query parameter", http.StatusBadRequest)
		return
	}

	db, err := beginRead(s.db.WithContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer db.Rollback()

	if _, err := getWorkspaceChecked(db, workspaceId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var forms []schema.Form
	result := db.Where("workspace_id = ?", workspaceId).Order("created_at").Find(&forms)
	if result.Error != nil {
		slog.Error("sql error listing forms", "workspace_id", workspaceId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing forms: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]FormInfo, 0, len(forms))
	for _, form := range forms {
		infos = append(infos, formInfo(form))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *FormService) Get(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	db, err := beginRead(s.db.WithContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer db.Rollback()

	form, err := getFormChecked(db, formId)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, formInfo(form))
}

type updateFormRequest struct {
	Name string `json:"name"`
}

func (s *FormService) Update(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateFormRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		http.Error(w, "form name must not be empty", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}

		result := txn.Model(&schema.Form{Id: formId}).Updates(map[string]interface{}{
			"name":       params.Name,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			slog.Error("sql error renaming form", "form_id", formId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating form: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *FormService) Delete(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}

		// The ledger goes first so the version restriction does not block
		// the cascade from the form row.
		result := txn.Where("submission_id IN (SELECT id FROM submissions WHERE form_id = ?)", formId).Delete(&schema.Answer{})
		if result.Error != nil {
			slog.Error("sql error deleting form answers", "form_id", formId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Where("form_id = ?", formId).Delete(&schema.Submission{})
		if result.Error != nil {
			slog.Error("sql error deleting form submissions", "form_id", formId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Form{Id: formId})
		if result.Error != nil {
			slog.Error("sql error deleting form", "form_id", formId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting form: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// extractFields denormalizes the definition's fields array into queryable
// rows for the version being published. Missing attributes fall back rather
// than fail: ref to a positional name, type to short_text, required to false.
func extractFields(txn *gorm.DB, version *schema.FormVersion) error {
	fieldsRaw, _ := version.Definition["fields"].([]interface{})

	for i, raw := range fieldsRaw {
		fieldMap, _ := raw.(map[string]interface{})

		ref, _ := fieldMap["ref"].(string)
		if ref == "" {
			ref = fmt.Sprintf("field_%d", i)
		}
		fieldType, _ := fieldMap["type"].(string)
		fieldType = schema.FieldTypeOrDefault(fieldType)
		title, _ := fieldMap["title"].(string)
		required, _ := fieldMap["required"].(bool)

		var config datatypes.JSONMap
		if validations, ok := fieldMap["validations"].(map[string]interface{}); ok {
			config = validations
		}

		field := schema.FormField{
			Id:            uuid.New(),
			FormVersionId: version.Id,
			Ref:           ref,
			Type:          fieldType,
			Title:         title,
			Required:      required,
			Config:        config,
			Position:      i,
		}
		result := txn.Create(&field)
		if result.Error != nil {
			slog.Error("sql error creating form field", "version_id", version.Id, "ref", ref, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if !schema.IsChoiceField(fieldType) {
			continue
		}

		choicesRaw, _ := fieldMap["choices"].([]interface{})
		for j, choiceRaw := range choicesRaw {
			choiceMap, _ := choiceRaw.(map[string]interface{})
			choiceId, _ := choiceMap["id"].(string)
			if choiceId == "" {
				choiceId = fmt.Sprintf("choice_%d", j)
			}
			label, _ := choiceMap["label"].(string)

			choice := schema.FormFieldChoice{
				Id:          uuid.New(),
				FormFieldId: field.Id,
				ChoiceId:    choiceId,
				Label:       label,
				Position:    j,
			}
			result := txn.Create(&choice)
			if result.Error != nil {
				slog.Error("sql error creating form field choice", "field_id", field.Id, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}
	}

	return nil
}

type publishResponse struct {
	VersionId     uuid.UUID `json:"version_id"`
	VersionNumber int       `json:"version_number"`
}

// Publish snapshots the draft definition into a new immutable published
// version and extracts that version's field catalog. The draft row itself is
// never touched, so editing can continue against it after an unpublish. The
// unique (form_id, version_number) index backstops two racing publishes.
func (s *FormService) Publish(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res publishResponse

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}
		if form.Status != schema.FormStatusDraft {
			return CodedError(fmt.Errorf("form with status %v cannot be published", form.Status), http.StatusUnprocessableEntity)
		}

		draft, err := schema.GetDraftVersion(form.Id, txn)
		if err != nil {
			if errors.Is(err, schema.ErrFormVersionNotFound) {
				return CodedError(errors.New("form has no draft version to publish"), http.StatusUnprocessableEntity)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		definition, err := copyDefinition(draft.Definition)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		next, err := schema.NextVersionNumber(form.Id, txn)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		now := time.Now().UTC()
		published := schema.FormVersion{
			Id:            uuid.New(),
			FormId:        form.Id,
			VersionNumber: next,
			State:         schema.VersionStatePublished,
			Definition:    definition,
			PublishedAt:   &now,
			CreatedAt:     now,
		}
		result := txn.Create(&published)
		if result.Error != nil {
			slog.Error("sql error creating published version", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if err := extractFields(txn, &published); err != nil {
			return err
		}

		result = txn.Model(&schema.Form{Id: form.Id}).Updates(map[string]interface{}{
			"status":               schema.FormStatusPublished,
			"published_version_id": published.Id,
			"updated_at":           now,
		})
		if result.Error != nil {
			slog.Error("sql error updating form after publish", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		res = publishResponse{VersionId: published.Id, VersionNumber: published.VersionNumber}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error publishing form: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("published form", "form_id", formId, "version_number", res.VersionNumber)
	s.bus.Publish(events.FormPublished(formId, res.VersionId, res.VersionNumber))

	utils.WriteJsonResponse(w, res)
}

func (s *FormService) Unpublish(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}
		if form.Status != schema.FormStatusPublished {
			return CodedError(errors.New("form is not published"), http.StatusUnprocessableEntity)
		}

		// Only the form-level flag flips. Published versions stay published
		// and the pointer keeps naming the last one that went live.
		result := txn.Model(&schema.Form{Id: form.Id}).Updates(map[string]interface{}{
			"status":     schema.FormStatusDraft,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			slog.Error("sql error updating form after unpublish", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error unpublishing form: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *FormService) Archive(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}
		if form.Status == schema.FormStatusArchived {
			return CodedError(errors.New("form is already archived"), http.StatusUnprocessableEntity)
		}

		// Archiving is a form-level terminal state; version rows keep their
		// history untouched.
		result := txn.Model(&schema.Form{Id: form.Id}).Updates(map[string]interface{}{
			"status":     schema.FormStatusArchived,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			slog.Error("sql error archiving form", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error archiving form: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type duplicateFormRequest struct {
	Name string `json:"name"`
}

// Duplicate starts an independent lineage from the current draft definition.
// The copy keeps the source form's folder and starts unpublished at version 1.
func (s *FormService) Duplicate(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params duplicateFormRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var duplicated schema.Form

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}

		draft, err := schema.GetDraftVersion(form.Id, txn)
		if err != nil && !errors.Is(err, schema.ErrFormVersionNotFound) {
			return CodedError(err, http.StatusInternalServerError)
		}

		definition, err := copyDefinition(draft.Definition)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		name := params.Name
		if name == "" {
			name = form.Name + " (copy)"
		}

		now := time.Now().UTC()
		duplicated = schema.Form{
			Id:          uuid.New(),
			WorkspaceId: form.WorkspaceId,
			FolderId:    form.FolderId,
			Name:        name,
			Status:      schema.FormStatusDraft,
			CreatedBy:   identity.UserId,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		newDraft := schema.FormVersion{
			Id:            uuid.New(),
			FormId:        duplicated.Id,
			VersionNumber: 1,
			State:         schema.VersionStateDraft,
			Definition:    definition,
			CreatedAt:     now,
		}
		duplicated.DraftVersionId = &newDraft.Id

		result := txn.Create(&duplicated)
		if result.Error != nil {
			slog.Error("sql error duplicating form", "form_id", formId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		result = txn.Create(&newDraft)
		if result.Error != nil {
			slog.Error("sql error creating duplicated form version", "form_id", duplicated.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error duplicating form: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteCreatedResponse(w, formInfo(duplicated))
}

type moveFormRequest struct {
	FolderId *uuid.UUID `json:"folder_id"`
}

func (s *FormService) Move(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params moveFormRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}
		if params.FolderId != nil {
			if err := checkParentFolder(txn, form.WorkspaceId, *params.FolderId); err != nil {
				return err
			}
		}

		result := txn.Model(&schema.Form{Id: formId}).Updates(map[string]interface{}{
			"folder_id":  params.FolderId,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			slog.Error("sql error moving form", "form_id", formId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error moving form: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type updateDefinitionRequest struct {
	Definition datatypes.JSONMap `json:"definition"`
}

func (s *FormService) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateDefinitionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Definition == nil {
		http.Error(w, "definition must be provided", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, form.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}
		if form.Status == schema.FormStatusArchived {
			return CodedError(errors.New("archived forms cannot be edited"), http.StatusUnprocessableEntity)
		}

		draft, err := schema.GetDraftVersion(form.Id, txn)
		if err != nil {
			if errors.Is(err, schema.ErrFormVersionNotFound) {
				return CodedError(errors.New("form has no draft version"), http.StatusUnprocessableEntity)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		result := txn.Model(&schema.FormVersion{Id: draft.Id}).Update("definition", params.Definition)
		if result.Error != nil {
			slog.Error("sql error updating draft definition", "version_id", draft.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Model(&schema.Form{Id: form.Id}).Update("updated_at", time.Now().UTC())
		if result.Error != nil {
			slog.Error("sql error touching form after definition update", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating definition: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *FormService) ListVersions(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	db, err := beginRead(s.db.WithContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer db.Rollback()

	if _, err := getFormChecked(db, formId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var versions []schema.FormVersion
	result := db.Where("form_id = ?", formId).Order("version_number desc").Find(&versions)
	if result.Error != nil {
		slog.Error("sql error listing form versions", "form_id", formId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing versions: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]VersionInfo, 0, len(versions))
	for _, version := range versions {
		infos = append(infos, versionInfo(version))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *FormService) GetVersion(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	versionId, err := utils.URLParamUUID(r, "version_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	db, err := beginRead(s.db.WithContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer db.Rollback()

	version, err := getFormVersionChecked(db, versionId)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	if version.FormId != formId {
		http.Error(w, schema.ErrFormVersionNotFound.Error(), http.StatusNotFound)
		return
	}

	utils.WriteJsonResponse(w, versionInfo(version))
}

type ChoiceInfo struct {
	ChoiceId string `json:"choice_id"`
	Label    string `json:"label"`
}

type FieldInfo struct {
	Id       uuid.UUID         `json:"id"`
	Ref      string            `json:"ref"`
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Required bool              `json:"required"`
	Config   datatypes.JSONMap `json:"config,omitempty"`
	Position int               `json:"position"`
	Choices  []ChoiceInfo      `json:"choices,omitempty"`
}

func (s *FormService) VersionFields(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	versionId, err := utils.URLParamUUID(r, "version_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	db, err := beginRead(s.db.WithContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer db.Rollback()

	version, err := getFormVersionChecked(db, versionId)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	if version.FormId != formId {
		http.Error(w, schema.ErrFormVersionNotFound.Error(), http.StatusNotFound)
		return
	}

	var fields []schema.FormField
	result := db.Preload("Choices", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Where("form_version_id = ?", versionId).Order("position").Find(&fields)
	if result.Error != nil {
		slog.Error("sql error listing version fields", "version_id", versionId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing fields: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]FieldInfo, 0, len(fields))
	for _, field := range fields {
		info := FieldInfo{
			Id:       field.Id,
			Ref:      field.Ref,
			Type:     field.Type,
			Title:    field.Title,
			Required: field.Required,
			Config:   field.Config,
			Position: field.Position,
		}
		for _, choice := range field.Choices {
			info.Choices = append(info.Choices, ChoiceInfo{ChoiceId: choice.ChoiceId, Label: choice.Label})
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}
