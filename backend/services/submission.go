package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"formbase/backend/auth"
	"formbase/backend/events"
	"formbase/backend/rls"
	"formbase/backend/schema"
	"formbase/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SubmissionService struct {
	db  *gorm.DB
	jwt *auth.JwtManager
	bus events.Bus
}

func (s *SubmissionService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.jwt.AccessContextMiddleware)

	r.Get("/", s.List)

	r.Route("/{submission_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Get("/answers", s.Answers)
		r.Delete("/", s.Delete)
	})

	return r
}

// PublicRoutes carries the unauthenticated intake endpoint. It is mounted
// outside the authenticated tree.
func (s *SubmissionService) PublicRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/forms/{form_id}/submissions", s.Create)

	return r
}

type createSubmissionRequest struct {
	Answers map[string]interface{} `json:"answers"`
	Source  string                 `json:"source"`
}

type createSubmissionResponse struct {
	SubmissionId  uuid.UUID `json:"submission_id"`
	WorkspaceId   uuid.UUID `json:"workspace_id"`
	FormVersionId uuid.UUID `json:"form_version_id"`
}

func parseSubmittedTime(value string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// buildAnswer resolves a raw answer value against the version's field
// catalog. Known fields get typed storage, unknown refs fall back to text
// plus the raw json value so nothing submitted is dropped.
func buildAnswer(submissionId uuid.UUID, ref string, value interface{}, field *schema.FormField) schema.Answer {
	answer := schema.Answer{
		Id:           uuid.New(),
		SubmissionId: submissionId,
		FieldRef:     ref,
	}

	if field == nil {
		answer.FieldType = schema.FieldTypeShortText
		if value != nil {
			text := fmt.Sprint(value)
			answer.ValueText = &text
		}
		answer.ValueJson = datatypes.JSONMap{"value": value}
		return answer
	}

	answer.FieldType = field.Type

	switch {
	case field.Type == schema.FieldTypeNumber:
		if number, ok := value.(float64); ok {
			answer.ValueNumber = &number
			return answer
		}
	case field.Type == schema.FieldTypeBoolean:
		if b, ok := value.(bool); ok {
			answer.ValueBool = &b
			return answer
		}
	case field.Type == schema.FieldTypeDate:
		if text, ok := value.(string); ok {
			if t, ok := parseSubmittedTime(text); ok {
				answer.ValueTime = &t
				return answer
			}
		}
	case schema.IsChoiceField(field.Type):
		if choice, ok := value.(string); ok {
			answer.ChoiceIds = datatypes.JSONSlice[string]{choice}
			return answer
		}
		if choices, ok := value.([]interface{}); ok {
			ids := make(datatypes.JSONSlice[string], 0, len(choices))
			for _, c := range choices {
				if id, ok := c.(string); ok {
					ids = append(ids, id)
				}
			}
			answer.ChoiceIds = ids
			return answer
		}
	default:
		if text, ok := value.(string); ok {
			answer.ValueText = &text
			return answer
		}
	}

	// The value did not match the field's declared type. Keep it anyway,
	// stringified plus raw.
	if value != nil {
		text := fmt.Sprint(value)
		answer.ValueText = &text
	}
	answer.ValueJson = datatypes.JSONMap{"value": value}
	return answer
}

func (s *SubmissionService) Create(w http.ResponseWriter, r *http.Request) {
	formId, err := utils.URLParamUUID(r, "form_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params createSubmissionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	// Anonymous intake runs under the public-submission scope for exactly
	// this transaction.
	ctx := rls.NewContext(r.Context(), rls.PublicSubmissionScope())

	var res createSubmissionResponse

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		form, err := getFormChecked(txn, formId)
		if err != nil {
			return err
		}
		if form.Status != schema.FormStatusPublished {
			return CodedError(errors.New("form is not accepting submissions"), http.StatusUnprocessableEntity)
		}

		version, err := schema.GetPublishedVersion(form.Id, txn)
		if err != nil {
			if errors.Is(err, schema.ErrFormVersionNotFound) {
				return CodedError(errors.New("form is not accepting submissions"), http.StatusUnprocessableEntity)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		var fields []schema.FormField
		result := txn.Where("form_version_id = ?", version.Id).Find(&fields)
		if result.Error != nil {
			slog.Error("sql error loading field catalog", "version_id", version.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		catalog := make(map[string]*schema.FormField, len(fields))
		for i := range fields {
			catalog[fields[i].Ref] = &fields[i]
		}

		submission := schema.Submission{
			Id:            uuid.New(),
			FormId:        form.Id,
			FormVersionId: version.Id,
			WorkspaceId:   form.WorkspaceId,
			SubmittedAt:   time.Now().UTC(),
			Ip:            auth.ClientIp(r),
			UserAgent:     r.UserAgent(),
			Source:        params.Source,
		}
		result = txn.Create(&submission)
		if result.Error != nil {
			slog.Error("sql error creating submission", "form_id", form.Id, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for ref, value := range params.Answers {
			answer := buildAnswer(submission.Id, ref, value, catalog[ref])
			result := txn.Create(&answer)
			if result.Error != nil {
				slog.Error("sql error creating answer", "submission_id", submission.Id, "ref", ref, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		res = createSubmissionResponse{
			SubmissionId:  submission.Id,
			WorkspaceId:   submission.WorkspaceId,
			FormVersionId: submission.FormVersionId,
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating submission: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("received submission", "submission_id", res.SubmissionId, "form_id", formId)
	s.bus.Publish(events.SubmissionReceived(res.SubmissionId, formId))

	utils.WriteCreatedResponse(w, res)
}

type SubmissionInfo struct {
	Id            uuid.UUID `json:"id"`
	FormId        uuid.UUID `json:"form_id"`
	FormVersionId uuid.UUID `json:"form_version_id"`
	WorkspaceId   uuid.UUID `json:"workspace_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Ip            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Source        string    `json:"source,omitempty"`
}

func submissionInfo(submission schema.Submission) SubmissionInfo {
	return SubmissionInfo{
		Id:            submission.Id,
		FormId:        submission.FormId,
		FormVersionId: submission.FormVersionId,
		WorkspaceId:   submission.WorkspaceId,
		SubmittedAt:   submission.SubmittedAt,
		Ip:            submission.Ip,
		UserAgent:     submission.UserAgent,
		Source:        submission.Source,
	}
}

// List filters by form_id, form_version_id, or workspace_id. At least one
// filter is required.
func (s *SubmissionService) List(w http.ResponseWriter, r *http.Request) {
	db, err := beginRead(s.db.WithContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer db.Rollback()

	query := db.Order("submitted_at desc")
	filtered := false

	if param := r.URL.Query().Get("form_id"); param != "" {
		formId, err := uuid.Parse(param)
		if err != nil {
			http.Error(w, "invalid form_id query parameter", http.StatusBadRequest)
			return
		}
		if _, err := getFormChecked(db, formId); err != nil {
			http.Error(w, err.Error(), GetResponseCode(err))
			return
		}
		query = query.Where("form_id = ?", formId)
		filtered = true
	}
	if param := r.URL.Query().Get("form_version_id"); param != "" {
		versionId, err := uuid.Parse(param)
		if err != nil {
			http.Error(w, "invalid form_version_id query parameter", http.StatusBadRequest)
			return
		}
		query = query.Where("form_version_id = ?", versionId)
		filtered = true
	}
	if param := r.URL.Query().Get("workspace_id"); param != "" {
		workspaceId, err := uuid.Parse(param)
		if err != nil {
			http.Error(w, "invalid workspace_id query parameter", http.StatusBadRequest)
			return
		}
		query = query.Where("workspace_id = ?", workspaceId)
		filtered = true
	}

	if !filtered {
		http.Error(w, "one of form_id, form_version_id, or workspace_id must be provided", http.StatusBadRequest)
		return
	}

	var submissions []schema.Submission
	result := query.Find(&submissions)
	if result.Error != nil {
		slog.Error("sql error listing submissions", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing submissions: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]SubmissionInfo, 0, len(submissions))
	for _, submission := range submissions {
		infos = append(infos, submissionInfo(submission))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *SubmissionService) Get(w http.ResponseWriter, r *http.Request) {
	submissionId, err := utils.URLParamUUID(r, "submission_id")
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

	submission, err := getSubmissionChecked(db, submissionId)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, submissionInfo(submission))
}

type AnswerInfo struct {
	FieldRef    string                      `json:"field_ref"`
	FieldType   string                      `json:"field_type"`
	ValueText   *string                     `json:"value_text,omitempty"`
	ValueNumber *float64                    `json:"value_number,omitempty"`
	ValueBool   *bool                       `json:"value_bool,omitempty"`
	ValueTime   *time.Time                  `json:"value_time,omitempty"`
	ChoiceIds   datatypes.JSONSlice[string] `json:"choice_ids,omitempty"`
	ValueJson   datatypes.JSONMap           `json:"value_json,omitempty"`
}

func (s *SubmissionService) Answers(w http.ResponseWriter, r *http.Request) {
	submissionId, err := utils.URLParamUUID(r, "submission_id")
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

	if _, err := getSubmissionChecked(db, submissionId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var answers []schema.Answer
	result := db.Where("submission_id = ?", submissionId).Find(&answers)
	if result.Error != nil {
		slog.Error("sql error listing answers", "submission_id", submissionId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing answers: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]AnswerInfo, 0, len(answers))
	for _, answer := range answers {
		infos = append(infos, AnswerInfo{
			FieldRef:    answer.FieldRef,
			FieldType:   answer.FieldType,
			ValueText:   answer.ValueText,
			ValueNumber: answer.ValueNumber,
			ValueBool:   answer.ValueBool,
			ValueTime:   answer.ValueTime,
			ChoiceIds:   answer.ChoiceIds,
			ValueJson:   answer.ValueJson,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *SubmissionService) Delete(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	submissionId, err := utils.URLParamUUID(r, "submission_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		submission, err := getSubmissionChecked(txn, submissionId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, submission.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}

		result := txn.Where("submission_id = ?", submissionId).Delete(&schema.Answer{})
		if result.Error != nil {
			slog.Error("sql error deleting submission answers", "submission_id", submissionId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Submission{Id: submissionId})
		if result.Error != nil {
			slog.Error("sql error deleting submission", "submission_id", submissionId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting submission: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
