package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"formbase/backend/auth"
	"formbase/backend/rls"
	"formbase/backend/schema"
	"formbase/utils"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WorkspaceService struct {
	db  *gorm.DB
	jwt *auth.JwtManager
}

func (s *WorkspaceService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.jwt.AccessContextMiddleware)

	r.Post("/", s.Create)
	r.Get("/", s.List)

	r.Route("/{workspace_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/members", s.ListMembers)
		r.Post("/members", s.AddMember)
		r.Put("/members/{user_id}", s.UpdateMemberRole)
		r.Delete("/members/{user_id}", s.RemoveMember)
	})

	return r
}

func slugify(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ' || c == '-' || c == '_':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "workspace"
	}
	return slug
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

func (p createWorkspaceRequest) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
	)
}

type WorkspaceInfo struct {
	Id        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *WorkspaceService) Create(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createWorkspaceRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	now := time.Now().UTC()
	workspace := schema.Workspace{
		Id:        uuid.New(),
		Name:      params.Name,
		Slug:      slugify(params.Name),
		CreatedBy: identity.UserId,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Slug uniqueness is global, so the creation transaction runs with
	// enforcement bypassed. The caller has no memberships to see through yet.
	ctx := rls.NewContext(r.Context(), rls.BypassScope())

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var existing schema.Workspace
		result := txn.Limit(1).Find(&existing, "slug = ?", workspace.Slug)
		if result.Error != nil {
			slog.Error("sql error checking for duplicate workspace slug", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected != 0 {
			workspace.Slug = fmt.Sprintf("%v-%v", workspace.Slug, workspace.Id.String()[:8])
		}

		result = txn.Create(&workspace)
		if result.Error != nil {
			slog.Error("sql error creating new workspace", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		member := schema.WorkspaceMember{
			WorkspaceId: workspace.Id,
			UserId:      identity.UserId,
			Role:        schema.RoleOwner,
			CreatedAt:   now,
		}
		result = txn.Create(&member)
		if result.Error != nil {
			slog.Error("sql error creating initial workspace owner", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating workspace: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("created workspace", "workspace_id", workspace.Id, "user_id", identity.UserId)

	utils.WriteCreatedResponse(w, WorkspaceInfo{
		Id:        workspace.Id,
		Name:      workspace.Name,
		Slug:      workspace.Slug,
		Role:      schema.RoleOwner,
		CreatedAt: workspace.CreatedAt,
	})
}

func (s *WorkspaceService) List(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	db, err := beginRead(s.db.WithContext(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer db.Rollback()

	var workspaces []schema.Workspace
	result := db.Order("created_at").Find(&workspaces)
	if result.Error != nil {
		slog.Error("sql error listing workspaces", "user_id", identity.UserId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing workspaces: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	var memberships []schema.WorkspaceMember
	result = db.Find(&memberships, "user_id = ?", identity.UserId)
	if result.Error != nil {
		slog.Error("sql error listing memberships", "user_id", identity.UserId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing workspaces: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}
	roles := make(map[uuid.UUID]string, len(memberships))
	for _, member := range memberships {
		roles[member.WorkspaceId] = member.Role
	}

	infos := make([]WorkspaceInfo, 0, len(workspaces))
	for _, workspace := range workspaces {
		infos = append(infos, WorkspaceInfo{
			Id:        workspace.Id,
			Name:      workspace.Name,
			Slug:      workspace.Slug,
			Role:      roles[workspace.Id],
			CreatedAt: workspace.CreatedAt,
		})
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *WorkspaceService) Get(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workspaceId, err := utils.URLParamUUID(r, "workspace_id")
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

	workspace, err := getWorkspaceChecked(db, workspaceId)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	role := ""
	if member, err := schema.GetMembership(workspaceId, identity.UserId, db); err == nil {
		role = member.Role
	}

	utils.WriteJsonResponse(w, WorkspaceInfo{
		Id:        workspace.Id,
		Name:      workspace.Name,
		Slug:      workspace.Slug,
		Role:      role,
		CreatedAt: workspace.CreatedAt,
	})
}

type updateWorkspaceRequest struct {
	Name string `json:"name"`
}

func (s *WorkspaceService) Update(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workspaceId, err := utils.URLParamUUID(r, "workspace_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateWorkspaceRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		http.Error(w, "workspace name must not be empty", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if _, err := getWorkspaceChecked(txn, workspaceId); err != nil {
			return err
		}
		if err := requireRole(txn, workspaceId, identity.UserId, schema.RoleAdmin); err != nil {
			return err
		}

		result := txn.Model(&schema.Workspace{Id: workspaceId}).Update("name", params.Name)
		if result.Error != nil {
			slog.Error("sql error renaming workspace", "workspace_id", workspaceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating workspace: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *WorkspaceService) Delete(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workspaceId, err := utils.URLParamUUID(r, "workspace_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if _, err := getWorkspaceChecked(txn, workspaceId); err != nil {
			return err
		}
		if err := requireRole(txn, workspaceId, identity.UserId, schema.RoleOwner); err != nil {
			return err
		}

		// Submissions restrict deletion of the versions they pin, so the
		// ledger is cleared first. The remaining rows cascade.
		result := txn.Where("submission_id IN (SELECT id FROM submissions WHERE workspace_id = ?)", workspaceId).Delete(&schema.Answer{})
		if result.Error != nil {
			slog.Error("sql error deleting workspace answers", "workspace_id", workspaceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Where("workspace_id = ?", workspaceId).Delete(&schema.Submission{})
		if result.Error != nil {
			slog.Error("sql error deleting workspace submissions", "workspace_id", workspaceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Workspace{Id: workspaceId})
		if result.Error != nil {
			slog.Error("sql error deleting workspace", "workspace_id", workspaceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting workspace: %v", err), GetResponseCode(err))
		return
	}

	slog.Info("deleted workspace", "workspace_id", workspaceId, "user_id", identity.UserId)

	utils.WriteSuccess(w)
}

type MemberInfo struct {
	UserId    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *WorkspaceService) ListMembers(w http.ResponseWriter, r *http.Request) {
	workspaceId, err := utils.URLParamUUID(r, "workspace_id")
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

	if _, err := getWorkspaceChecked(db, workspaceId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var members []schema.WorkspaceMember
	result := db.Preload("User").Where("workspace_id = ?", workspaceId).Find(&members)
	if result.Error != nil {
		slog.Error("sql error listing workspace members", "workspace_id", workspaceId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing members: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]MemberInfo, 0, len(members))
	for _, member := range members {
		info := MemberInfo{UserId: member.UserId, Role: member.Role, CreatedAt: member.CreatedAt}
		if member.User != nil {
			info.Email = member.User.Email
		}
		infos = append(infos, info)
	}

	utils.WriteJsonResponse(w, infos)
}

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (p addMemberRequest) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
		validation.Field(&p.Role, validation.Required, validation.In(
			schema.RoleOwner, schema.RoleAdmin, schema.RoleEditor, schema.RoleViewer,
		)),
	)
}

func (s *WorkspaceService) AddMember(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workspaceId, err := utils.URLParamUUID(r, "workspace_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params addMemberRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if _, err := getWorkspaceChecked(txn, workspaceId); err != nil {
			return err
		}
		if err := requireRole(txn, workspaceId, identity.UserId, schema.RoleAdmin); err != nil {
			return err
		}
		if params.Role == schema.RoleOwner {
			if err := requireRole(txn, workspaceId, identity.UserId, schema.RoleOwner); err != nil {
				return err
			}
		}

		user, err := schema.GetUserByEmail(strings.ToLower(params.Email), txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if _, err := schema.GetMembership(workspaceId, user.Id, txn); err == nil {
			return CodedError(fmt.Errorf("user %v is already a member of this workspace", user.Email), http.StatusConflict)
		} else if !errors.Is(err, schema.ErrMembershipNotFound) {
			return CodedError(err, http.StatusInternalServerError)
		}

		member := schema.WorkspaceMember{
			WorkspaceId: workspaceId,
			UserId:      user.Id,
			Role:        params.Role,
			CreatedAt:   time.Now().UTC(),
		}
		result := txn.Create(&member)
		if result.Error != nil {
			slog.Error("sql error adding workspace member", "workspace_id", workspaceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error adding member: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type updateMemberRequest struct {
	Role string `json:"role"`
}

func (s *WorkspaceService) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workspaceId, err := utils.URLParamUUID(r, "workspace_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateMemberRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if !schema.ValidRole(params.Role) {
		http.Error(w, fmt.Sprintf("invalid role '%v'", params.Role), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if _, err := getWorkspaceChecked(txn, workspaceId); err != nil {
			return err
		}
		if err := requireRole(txn, workspaceId, identity.UserId, schema.RoleAdmin); err != nil {
			return err
		}
		if params.Role == schema.RoleOwner {
			if err := requireRole(txn, workspaceId, identity.UserId, schema.RoleOwner); err != nil {
				return err
			}
		}

		member, err := schema.GetMembership(workspaceId, userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrMembershipNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if member.Role == schema.RoleOwner && params.Role != schema.RoleOwner {
			owners, err := schema.CountOwners(workspaceId, txn)
			if err != nil {
				return CodedError(err, http.StatusInternalServerError)
			}
			if owners <= 1 {
				return CodedError(errors.New("workspace must retain at least one owner"), http.StatusConflict)
			}
		}

		result := txn.Model(&schema.WorkspaceMember{}).
			Where("workspace_id = ? and user_id = ?", workspaceId, userId).
			Update("role", params.Role)
		if result.Error != nil {
			slog.Error("sql error updating member role", "workspace_id", workspaceId, "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating member role: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *WorkspaceService) RemoveMember(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workspaceId, err := utils.URLParamUUID(r, "workspace_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if _, err := getWorkspaceChecked(txn, workspaceId); err != nil {
			return err
		}

		// Members may always remove themselves, otherwise admin or above.
		if userId != identity.UserId {
			if err := requireRole(txn, workspaceId, identity.UserId, schema.RoleAdmin); err != nil {
				return err
			}
		}

		member, err := schema.GetMembership(workspaceId, userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrMembershipNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if member.Role == schema.RoleOwner {
			owners, err := schema.CountOwners(workspaceId, txn)
			if err != nil {
				return CodedError(err, http.StatusInternalServerError)
			}
			if owners <= 1 {
				return CodedError(errors.New("workspace must retain at least one owner"), http.StatusConflict)
			}
		}

		result := txn.Delete(&schema.WorkspaceMember{WorkspaceId: workspaceId, UserId: userId})
		if result.Error != nil {
			slog.Error("sql error removing workspace member", "workspace_id", workspaceId, "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error removing member: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
