package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"formbase/backend/auth"
	"formbase/backend/schema"
	"formbase/utils"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FolderService struct {
	db  *gorm.DB
	jwt *auth.JwtManager
}

func (s *FolderService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.jwt.AccessContextMiddleware)

	r.Post("/", s.Create)
	r.Get("/", s.List)

	r.Route("/{folder_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Get("/children", s.Children)
		r.Get("/forms", s.Forms)
		r.Put("/", s.Update)
		r.Put("/move", s.Move)
		r.Delete("/", s.Delete)
	})

	return r
}

type createFolderRequest struct {
	WorkspaceId uuid.UUID  `json:"workspace_id"`
	Name        string     `json:"name"`
	ParentId    *uuid.UUID `json:"parent_id"`
}

func (p createFolderRequest) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.WorkspaceId, validation.Required),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
	)
}

type FolderInfo struct {
	Id          uuid.UUID  `json:"id"`
	WorkspaceId uuid.UUID  `json:"workspace_id"`
	Name        string     `json:"name"`
	ParentId    *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func folderInfo(folder schema.Folder) FolderInfo {
	return FolderInfo{
		Id:          folder.Id,
		WorkspaceId: folder.WorkspaceId,
		Name:        folder.Name,
		ParentId:    folder.ParentId,
		CreatedAt:   folder.CreatedAt,
	}
}

// checkParentFolder verifies that a prospective parent exists and lives in
// the same workspace.
func checkParentFolder(txn *gorm.DB, workspaceId, parentId uuid.UUID) error {
	parent, err := getFolderChecked(txn, parentId)
	if err != nil {
		return err
	}
	if parent.WorkspaceId != workspaceId {
		return CodedError(errors.New("parent folder must be in the same workspace"), http.StatusUnprocessableEntity)
	}
	return nil
}

func (s *FolderService) Create(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params createFolderRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	now := time.Now().UTC()
	folder := schema.Folder{
		Id:          uuid.New(),
		WorkspaceId: params.WorkspaceId,
		Name:        params.Name,
		ParentId:    params.ParentId,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		if _, err := getWorkspaceChecked(txn, params.WorkspaceId); err != nil {
			return err
		}
		if err := requireRole(txn, params.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}
		if params.ParentId != nil {
			if err := checkParentFolder(txn, params.WorkspaceId, *params.ParentId); err != nil {
				return err
			}
		}

		result := txn.Create(&folder)
		if result.Error != nil {
			slog.Error("sql error creating folder", "workspace_id", params.WorkspaceId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating folder: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteCreatedResponse(w, folderInfo(folder))
}

func (s *FolderService) List(w http.ResponseWriter, r *http.Request) {
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

	var folders []schema.Folder
	result := db.Where("workspace_id = ?", workspaceId).Order("created_at").Find(&folders)
	if result.Error != nil {
		slog.Error("sql error listing folders", "workspace_id", workspaceId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing folders: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]FolderInfo, 0, len(folders))
	for _, folder := range folders {
		infos = append(infos, folderInfo(folder))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *FolderService) Get(w http.ResponseWriter, r *http.Request) {
	folderId, err := utils.URLParamUUID(r, "folder_id")
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

	folder, err := getFolderChecked(db, folderId)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, folderInfo(folder))
}

func (s *FolderService) Children(w http.ResponseWriter, r *http.Request) {
	folderId, err := utils.URLParamUUID(r, "folder_id")
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

	if _, err := getFolderChecked(db, folderId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var children []schema.Folder
	result := db.Where("parent_id = ?", folderId).Order("created_at").Find(&children)
	if result.Error != nil {
		slog.Error("sql error listing folder children", "folder_id", folderId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing folder children: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]FolderInfo, 0, len(children))
	for _, child := range children {
		infos = append(infos, folderInfo(child))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *FolderService) Forms(w http.ResponseWriter, r *http.Request) {
	folderId, err := utils.URLParamUUID(r, "folder_id")
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

	if _, err := getFolderChecked(db, folderId); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var forms []schema.Form
	result := db.Where("folder_id = ?", folderId).Order("created_at").Find(&forms)
	if result.Error != nil {
		slog.Error("sql error listing folder forms", "folder_id", folderId, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing folder forms: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]FormInfo, 0, len(forms))
	for _, form := range forms {
		infos = append(infos, formInfo(form))
	}

	utils.WriteJsonResponse(w, infos)
}

type updateFolderRequest struct {
	Name string `json:"name"`
}

func (s *FolderService) Update(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	folderId, err := utils.URLParamUUID(r, "folder_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateFolderRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == "" {
		http.Error(w, "folder name must not be empty", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		folder, err := getFolderChecked(txn, folderId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, folder.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}

		result := txn.Model(&schema.Folder{Id: folderId}).Update("name", params.Name)
		if result.Error != nil {
			slog.Error("sql error renaming folder", "folder_id", folderId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating folder: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type moveFolderRequest struct {
	ParentId *uuid.UUID `json:"parent_id"`
}

// wouldCreateCycle walks up from the prospective parent looking for the
// folder being moved.
func wouldCreateCycle(txn *gorm.DB, folderId uuid.UUID, parentId *uuid.UUID) (bool, error) {
	current := parentId
	for current != nil {
		if *current == folderId {
			return true, nil
		}
		parent, err := schema.GetFolder(*current, txn)
		if err != nil {
			if errors.Is(err, schema.ErrFolderNotFound) {
				return false, nil
			}
			return false, err
		}
		current = parent.ParentId
	}
	return false, nil
}

func (s *FolderService) Move(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	folderId, err := utils.URLParamUUID(r, "folder_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params moveFolderRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		folder, err := getFolderChecked(txn, folderId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, folder.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}

		if params.ParentId != nil {
			if *params.ParentId == folderId {
				return CodedError(errors.New("folder cannot be its own parent"), http.StatusUnprocessableEntity)
			}
			if err := checkParentFolder(txn, folder.WorkspaceId, *params.ParentId); err != nil {
				return err
			}
			cycle, err := wouldCreateCycle(txn, folderId, params.ParentId)
			if err != nil {
				return CodedError(err, http.StatusInternalServerError)
			}
			if cycle {
				return CodedError(errors.New("move would create a folder cycle"), http.StatusUnprocessableEntity)
			}
		}

		result := txn.Model(&schema.Folder{Id: folderId}).Update("parent_id", params.ParentId)
		if result.Error != nil {
			slog.Error("sql error moving folder", "folder_id", folderId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error moving folder: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *FolderService) Delete(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.IdentityFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	folderId, err := utils.URLParamUUID(r, "folder_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.WithContext(r.Context()).Transaction(func(txn *gorm.DB) error {
		folder, err := getFolderChecked(txn, folderId)
		if err != nil {
			return err
		}
		if err := requireRole(txn, folder.WorkspaceId, identity.UserId, schema.RoleEditor); err != nil {
			return err
		}

		var children int64
		result := txn.Model(&schema.Folder{}).Where("parent_id = ?", folderId).Count(&children)
		if result.Error != nil {
			slog.Error("sql error counting folder children", "folder_id", folderId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if children > 0 {
			return CodedError(errors.New("folder has child folders, move or delete them first"), http.StatusConflict)
		}

		// Forms in the folder are detached, not deleted.
		result = txn.Model(&schema.Form{}).Where("folder_id = ?", folderId).Update("folder_id", nil)
		if result.Error != nil {
			slog.Error("sql error detaching forms from folder", "folder_id", folderId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.Folder{Id: folderId})
		if result.Error != nil {
			slog.Error("sql error deleting folder", "folder_id", folderId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting folder: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
