package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrWorkspaceNotFound   = errors.New("workspace not found")
	ErrMembershipNotFound  = errors.New("workspace membership not found")
	ErrFolderNotFound      = errors.New("folder not found")
	ErrFormNotFound        = errors.New("form not found")
	ErrFormVersionNotFound = errors.New("form version not found")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrDbAccessFailed      = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetUserByEmail(email string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by email", "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetWorkspace(workspaceId uuid.UUID, db *gorm.DB) (Workspace, error) {
	var workspace Workspace

	result := db.First(&workspace, "id = ?", workspaceId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return workspace, ErrWorkspaceNotFound
		}
		slog.Error("sql error in get workspace", "workspace_id", workspaceId, "error", result.Error)
		return workspace, ErrDbAccessFailed
	}

	return workspace, nil
}

func GetMembership(workspaceId, userId uuid.UUID, db *gorm.DB) (WorkspaceMember, error) {
	var member WorkspaceMember

	result := db.First(&member, "workspace_id = ? and user_id = ?", workspaceId, userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return member, ErrMembershipNotFound
		}
		slog.Error("sql error in get membership", "workspace_id", workspaceId, "user_id", userId, "error", result.Error)
		return member, ErrDbAccessFailed
	}

	return member, nil
}

func CountOwners(workspaceId uuid.UUID, db *gorm.DB) (int64, error) {
	var count int64

	result := db.Model(&WorkspaceMember{}).
		Where("workspace_id = ? and role = ?", workspaceId, RoleOwner).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error in count owners", "workspace_id", workspaceId, "error", result.Error)
		return 0, ErrDbAccessFailed
	}

	return count, nil
}

func GetFolder(folderId uuid.UUID, db *gorm.DB) (Folder, error) {
	var folder Folder

	result := db.First(&folder, "id = ?", folderId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return folder, ErrFolderNotFound
		}
		slog.Error("sql error in get folder", "folder_id", folderId, "error", result.Error)
		return folder, ErrDbAccessFailed
	}

	return folder, nil
}

func GetForm(formId uuid.UUID, db *gorm.DB) (Form, error) {
	var form Form

	result := db.First(&form, "id = ?", formId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return form, ErrFormNotFound
		}
		slog.Error("sql error in get form", "form_id", formId, "error", result.Error)
		return form, ErrDbAccessFailed
	}

	return form, nil
}

func GetFormVersion(versionId uuid.UUID, db *gorm.DB) (FormVersion, error) {
	var version FormVersion

	result := db.First(&version, "id = ?", versionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return version, ErrFormVersionNotFound
		}
		slog.Error("sql error in get form version", "version_id", versionId, "error", result.Error)
		return version, ErrDbAccessFailed
	}

	return version, nil
}

// GetDraftVersion returns the form's draft version. The version state column
// is authoritative; the draft_version_id pointer on the form row is only a
// convenience for clients.
func GetDraftVersion(formId uuid.UUID, db *gorm.DB) (FormVersion, error) {
	var version FormVersion

	result := db.Where("form_id = ? and state = ?", formId, VersionStateDraft).First(&version)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return version, ErrFormVersionNotFound
		}
		slog.Error("sql error in get draft version", "form_id", formId, "error", result.Error)
		return version, ErrDbAccessFailed
	}

	return version, nil
}

// GetPublishedVersion returns the form's newest published version, again by
// state rather than through the form row's pointer.
func GetPublishedVersion(formId uuid.UUID, db *gorm.DB) (FormVersion, error) {
	var version FormVersion

	result := db.Where("form_id = ? and state = ?", formId, VersionStatePublished).
		Order("version_number desc").First(&version)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return version, ErrFormVersionNotFound
		}
		slog.Error("sql error in get published version", "form_id", formId, "error", result.Error)
		return version, ErrDbAccessFailed
	}

	return version, nil
}

// NextVersionNumber returns one past the highest version number recorded for
// the form, so version numbers stay monotonic per form even though the draft
// row keeps its original number across publishes.
func NextVersionNumber(formId uuid.UUID, db *gorm.DB) (int, error) {
	var highest int

	result := db.Model(&FormVersion{}).
		Where("form_id = ?", formId).
		Select("coalesce(max(version_number), 0)").
		Scan(&highest)
	if result.Error != nil {
		slog.Error("sql error in next version number", "form_id", formId, "error", result.Error)
		return 0, ErrDbAccessFailed
	}

	return highest + 1, nil
}

func GetSubmission(submissionId uuid.UUID, db *gorm.DB) (Submission, error) {
	var submission Submission

	result := db.First(&submission, "id = ?", submissionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return submission, ErrSubmissionNotFound
		}
		slog.Error("sql error in get submission", "submission_id", submissionId, "error", result.Error)
		return submission, ErrDbAccessFailed
	}

	return submission, nil
}
