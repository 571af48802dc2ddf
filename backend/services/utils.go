package services

import (
	"errors"
	"log/slog"
	"net/http"

	"formbase/backend/auth"
	"formbase/backend/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// beginRead opens the unit of work for a read-only handler. The enforcement
// session settings are transaction-local, so reads need a transaction just
// like writes; the caller discards it with Rollback since nothing is written.
func beginRead(db *gorm.DB) (*gorm.DB, error) {
	txn := db.Begin()
	if txn.Error != nil {
		slog.Error("unable to begin read transaction", "error", txn.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return txn, nil
}

func getWorkspaceChecked(txn *gorm.DB, workspaceId uuid.UUID) (schema.Workspace, error) {
	workspace, err := schema.GetWorkspace(workspaceId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrWorkspaceNotFound) {
			return workspace, CodedError(err, http.StatusNotFound)
		}
		return workspace, CodedError(err, http.StatusInternalServerError)
	}
	return workspace, nil
}

func getFolderChecked(txn *gorm.DB, folderId uuid.UUID) (schema.Folder, error) {
	folder, err := schema.GetFolder(folderId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrFolderNotFound) {
			return folder, CodedError(err, http.StatusNotFound)
		}
		return folder, CodedError(err, http.StatusInternalServerError)
	}
	return folder, nil
}

func getFormChecked(txn *gorm.DB, formId uuid.UUID) (schema.Form, error) {
	form, err := schema.GetForm(formId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrFormNotFound) {
			return form, CodedError(err, http.StatusNotFound)
		}
		return form, CodedError(err, http.StatusInternalServerError)
	}
	return form, nil
}

func getFormVersionChecked(txn *gorm.DB, versionId uuid.UUID) (schema.FormVersion, error) {
	version, err := schema.GetFormVersion(versionId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrFormVersionNotFound) {
			return version, CodedError(err, http.StatusNotFound)
		}
		return version, CodedError(err, http.StatusInternalServerError)
	}
	return version, nil
}

func getSubmissionChecked(txn *gorm.DB, submissionId uuid.UUID) (schema.Submission, error) {
	submission, err := schema.GetSubmission(submissionId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrSubmissionNotFound) {
			return submission, CodedError(err, http.StatusNotFound)
		}
		return submission, CodedError(err, http.StatusInternalServerError)
	}
	return submission, nil
}

// requireRole gates an operation on the caller's workspace role. A missing
// membership reports as not found so the workspace's existence is not leaked.
func requireRole(txn *gorm.DB, workspaceId, userId uuid.UUID, requiredRole string) error {
	err := auth.RequireWorkspaceRole(txn, workspaceId, userId, requiredRole)
	if err != nil {
		if errors.Is(err, schema.ErrMembershipNotFound) {
			return CodedError(schema.ErrWorkspaceNotFound, http.StatusNotFound)
		}
		if errors.Is(err, auth.ErrInsufficientRole) {
			return CodedError(err, http.StatusForbidden)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}
