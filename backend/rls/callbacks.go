package rls

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Register installs the enforcement callbacks on the session. Every query,
// row, update, and delete statement against a workspace-scoped table gets the
// table's visibility predicate ANDed into its conditions before SQL is built,
// and every statement against a scoped table (creates included) mirrors the
// scope into the Postgres session settings the native policies read.
func Register(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("rls:query", enforceScope); err != nil {
		return fmt.Errorf("registering rls:query callback: %w", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("rls:row", enforceScope); err != nil {
		return fmt.Errorf("registering rls:row callback: %w", err)
	}
	if err := db.Callback().Update().Before("gorm:update").Register("rls:update", enforceScope); err != nil {
		return fmt.Errorf("registering rls:update callback: %w", err)
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("rls:delete", enforceScope); err != nil {
		return fmt.Errorf("registering rls:delete callback: %w", err)
	}
	if err := db.Callback().Create().Before("gorm:create").Register("rls:create", prepareCreate); err != nil {
		return fmt.Errorf("registering rls:create callback: %w", err)
	}

	return nil
}

func resolveTable(tx *gorm.DB) (string, bool) {
	stmt := tx.Statement

	if stmt.Schema == nil && stmt.Model != nil {
		if err := stmt.Parse(stmt.Model); err != nil {
			slog.Error("unable to parse statement model for scope enforcement", "error", err)
			_ = tx.AddError(err)
			return "", false
		}
	}

	table := stmt.Table
	if table == "" && stmt.Schema != nil {
		table = stmt.Schema.Table
	}
	return table, true
}

func enforceScope(tx *gorm.DB) {
	stmt := tx.Statement

	table, ok := resolveTable(tx)
	if !ok || !isScopedTable(table) {
		return
	}

	applySessionSettings(tx)

	scope, ok := FromContext(stmt.Context)
	if !ok {
		deny(stmt)
		return
	}
	if scope.Bypass {
		return
	}
	if scope.ActorId == nil {
		deny(stmt)
		return
	}

	sql, vars := tablePredicate(table, scope)
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: sql, Vars: vars}}})
}

// prepareCreate carries no visibility predicate (inserts are validated by the
// services against their parent rows), but the native insert policies still
// need the session settings in place.
func prepareCreate(tx *gorm.DB) {
	table, ok := resolveTable(tx)
	if !ok || !isScopedTable(table) {
		return
	}

	applySessionSettings(tx)
}

func deny(stmt *gorm.Statement) {
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "1 = 0"}}})
}

var scopedTables = map[string]bool{
	"workspaces":         true,
	"workspace_members":  true,
	"folders":            true,
	"forms":              true,
	"form_versions":      true,
	"form_fields":        true,
	"form_field_choices": true,
	"submissions":        true,
	"answers":            true,
}

func isScopedTable(table string) bool {
	return scopedTables[table]
}

const membershipSubquery = "(SELECT m.workspace_id FROM workspace_members m WHERE m.user_id = ?)"

// workspaceColumnPredicate restricts the given workspace-id column to the
// actor's memberships, plus an exact match when the scope names a workspace.
func workspaceColumnPredicate(column string, scope Scope) (string, []interface{}) {
	sql := column + " IN " + membershipSubquery
	vars := []interface{}{*scope.ActorId}
	if scope.WorkspaceId != nil {
		sql += " AND " + column + " = ?"
		vars = append(vars, *scope.WorkspaceId)
	}
	return sql, vars
}

// tablePredicate transcribes the per-table row security policies. Tables
// without a workspace_id column reach one through ancestor subqueries.
func tablePredicate(table string, scope Scope) (string, []interface{}) {
	switch table {
	case "workspaces":
		// Visibility of the workspace row itself is membership; the scope's
		// workspace narrowing does not apply so workspace listings always
		// show everything the actor belongs to.
		return "workspaces.id IN " + membershipSubquery, []interface{}{*scope.ActorId}
	case "workspace_members":
		return workspaceColumnPredicate("workspace_members.workspace_id", scope)
	case "folders":
		return workspaceColumnPredicate("folders.workspace_id", scope)
	case "forms":
		return workspaceColumnPredicate("forms.workspace_id", scope)
	case "form_versions":
		inner, vars := workspaceColumnPredicate("f.workspace_id", scope)
		return "form_versions.form_id IN (SELECT f.id FROM forms f WHERE " + inner + ")", vars
	case "form_fields":
		inner, vars := workspaceColumnPredicate("f.workspace_id", scope)
		return "form_fields.form_version_id IN (SELECT v.id FROM form_versions v JOIN forms f ON f.id = v.form_id WHERE " + inner + ")", vars
	case "form_field_choices":
		inner, vars := workspaceColumnPredicate("f.workspace_id", scope)
		return "form_field_choices.form_field_id IN (SELECT ff.id FROM form_fields ff JOIN form_versions v ON v.id = ff.form_version_id JOIN forms f ON f.id = v.form_id WHERE " + inner + ")", vars
	case "submissions":
		return workspaceColumnPredicate("submissions.workspace_id", scope)
	case "answers":
		inner, vars := workspaceColumnPredicate("s.workspace_id", scope)
		return "answers.submission_id IN (SELECT s.id FROM submissions s WHERE " + inner + ")", vars
	}
	panic(fmt.Sprintf("no visibility predicate for scoped table %v", table))
}
