package rls

import (
	"log/slog"

	"gorm.io/gorm"
)

// sessionSettings is the scope rendered as the transaction-local settings the
// database-native policies read. Unset ids become empty strings, which the
// policy SQL treats as "no value".
type sessionSettings struct {
	UserId       string
	WorkspaceId  string
	Bypass       string
	PublicInsert string
}

func settingsForScope(scope Scope) sessionSettings {
	settings := sessionSettings{Bypass: "off", PublicInsert: "off"}
	if scope.ActorId != nil {
		settings.UserId = scope.ActorId.String()
	}
	if scope.WorkspaceId != nil {
		settings.WorkspaceId = scope.WorkspaceId.String()
	}
	if scope.Bypass {
		settings.Bypass = "on"
	}
	if scope.PublicInsert {
		settings.PublicInsert = "on"
	}
	return settings
}

const applySettingsSql = "SELECT set_config('app.user_id', $1, true), " +
	"set_config('app.workspace_id', $2, true), " +
	"set_config('app.bypass_rls', $3, true), " +
	"set_config('app.is_public_insert', $4, true)"

// applySessionSettings installs the scope as transaction-local settings so
// the native Postgres policies see the same access context the in-process
// callbacks enforce. set_config with is_local only survives inside a
// transaction, and only Postgres carries the policies, so everything else is
// skipped. Reapplying within one transaction is harmless, the values are
// identical.
func applySessionSettings(tx *gorm.DB) {
	if tx.Dialector.Name() != "postgres" {
		return
	}
	if _, inTxn := tx.Statement.ConnPool.(gorm.TxCommitter); !inTxn {
		return
	}
	scope, ok := FromContext(tx.Statement.Context)
	if !ok {
		return
	}

	settings := settingsForScope(scope)
	_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context, applySettingsSql,
		settings.UserId, settings.WorkspaceId, settings.Bypass, settings.PublicInsert)
	if err != nil {
		slog.Error("unable to apply row security session settings", "error", err)
		_ = tx.AddError(err)
	}
}
