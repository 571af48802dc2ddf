package versions

import (
	"fmt"

	"gorm.io/gorm"
)

// Session settings the application sets per transaction (see backend/rls,
// which installs them with set_config at the start of each unit of work). The
// policies below mirror the in-process enforcement callbacks so that a client
// reaching the database outside the application still cannot cross workspace
// boundaries. Unset settings come through as NULL or '', so every uuid cast
// goes through nullif.
const (
	bypassOn       = "coalesce(current_setting('app.bypass_rls', true), 'off') = 'on'"
	publicInsertOn = "coalesce(current_setting('app.is_public_insert', true), 'off') = 'on'"

	actorWorkspaces = "(SELECT workspace_id FROM workspace_members WHERE user_id = nullif(current_setting('app.user_id', true), '')::uuid)"
)

func workspaceMatch(column string) string {
	return fmt.Sprintf(
		"%v IN %v AND (coalesce(current_setting('app.workspace_id', true), '') = '' OR %v = nullif(current_setting('app.workspace_id', true), '')::uuid)",
		column, actorWorkspaces, column,
	)
}

func Migration_1_rls_policies(txn *gorm.DB) error {
	policies := []struct {
		table string
		using string
	}{
		{"workspaces", fmt.Sprintf("id IN %v", actorWorkspaces)},
		{"workspace_members", workspaceMatch("workspace_id")},
		{"folders", workspaceMatch("workspace_id")},
		{"forms", workspaceMatch("workspace_id")},
		{"form_versions", fmt.Sprintf("form_id IN (SELECT id FROM forms WHERE %v)", workspaceMatch("workspace_id"))},
		{"form_fields", fmt.Sprintf("form_version_id IN (SELECT v.id FROM form_versions v JOIN forms f ON f.id = v.form_id WHERE %v)", workspaceMatch("f.workspace_id"))},
		{"form_field_choices", fmt.Sprintf("form_field_id IN (SELECT ff.id FROM form_fields ff JOIN form_versions v ON v.id = ff.form_version_id JOIN forms f ON f.id = v.form_id WHERE %v)", workspaceMatch("f.workspace_id"))},
		{"submissions", workspaceMatch("workspace_id")},
		{"answers", fmt.Sprintf("submission_id IN (SELECT id FROM submissions WHERE %v)", workspaceMatch("workspace_id"))},
	}

	for _, policy := range policies {
		statements := []string{
			fmt.Sprintf("ALTER TABLE %v ENABLE ROW LEVEL SECURITY", policy.table),
			fmt.Sprintf("ALTER TABLE %v FORCE ROW LEVEL SECURITY", policy.table),
			fmt.Sprintf(
				"CREATE POLICY %v_member_access ON %v USING (%v OR (%v))",
				policy.table, policy.table, bypassOn, policy.using,
			),
		}
		for _, statement := range statements {
			if err := txn.Exec(statement).Error; err != nil {
				return fmt.Errorf("applying policy on %v: %w", policy.table, err)
			}
		}
	}

	// Anonymous form intake inserts into the ledger without an actor.
	for _, table := range []string{"submissions", "answers"} {
		statement := fmt.Sprintf(
			"CREATE POLICY %v_public_insert ON %v FOR INSERT WITH CHECK (%v)",
			table, table, publicInsertOn,
		)
		if err := txn.Exec(statement).Error; err != nil {
			return fmt.Errorf("applying public insert policy on %v: %w", table, err)
		}
	}

	return nil
}
