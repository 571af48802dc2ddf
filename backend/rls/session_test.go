package rls

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSettingsForUserScope(t *testing.T) {
	actor := uuid.New()
	workspace := uuid.New()

	settings := settingsForScope(UserScope(actor, &workspace))
	assert.Equal(t, actor.String(), settings.UserId)
	assert.Equal(t, workspace.String(), settings.WorkspaceId)
	assert.Equal(t, "off", settings.Bypass)
	assert.Equal(t, "off", settings.PublicInsert)

	settings = settingsForScope(UserScope(actor, nil))
	assert.Empty(t, settings.WorkspaceId)
}

func TestSettingsForBypassScopes(t *testing.T) {
	settings := settingsForScope(BypassScope())
	assert.Empty(t, settings.UserId)
	assert.Equal(t, "on", settings.Bypass)
	assert.Equal(t, "off", settings.PublicInsert)

	settings = settingsForScope(PublicSubmissionScope())
	assert.Equal(t, "on", settings.Bypass)
	assert.Equal(t, "on", settings.PublicInsert)
}

func TestSettingsForEmptyScope(t *testing.T) {
	settings := settingsForScope(Scope{})
	assert.Empty(t, settings.UserId)
	assert.Empty(t, settings.WorkspaceId)
	assert.Equal(t, "off", settings.Bypass)
	assert.Equal(t, "off", settings.PublicInsert)
}
