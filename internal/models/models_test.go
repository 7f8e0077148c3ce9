package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkspaceIsPublic(t *testing.T) {
	assert.True(t, (&Workspace{Visibility: VisibilityPublic}).IsPublic())
	assert.False(t, (&Workspace{Visibility: VisibilityProtected}).IsPublic())
}

func TestNewPublicWorkspaceInvariants(t *testing.T) {
	ws := NewPublicWorkspace()
	assert.Equal(t, PublicWorkspaceName, ws.Name)
	assert.True(t, ws.Persistent)
	assert.True(t, ws.ReadOnly)
	assert.True(t, ws.IsPublic())
	assert.Contains(t, ws.Owners, RootUserID)
}

func TestUserHasRole(t *testing.T) {
	u := &User{Roles: []string{"admin", "editor"}}
	assert.True(t, u.HasRole("admin"))
	assert.False(t, u.HasRole("viewer"))
}

func TestUserInScope(t *testing.T) {
	u := &User{Scopes: []string{"acme", "globex"}}
	assert.True(t, u.InScope("acme"))
	assert.False(t, u.InScope("initech"))
}

func TestServiceConfigIsSingleton(t *testing.T) {
	cfg := ServiceConfig{Flags: []string{SingleInstanceFlag}}
	assert.True(t, cfg.IsSingleton())
	assert.False(t, (&ServiceConfig{}).IsSingleton())
}

func TestServiceClientID(t *testing.T) {
	svc := &Service{ID: "acme/c1:echo"}
	assert.Equal(t, "c1", svc.ClientID())
}

func TestServiceClientIDMalformed(t *testing.T) {
	assert.Equal(t, "", (&Service{ID: "no-slash"}).ClientID())
	assert.Equal(t, "", (&Service{ID: "acme/no-colon"}).ClientID())
}
