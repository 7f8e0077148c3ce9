package models

// User is a snapshot of an authenticated (or anonymous) principal,
// embedded verbatim into every Client and rewritten onto every outbound
// envelope's `user` field (see envelope.Rewrite).
//
// Invariants: RootUserID may never arrive from a remote connection; an
// anonymous user may only enter the workspace whose name equals its own
// id (see store.Store.CheckPermission).
type User struct {
	ID          string   `json:"id"`
	Roles       []string `json:"roles"`
	IsAnonymous bool     `json:"is_anonymous"`
	Email       string   `json:"email,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
}

// HasRole reports whether the user carries the named role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// InScope reports whether workspace is listed in the user's scopes.
func (u *User) InScope(workspace string) bool {
	for _, s := range u.Scopes {
		if s == workspace {
			return true
		}
	}
	return false
}

// TemporaryTestUserRole marks a user whose workspace, if auto-created,
// must not be persistent (SPEC_FULL.md §4.7 step 5).
const TemporaryTestUserRole = "temporary-test-user"
