// Package models defines the core data structures exchanged between the
// hub's components: workspaces, users, clients, and services.
//
// There is no database behind these types — the hub's only persistence
// is the broker's key space (see internal/store) — so these structs
// carry only `json` tags for wire (broker value / REST) serialization.
package models

// Visibility controls whether a workspace or service is reachable from
// outside its owning workspace.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityProtected Visibility = "protected"
)

// PublicWorkspaceName is the one workspace that always exists, is
// persistent, read-only, and owned by RootUserID.
const PublicWorkspaceName = "public"

// RootUserID is the reserved internal principal used when the hub
// initializes the public workspace and issues internal probes. It may
// never arrive from a remote connection (see auth.ParseToken).
const RootUserID = "root"

// Workspace is a named authorization and routing scope.
//
// Invariants (see SPEC_FULL.md §3):
//   - the public workspace is always present, persistent, read-only,
//     and owned by RootUserID;
//   - a non-persistent workspace is garbage-collected once its last
//     client disconnects (see store.Store.DeleteClient);
//   - the name is immutable after creation (Manager.Set rejects a
//     patch that changes it).
type Workspace struct {
	Name        string            `json:"name"`
	Owners      []string          `json:"owners"`
	Persistent  bool              `json:"persistent"`
	ReadOnly    bool              `json:"read_only"`
	Visibility  Visibility        `json:"visibility"`
	Description string            `json:"description,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
}

// IsPublic reports whether w has public visibility. Resolves the
// ambiguity noted in SPEC_FULL.md Open Question (a): there is no
// separate "public" boolean on the schema, Visibility is authoritative.
func (w *Workspace) IsPublic() bool {
	return w.Visibility == VisibilityPublic
}

// NewPublicWorkspace returns the well-known `public` workspace record,
// as minted once at process start (SPEC_FULL.md §2 process topology).
func NewPublicWorkspace() *Workspace {
	return &Workspace{
		Name:       PublicWorkspaceName,
		Owners:     []string{RootUserID},
		Persistent: true,
		ReadOnly:   true,
		Visibility: VisibilityPublic,
	}
}
