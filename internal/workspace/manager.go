// Package workspace implements the per-workspace control surface: the
// service registry, visibility-scoped listing, the permission rule,
// and workspace info get/patch (SPEC_FULL.md §4.6).
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/broker"
	"github.com/hyphahub/msghub/internal/models"
)

// Query filters ListServices by name and/or type; empty fields match
// anything.
type Query struct {
	Name string
	Type string
}

// Manager is one workspace's control surface, owned by the store and
// reachable internally at broker address "{workspace}/workspace-manager-<nodeid>".
type Manager struct {
	Workspace string
	NodeID    string

	kv broker.Broker

	mu sync.RWMutex
}

// New constructs a Manager for workspace, backed by kv.
func New(workspaceName, nodeID string, kv broker.Broker) *Manager {
	return &Manager{Workspace: workspaceName, NodeID: nodeID, kv: kv}
}

// Address is this manager's internal broker address.
func (m *Manager) Address() string {
	return fmt.Sprintf("%s/workspace-manager-%s", m.Workspace, m.NodeID)
}

// ListServices returns every registered service in this workspace
// matching query, plus every public service registered in any other
// workspace (§4.6: public services are visible across workspaces).
func (m *Manager) ListServices(ctx context.Context, query Query) ([]*models.Service, error) {
	own, err := m.fetchServices(ctx, serviceIndexPattern(m.Workspace), query, "")
	if err != nil {
		return nil, err
	}

	public, err := m.fetchServices(ctx, allServicesPattern(), query, m.Workspace)
	if err != nil {
		return nil, err
	}

	out := append(own, public...)
	return out, nil
}

// fetchServices scans pattern for services matching query. When
// excludeWorkspace is non-empty, services owned by that workspace are
// skipped (already covered by the caller's own-workspace scan) and
// only publicly-visible services are kept.
func (m *Manager) fetchServices(ctx context.Context, pattern string, query Query, excludeWorkspace string) ([]*models.Service, error) {
	keys, err := m.kv.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}

	var out []*models.Service
	for _, key := range keys {
		data, err := m.kv.Get(ctx, key)
		if err != nil {
			if err == broker.ErrNotFound {
				continue
			}
			return nil, err
		}
		var svc models.Service
		if err := json.Unmarshal(data, &svc); err != nil {
			continue
		}
		if excludeWorkspace != "" {
			if svc.Config.Workspace == excludeWorkspace {
				continue
			}
			if svc.Config.Visibility != models.VisibilityPublic {
				continue
			}
		}
		if query.Name != "" && svc.Name != query.Name {
			continue
		}
		if query.Type != "" && svc.Type != query.Type {
			continue
		}
		out = append(out, &svc)
	}
	return out, nil
}

// RegisterService stores svc, permitted only when callerWorkspace
// equals svc.Config.Workspace. A single-instance service supersedes
// any prior registration sharing its name in the same workspace.
func (m *Manager) RegisterService(ctx context.Context, callerWorkspace string, svc *models.Service) error {
	if callerWorkspace != svc.Config.Workspace {
		return apperrors.PermissionDeniedf("service %s belongs to workspace %s, not %s", svc.ID, svc.Config.Workspace, callerWorkspace)
	}

	if svc.Config.IsSingleton() {
		keys, err := m.kv.Keys(ctx, serviceIndexPattern(m.Workspace))
		if err != nil {
			return err
		}
		for _, key := range keys {
			data, err := m.kv.Get(ctx, key)
			if err != nil {
				continue
			}
			var existing models.Service
			if err := json.Unmarshal(data, &existing); err != nil {
				continue
			}
			if existing.Name == svc.Name && existing.ID != svc.ID {
				if err := m.kv.Delete(ctx, key); err != nil {
					return err
				}
			}
		}
	}

	data, err := json.Marshal(svc)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, serviceKey(m.Workspace, svc.ClientID(), svc.ID), data)
}

// DeleteClientServices removes every service owned by clientID.
func (m *Manager) DeleteClientServices(ctx context.Context, clientID string) error {
	keys, err := m.kv.Keys(ctx, fmt.Sprintf("%s:service:%s:%s:*", keyPrefix, m.Workspace, clientID))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := m.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// CheckPermission implements the §4.6 rule: true iff the user owns
// the workspace, has it listed in scopes, the workspace is public, or
// the user id equals the workspace name. Anonymous users pass only
// the last clause.
func CheckPermission(user *models.User, ws *models.Workspace) bool {
	if user.ID == ws.Name {
		return true
	}
	if user.IsAnonymous {
		return false
	}
	for _, owner := range ws.Owners {
		if owner == user.ID {
			return true
		}
	}
	if user.InScope(ws.Name) {
		return true
	}
	return ws.IsPublic()
}

// GetInfo reads the workspace record.
func (m *Manager) GetInfo(ctx context.Context) (*models.Workspace, error) {
	data, err := m.kv.Get(ctx, workspaceKey(m.Workspace))
	if err != nil {
		if err == broker.ErrNotFound {
			return nil, apperrors.NotFoundf("workspace %q not found", m.Workspace)
		}
		return nil, err
	}
	var ws models.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, apperrors.Internalf("corrupt workspace record for %q: %v", m.Workspace, err)
	}
	return &ws, nil
}

// allowedPatchKeys lists the Workspace fields Set may modify.
var allowedPatchKeys = map[string]bool{
	"owners":      true,
	"persistent":  true,
	"read_only":   true,
	"visibility":  true,
	"description": true,
	"config":      true,
}

// Set applies patch to the workspace record. patch must not contain
// "name" or any key outside allowedPatchKeys.
func (m *Manager) Set(ctx context.Context, patch map[string]any) error {
	if _, ok := patch["name"]; ok {
		return apperrors.InvalidArgumentf("workspace name is immutable")
	}
	for key := range patch {
		if !allowedPatchKeys[key] {
			return apperrors.InvalidArgumentf("unknown workspace field %q", key)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.GetInfo(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return err
	}
	for k, v := range patch {
		merged[strings.TrimSpace(k)] = v
	}
	mergedData, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	var updated models.Workspace
	if err := json.Unmarshal(mergedData, &updated); err != nil {
		return err
	}

	data, err := json.Marshal(&updated)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, workspaceKey(m.Workspace), data)
}
