// Package store implements the process-wide registry of workspaces,
// clients, and services, keyed by the broker (SPEC_FULL.md §4.5), plus
// the non-persistent workspace reaper (§4.5a) and stale-client sweep
// (§4.7a).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/broker"
	"github.com/hyphahub/msghub/internal/bus"
	"github.com/hyphahub/msghub/internal/connection"
	"github.com/hyphahub/msghub/internal/logger"
	"github.com/hyphahub/msghub/internal/models"
	"github.com/hyphahub/msghub/internal/workspace"
)

// Store is the process-wide registry. One Store exists per node; all
// nodes sharing a broker observe the same workspace/client/service
// state.
type Store struct {
	kv     broker.Broker
	events *bus.Federated
	nodeID string

	mu       sync.RWMutex
	managers map[string]*workspace.Manager
}

// New constructs a Store bound to kv, identifying itself as nodeID in
// internal broker addresses. It subscribes a Federated event bus over
// kv for lifecycle notifications such as client_deleted.
func New(ctx context.Context, kv broker.Broker, nodeID string) (*Store, error) {
	events, err := bus.NewFederated(ctx, kv)
	if err != nil {
		return nil, err
	}
	return &Store{
		kv:       kv,
		events:   events,
		nodeID:   nodeID,
		managers: make(map[string]*workspace.Manager),
	}, nil
}

// Events exposes the Store's Federated event bus, for components that
// need to observe lifecycle events such as client_deleted.
func (s *Store) Events() *bus.Federated { return s.events }

// NodeID returns this store's node identifier.
func (s *Store) NodeID() string { return s.nodeID }

// Broker exposes the underlying broker, for components (Connection,
// handshake probes) that need raw channel pub/sub.
func (s *Store) Broker() broker.Broker { return s.kv }

// RegisterWorkspace writes ws to the broker-backed key space, failing
// if it already exists unless overwrite is set.
func (s *Store) RegisterWorkspace(ctx context.Context, ws *models.Workspace, overwrite bool) error {
	if !overwrite {
		exists, err := s.WorkspaceExists(ctx, ws.Name)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.Conflictf("workspace %q already exists", ws.Name)
		}
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, workspaceKey(ws.Name), data)
}

// WorkspaceExists reports whether a workspace named name is registered.
func (s *Store) WorkspaceExists(ctx context.Context, name string) (bool, error) {
	_, err := s.kv.Get(ctx, workspaceKey(name))
	if err == broker.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetWorkspace reads the workspace record for name.
func (s *Store) GetWorkspace(ctx context.Context, name string) (*models.Workspace, error) {
	data, err := s.kv.Get(ctx, workspaceKey(name))
	if err != nil {
		if err == broker.ErrNotFound {
			return nil, apperrors.NotFoundf("workspace %q not found", name)
		}
		return nil, err
	}
	var ws models.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, apperrors.Internalf("corrupt workspace record for %q: %v", name, err)
	}
	return &ws, nil
}

// ClientExists reports whether (clientID, workspace) is registered.
func (s *Store) ClientExists(ctx context.Context, clientID, workspaceName string) (bool, error) {
	_, err := s.kv.Get(ctx, clientKey(workspaceName, clientID))
	if err == broker.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetClient reads a client record.
func (s *Store) GetClient(ctx context.Context, clientID, workspaceName string) (*models.Client, error) {
	data, err := s.kv.Get(ctx, clientKey(workspaceName, clientID))
	if err != nil {
		if err == broker.ErrNotFound {
			return nil, apperrors.NotFoundf("client %q not found in workspace %q", clientID, workspaceName)
		}
		return nil, err
	}
	var c models.Client
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, apperrors.Internalf("corrupt client record: %v", err)
	}
	return &c, nil
}

// RegisterClient writes c to the registry.
func (s *Store) RegisterClient(ctx context.Context, c *models.Client) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, clientKey(c.Workspace, c.ID), data)
}

// DeleteClient removes a client's record and services, publishes
// client_deleted, and triggers the §4.5a synchronous reap check when
// the workspace is non-persistent and now empty.
func (s *Store) DeleteClient(ctx context.Context, clientID, workspaceName string, user *models.User) error {
	mgr := s.managerFor(workspaceName)
	if err := mgr.DeleteClientServices(ctx, clientID); err != nil {
		logger.Store().Warn().Err(err).Str("client_id", clientID).Msg("failed to clean up client services")
	}

	if err := s.kv.Delete(ctx, clientKey(workspaceName, clientID)); err != nil {
		return err
	}

	if err := s.events.Emit(ctx, "client_deleted", map[string]any{
		"client_id": clientID,
		"workspace": workspaceName,
		"user":      user,
	}); err != nil {
		logger.Store().Warn().Err(err).Str("client_id", clientID).Msg("failed to publish client_deleted")
	}

	return s.reapIfEmpty(ctx, workspaceName)
}

func (s *Store) reapIfEmpty(ctx context.Context, workspaceName string) error {
	ws, err := s.GetWorkspace(ctx, workspaceName)
	if err != nil {
		if apperrors.As(err).Kind == apperrors.NotFound {
			return nil
		}
		return err
	}
	if ws.Persistent {
		return nil
	}

	keys, err := s.kv.Keys(ctx, clientIndexPattern(workspaceName))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		logger.Store().Info().Str("workspace", workspaceName).Msg("reaping empty non-persistent workspace")
		if err := s.kv.Delete(ctx, workspaceKey(workspaceName)); err != nil {
			return err
		}
		s.mu.Lock()
		delete(s.managers, workspaceName)
		s.mu.Unlock()
	}
	return nil
}

// ReapEmptyWorkspaces re-checks every non-persistent workspace for
// zero clients, covering the case a node crashes between the last
// client's deletion and the synchronous check in DeleteClient.
func (s *Store) ReapEmptyWorkspaces(ctx context.Context) {
	keys, err := s.kv.Keys(ctx, workspaceIndexPattern())
	if err != nil {
		logger.Store().Error().Err(err).Msg("reap sweep: failed to list workspaces")
		return
	}
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var ws models.Workspace
		if err := json.Unmarshal(data, &ws); err != nil {
			continue
		}
		if err := s.reapIfEmpty(ctx, ws.Name); err != nil {
			logger.Store().Warn().Err(err).Str("workspace", ws.Name).Msg("reap sweep failed")
		}
	}
}

// SweepStaleClients probes every registered client with the
// handshake's ping/pong protocol and deletes any that fail to answer
// within timeout (§4.7a).
func (s *Store) SweepStaleClients(ctx context.Context, timeout time.Duration) {
	log := logger.Store()
	wsKeys, err := s.kv.Keys(ctx, workspaceIndexPattern())
	if err != nil {
		log.Error().Err(err).Msg("stale sweep: failed to list workspaces")
		return
	}
	for _, wsKey := range wsKeys {
		data, err := s.kv.Get(ctx, wsKey)
		if err != nil {
			continue
		}
		var ws models.Workspace
		if err := json.Unmarshal(data, &ws); err != nil {
			continue
		}

		clientKeys, err := s.kv.Keys(ctx, clientIndexPattern(ws.Name))
		if err != nil {
			continue
		}
		for _, ck := range clientKeys {
			cdata, err := s.kv.Get(ctx, ck)
			if err != nil {
				continue
			}
			var c models.Client
			if err := json.Unmarshal(cdata, &c); err != nil {
				continue
			}
			alive := s.Probe(ctx, c.ID, ws.Name, timeout)
			if !alive {
				log.Info().Str("workspace", ws.Name).Str("client_id", c.ID).Msg("sweeping stale client")
				if err := s.DeleteClient(ctx, c.ID, ws.Name, &c.User); err != nil {
					log.Warn().Err(err).Msg("failed to delete stale client")
				}
			}
		}
	}
}

// Probe sends a ping to {ws}/{cid} and waits up to timeout for pong,
// the same liveness check used during duplicate detection (§4.7 step 7).
func (s *Store) Probe(ctx context.Context, clientID, workspaceName string, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgChannel := fmt.Sprintf("%s/%s:msg", workspaceName, clientID)
	pongChannel := fmt.Sprintf("%s/%s:pong", workspaceName, clientID)

	sub, err := s.kv.Subscribe(probeCtx, pongChannel)
	if err != nil {
		return false
	}
	defer sub.Unsubscribe()

	if err := s.kv.Publish(probeCtx, msgChannel, []byte("ping")); err != nil {
		return false
	}

	select {
	case <-sub.Messages():
		return true
	case <-probeCtx.Done():
		return false
	}
}

// CheckPermission implements §4.8's reference to §4.6's rule at the
// Store level, used by the handshake before a workspace manager exists.
func (s *Store) CheckPermission(user *models.User, ws *models.Workspace) bool {
	return workspace.CheckPermission(user, ws)
}

// GetWorkspaceManager returns the workspace's manager handle, spawning
// one if setup is true and none exists yet on this node.
func (s *Store) GetWorkspaceManager(name string, setup bool) *workspace.Manager {
	s.mu.RLock()
	mgr, ok := s.managers[name]
	s.mu.RUnlock()
	if ok {
		return mgr
	}
	if !setup {
		return nil
	}
	return s.managerFor(name)
}

func (s *Store) managerFor(name string) *workspace.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mgr, ok := s.managers[name]; ok {
		return mgr
	}
	mgr := workspace.New(name, s.nodeID, s.kv)
	s.managers[name] = mgr
	return mgr
}

// ConnectToWorkspace opens an internal Connection under a synthetic
// client id, for the hub itself to send frames into a workspace.
// Probe does not use it; it publishes on the raw broker.
func (s *Store) ConnectToWorkspace(ctx context.Context, workspaceName string, user *models.User, clientID string) (*connection.Connection, error) {
	conn := connection.New(workspaceName, clientID, user, s.kv, func([]byte) error { return nil })
	if err := conn.OnMessage(ctx, func([]byte) {}); err != nil {
		return nil, err
	}
	return conn, nil
}

// CreateRPC constructs an in-process Connection suitable for
// server-initiated calls.
func (s *Store) CreateRPC(ctx context.Context, workspaceName, clientID string, user *models.User) (*connection.Connection, error) {
	return s.ConnectToWorkspace(ctx, workspaceName, user, clientID)
}
