// Package handshake implements the first-message protocol: auth,
// workspace provisioning, duplicate detection, and the reply envelope
// (SPEC_FULL.md §4.7).
package handshake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/auth"
	"github.com/hyphahub/msghub/internal/connection"
	"github.com/hyphahub/msghub/internal/logger"
	"github.com/hyphahub/msghub/internal/models"
	"github.com/hyphahub/msghub/internal/store"
)

// Request is the first-frame JSON payload a client sends after the
// transport upgrade.
type Request struct {
	Token             string `json:"token,omitempty"`
	ReconnectionToken string `json:"reconnection_token,omitempty"`
	Workspace         string `json:"workspace,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
}

// Reply is the success frame sent once the Connection is constructed.
type Reply struct {
	ManagerID         string `json:"manager_id"`
	Workspace         string `json:"workspace"`
	ClientID          string `json:"client_id"`
	User              any    `json:"user"`
	ReconnectionToken string `json:"reconnection_token"`
	Success           bool   `json:"success"`
}

// Result holds what a successful handshake produces: the live
// Connection and the reply frame already sent to the transport.
type Result struct {
	Conn  *connection.Connection
	Reply Reply
}

// Handshaker runs the §4.7 protocol against one upgraded transport.
type Handshaker struct {
	Store                *store.Store
	Auth                 *auth.Verifier
	NodeID               string
	ReconnectTTL         time.Duration
	DuplicatePingTimeout time.Duration
}

// Run executes steps 1-8 of the protocol. send delivers frames to the
// transport (used both for the reply/error frame and, after success,
// wired into the returned Connection). legacyQuery reports whether the
// transport's opening URL carried query parameters (step 2).
func (h *Handshaker) Run(ctx context.Context, legacyQuery bool, firstFrame []byte, send connection.SendFunc) (*Result, *apperrors.AppError, int) {
	if legacyQuery {
		return nil, apperrors.New(apperrors.InvalidArgument, "legacy query-parameter handshake is no longer supported; send the handshake as the first text frame"), apperrors.ClosePolicyViolation
	}

	var req Request
	if err := json.Unmarshal(firstFrame, &req); err != nil {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "malformed handshake frame: %v", err), apperrors.CloseUnsupportedData
	}

	user, ws, cid, aerr, code := h.authenticate(req)
	if aerr != nil {
		return nil, aerr, code
	}

	if req.ClientID == "" && cid == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "Missing query parameters: client_id"), apperrors.CloseUnsupportedData
	}
	if cid == "" {
		cid = req.ClientID
	}

	workspaceName := req.Workspace
	if workspaceName == "" {
		workspaceName = ws
	}
	if workspaceName == "" {
		workspaceName = user.ID
	}
	if ws != "" && ws != workspaceName {
		return nil, apperrors.New(apperrors.Unauthenticated, "reconnection token workspace mismatch"), apperrors.CloseInternalError
	}

	wsRecord, aerr, code := h.provisionWorkspace(ctx, workspaceName, user)
	if aerr != nil {
		return nil, aerr, code
	}

	if !h.Store.CheckPermission(user, wsRecord) {
		return nil, apperrors.New(apperrors.PermissionDenied, "not permitted to enter this workspace"), apperrors.CloseInternalError
	}

	if aerr, code := h.handleDuplicate(ctx, cid, workspaceName, user); aerr != nil {
		return nil, aerr, code
	}

	conn := connection.New(workspaceName, cid, user, h.Store.Broker(), send)
	if err := conn.OnMessage(ctx, func(frame []byte) {
		if err := conn.Send(frame); err != nil {
			logger.Handshake().Warn().Err(err).Str("client_id", cid).Msg("failed to deliver frame to transport")
		}
	}); err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "failed to subscribe connection", err), apperrors.CloseInternalError
	}

	client := &models.Client{ID: cid, Workspace: workspaceName, User: *user}
	if err := h.Store.RegisterClient(ctx, client); err != nil {
		conn.Disconnect("registration failed")
		return nil, apperrors.Wrap(apperrors.Internal, "failed to register client", err), apperrors.CloseInternalError
	}

	reconnToken, err := h.Auth.GenerateReconnectionToken(user, workspaceName, cid, h.ReconnectTTL)
	if err != nil {
		logger.Handshake().Warn().Err(err).Msg("failed to mint reconnection token")
	}

	reply := Reply{
		ManagerID:         h.NodeID,
		Workspace:         workspaceName,
		ClientID:          cid,
		User:              user,
		ReconnectionToken: reconnToken,
		Success:           true,
	}
	return &Result{Conn: conn, Reply: reply}, nil, 0
}

// authenticate implements step 3: reconnection token, then bearer
// token, then anonymous synthesis.
func (h *Handshaker) authenticate(req Request) (*models.User, string, string, *apperrors.AppError, int) {
	if req.ReconnectionToken != "" {
		user, ws, cid, err := h.Auth.ParseReconnectionToken(req.ReconnectionToken)
		if err != nil {
			return nil, "", "", apperrors.Wrap(apperrors.Unauthenticated, "invalid reconnection token", err), apperrors.CloseInternalError
		}
		if req.Workspace != "" && req.Workspace != ws {
			return nil, "", "", apperrors.New(apperrors.Unauthenticated, "reconnection token workspace mismatch"), apperrors.CloseInternalError
		}
		if req.ClientID != "" && req.ClientID != cid {
			return nil, "", "", apperrors.New(apperrors.Unauthenticated, "reconnection token client_id mismatch"), apperrors.CloseInternalError
		}
		return user, ws, cid, nil, 0
	}

	if req.Token != "" {
		user, err := h.Auth.ParseToken(req.Token)
		if err != nil {
			return nil, "", "", apperrors.Wrap(apperrors.Unauthenticated, "invalid token", err), apperrors.CloseInternalError
		}
		return user, "", "", nil, 0
	}

	return &models.User{ID: "anonymous-" + uuid.NewString(), IsAnonymous: true}, "", "", nil, 0
}

// provisionWorkspace implements step 5: auto-create only when the
// workspace name equals the connecting user's id.
func (h *Handshaker) provisionWorkspace(ctx context.Context, workspaceName string, user *models.User) (*models.Workspace, *apperrors.AppError, int) {
	exists, err := h.Store.WorkspaceExists(ctx, workspaceName)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "workspace lookup failed", err), apperrors.CloseInternalError
	}

	if !exists {
		if workspaceName != user.ID {
			return nil, apperrors.Newf(apperrors.PermissionDenied, "Permission denied for workspace: %s", workspaceName), apperrors.CloseInternalError
		}
		ws := &models.Workspace{
			Name:       workspaceName,
			Owners:     []string{user.ID},
			Persistent: !user.IsAnonymous && !user.HasRole(models.TemporaryTestUserRole),
			ReadOnly:   user.IsAnonymous,
			Visibility: models.VisibilityProtected,
		}
		if err := h.Store.RegisterWorkspace(ctx, ws, false); err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, "failed to provision workspace", err), apperrors.CloseInternalError
		}
		return ws, nil, 0
	}

	ws, err := h.Store.GetWorkspace(ctx, workspaceName)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "failed to load workspace", err), apperrors.CloseInternalError
	}
	return ws, nil, 0
}

// handleDuplicate implements step 7: if (cid, ws) already exists,
// probe it; evict the slot only if the probe times out.
func (h *Handshaker) handleDuplicate(ctx context.Context, cid, workspaceName string, user *models.User) (*apperrors.AppError, int) {
	exists, err := h.Store.ClientExists(ctx, cid, workspaceName)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "client lookup failed", err), apperrors.CloseInternalError
	}
	if !exists {
		return nil, 0
	}

	alive := h.Store.Probe(ctx, cid, workspaceName, h.DuplicatePingTimeout)
	if alive {
		return apperrors.New(apperrors.Conflict, "Client already exists and is active"), apperrors.CloseInternalError
	}

	if err := h.Store.DeleteClient(ctx, cid, workspaceName, user); err != nil {
		return apperrors.Wrap(apperrors.Internal, "failed to evict stale client", err), apperrors.CloseInternalError
	}
	return nil, 0
}
