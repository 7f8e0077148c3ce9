// Package httpapi hosts the /ws upgrade endpoint and the REST control
// surface over the Workspace Manager (SPEC_FULL.md §6's ADD section).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/connection"
	"github.com/hyphahub/msghub/internal/handshake"
	"github.com/hyphahub/msghub/internal/logger"
)

// upgrader accepts any origin: the hub's clients are arbitrary RPC
// peers, not browsers scoped by CORS.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the handshake protocol onto gorilla/websocket and gin.
type Server struct {
	Handshaker       *handshake.Handshaker
	HandshakeTimeout time.Duration
}

// HandleWS upgrades the connection, then runs the §4.7 protocol
// against the first frame.
func (s *Server) HandleWS(c *gin.Context) {
	legacyQuery := len(c.Request.URL.RawQuery) > 0

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	var firstFrame []byte
	if !legacyQuery {
		_ = conn.SetReadDeadline(time.Now().Add(s.HandshakeTimeout))
		msgType, frame, err := conn.ReadMessage()
		if err != nil || msgType != websocket.TextMessage {
			writeErrorAndClose(conn, apperrors.New(apperrors.InvalidArgument, "expected a text handshake frame"), apperrors.CloseUnsupportedData)
			return
		}
		_ = conn.SetReadDeadline(time.Time{})
		firstFrame = frame
	}

	result, aerr, code := s.Handshaker.Run(c.Request.Context(), legacyQuery, firstFrame, func(frame []byte) error {
		return conn.WriteMessage(websocket.BinaryMessage, frame)
	})
	if aerr != nil {
		writeErrorAndClose(conn, aerr, code)
		return
	}

	replyData, _ := json.Marshal(result.Reply)
	if err := conn.WriteMessage(websocket.TextMessage, replyData); err != nil {
		result.Conn.Disconnect("failed to deliver handshake reply")
		return
	}

	runFrameLoop(c.Request.Context(), conn, result.Conn)
}

func runFrameLoop(ctx context.Context, wsConn *websocket.Conn, conn *connection.Connection) {
	log := logger.Connection()
	defer func() {
		conn.Disconnect("transport closed")
		_ = wsConn.Close()
	}()

	for {
		msgType, frame, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := conn.EmitMessage(ctx, frame); err != nil {
			log.Warn().Err(err).Msg("emit_message failed")
		}
	}
}

func writeErrorAndClose(conn *websocket.Conn, aerr *apperrors.AppError, code int) {
	reply := apperrors.HandshakeReply{Error: aerr.Message, Success: false}
	data, _ := json.Marshal(reply)
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, aerr.Message))
	_ = conn.Close()
}
