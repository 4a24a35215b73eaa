package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"school-gateway/internal/audit"
	"school-gateway/internal/dispatch"
	"school-gateway/internal/models"
	"school-gateway/internal/registry"
	"school-gateway/internal/token"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxFrameSize = 4096

	sendBufferSize = 256
)

// Session is one live authenticated connection. It implements registry.Conn:
// pushes from anywhere in the process land on its outbound channel.
type Session struct {
	id       string
	gw       *Gateway
	conn     *websocket.Conn
	send     chan []byte
	identity models.Identity

	// Credential pair supplied at handshake. accessToken is replaced when a
	// frame rides the refresh path; only the read pump touches these.
	accessToken  string
	refreshToken string

	ctx         context.Context
	cancel      context.CancelFunc
	closed      int32
	closeReason atomic.Value

	logger *slog.Logger
}

func newSession(gw *Gateway, conn *websocket.Conn, identity models.Identity, accessToken, refreshToken string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Session{
		id:           id,
		gw:           gw,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		identity:     identity,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		ctx:          ctx,
		cancel:       cancel,
		logger:       gw.logger.With("connID", id, "accountID", identity.AccountID),
	}
}

func (s *Session) ID() string { return s.id }

// Deliver queues payload for the outbound stream without blocking. A full
// buffer or a closed session drops the payload; higher-level protocols
// reconcile on reconnect.
func (s *Session) Deliver(payload []byte) error {
	if s.isClosed() {
		return registry.ErrConnClosed
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.ctx.Done():
		return registry.ErrConnClosed
	default:
		s.logger.Warn("send buffer full, dropping delivery")
		return registry.ErrConnClosed
	}
}

// Close records the reason and stops the session. The write pump owns the
// socket's write side and emits the terminal close frame on its way out; the
// read pump's exit path handles deregistration.
func (s *Session) Close(reason string) {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		s.closeReason.Store(reason)
		s.cancel()
	}
}

func (s *Session) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// readPump owns the inbound loop. Presence never lags the socket: the
// deferred disconnect runs before the goroutine exits, whatever killed it.
func (s *Session) readPump() {
	defer func() {
		s.gw.registry.Disconnect(s.identity.AccountID, s)
		atomic.StoreInt32(&s.closed, 1)
		s.cancel()
		s.gw.audit.Publish(context.Background(), audit.Event{
			Type:      audit.EventSessionClosed,
			AccountID: s.identity.AccountID,
			Role:      s.identity.Role,
			ConnID:    s.id,
		})
		s.logger.Debug("session closed")
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error", "error", err)
			}
			return
		}

		if !s.handleFrame(raw) {
			return
		}
	}
}

// handleFrame processes one inbound frame; false means the connection must
// close (auth failure).
func (s *Session) handleFrame(raw []byte) bool {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.reply(errorReply("malformed frame"))
		return true
	}

	// AUTHENTICATE/PING is a liveness probe answered by the token gate
	// without touching the dispatcher.
	if frame.Action == ActionAuthenticate && frame.Description == DescPing {
		if !s.reauthenticate() {
			return false
		}
		if payload, err := marshalReply(map[string]any{"message": "pong"}); err == nil {
			s.reply(payload)
		}
		return true
	}

	// Every frame re-runs the access check; the session holds no grace
	// period beyond its last-validated access credential.
	if !s.reauthenticate() {
		return false
	}

	ctx := s.ctx
	result, err := s.gw.dispatcher.Dispatch(ctx, s.identity.Role,
		dispatch.Verb(frame.Action), frame.Description, frame.Details, s.identity)
	if err != nil {
		s.replyError(frame, err)
		return true
	}

	s.gw.audit.Publish(ctx, audit.Event{
		Type:        audit.EventFrameDispatched,
		AccountID:   s.identity.AccountID,
		Role:        s.identity.Role,
		ConnID:      s.id,
		Verb:        frame.Action,
		Description: frame.Description,
		Outcome:     "ok",
	})

	body := map[string]any{}
	if result != nil && result.Body != nil {
		body = result.Body
	}
	payload, merr := marshalReply(body)
	if merr != nil {
		s.logger.Error("failed to marshal reply", "error", merr)
		s.reply(errorReply("internal error"))
		return true
	}
	s.reply(payload)
	return true
}

// reauthenticate re-runs the access check, riding the refresh path once when
// the access credential has expired. A refreshed credential is pushed to the
// client so it can update its copy.
func (s *Session) reauthenticate() bool {
	identity, cred, err := s.gw.gate.Authenticate(s.ctx, s.accessToken, s.refreshToken)
	if err != nil {
		s.logger.Info("frame authentication failed", "error", err)
		s.Close(err.Error())
		return false
	}
	if identity.AccountID != s.identity.AccountID {
		// Credential swapped mid-session for another account.
		s.Close(token.ErrInvalid.Error())
		return false
	}

	if cred != nil {
		s.accessToken = cred.AccessToken
		s.pushCredential(cred)
	}
	return true
}

// pushCredential tells the client its access credential was replaced.
func (s *Session) pushCredential(cred *token.Credential) {
	payload, err := json.Marshal(map[string]any{
		"description": EventTokenRefreshed,
		"credential":  cred,
	})
	if err == nil {
		s.reply(payload)
	}
}

func (s *Session) replyError(frame Frame, err error) {
	var routingErr *dispatch.RoutingError
	var validationErr *dispatch.ValidationError

	var message string
	switch {
	case errors.As(err, &routingErr):
		message = routingErr.Message()
	case errors.As(err, &validationErr):
		message = validationErr.Error()
	default:
		// Business-logic and chat errors surface verbatim.
		message = err.Error()
	}

	s.gw.audit.Publish(s.ctx, audit.Event{
		Type:        audit.EventFrameRejected,
		AccountID:   s.identity.AccountID,
		Role:        s.identity.Role,
		ConnID:      s.id,
		Verb:        frame.Action,
		Description: frame.Description,
		Outcome:     message,
	})

	s.reply(errorReply(message))
}

// reply queues a direct response on the session's own outbound stream.
func (s *Session) reply(payload []byte) {
	if err := s.Deliver(payload); err != nil {
		s.logger.Debug("reply dropped", "error", err)
	}
}

// writePump drains the outbound channel onto the socket and keeps the
// connection alive with pings. It is the connection's only writer: direct
// replies, pushes and the terminal close frame all leave through here.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, s.closeFrame())
			return
		}
	}
}

// closeFrame carries the recorded reason when the session was shut down
// deliberately; an empty close message covers the plain-disconnect path.
func (s *Session) closeFrame() []byte {
	if reason, ok := s.closeReason.Load().(string); ok && reason != "" {
		return websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	}
	return []byte{}
}
