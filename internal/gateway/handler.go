package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"school-gateway/internal/audit"
	"school-gateway/internal/dispatch"
	"school-gateway/internal/models"
	"school-gateway/internal/registry"
	"school-gateway/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Gateway accepts client connections and runs their session lifecycle:
// handshake auth, presence registration, per-frame dispatch, teardown.
type Gateway struct {
	gate           *token.Gate
	dispatcher     *dispatch.Dispatcher
	registry       *registry.Registry
	audit          audit.Publisher
	allowedRoles   map[models.Role]bool
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

func New(gate *token.Gate, dispatcher *dispatch.Dispatcher, reg *registry.Registry, auditPub audit.Publisher, allowedRoles []models.Role, allowedOrigins []string, logger *slog.Logger) *Gateway {
	allowed := make(map[models.Role]bool, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = true
	}
	gw := &Gateway{
		gate:           gate,
		dispatcher:     dispatcher,
		registry:       reg,
		audit:          auditPub,
		allowedRoles:   allowed,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     gw.checkOrigin,
	}
	return gw
}

// checkOrigin admits same-host clients (no Origin header), local development
// hosts, and the configured origin list.
func (gw *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		return true
	}
	for _, allowed := range gw.allowedOrigins {
		if allowed != "" && origin == allowed {
			return true
		}
	}
	return false
}

// HandleWS authenticates the handshake and, on success, upgrades the
// connection and starts the session pumps. Credentials arrive out-of-band
// (cookies, falling back to query parameters); role comes from the
// authenticated identity, never from client input.
func (gw *Gateway) HandleWS(c *gin.Context) {
	accessToken, refreshToken := extractCredentials(c)

	identity, cred, err := gw.gate.Authenticate(c.Request.Context(), accessToken, refreshToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	if !gw.allowedRoles[identity.Role] {
		// Refused before any frames are exchanged.
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not permitted on this endpoint"})
		return
	}

	conn, err := gw.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		gw.logger.Error("websocket upgrade failed", "accountID", identity.AccountID, "error", err)
		return
	}

	if cred != nil {
		// Handshake rode the refresh path; the session starts with the new
		// access credential and the client learns it on the first push.
		accessToken = cred.AccessToken
	}

	session := newSession(gw, conn, identity, accessToken, refreshToken)
	gw.registry.Connect(identity.AccountID, session)

	gw.audit.Publish(context.Background(), audit.Event{
		Type:      audit.EventSessionConnected,
		AccountID: identity.AccountID,
		Role:      identity.Role,
		ConnID:    session.id,
	})
	gw.logger.Info("session established",
		"connID", session.id, "accountID", identity.AccountID, "role", identity.Role)

	go session.writePump()
	go session.readPump()

	if cred != nil {
		session.pushCredential(cred)
	}
}

func extractCredentials(c *gin.Context) (accessToken, refreshToken string) {
	if cookie, err := c.Cookie("access_token"); err == nil {
		accessToken = cookie
	}
	if cookie, err := c.Cookie("refresh_token"); err == nil {
		refreshToken = cookie
	}
	if accessToken == "" {
		accessToken = strings.TrimPrefix(c.Query("token"), "Bearer ")
	}
	if refreshToken == "" {
		refreshToken = c.Query("refresh_token")
	}
	return accessToken, refreshToken
}
