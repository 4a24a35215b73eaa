package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"school-gateway/internal/audit"
	"school-gateway/internal/chat"
	"school-gateway/internal/config"
	"school-gateway/internal/dispatch"
	"school-gateway/internal/models"
	"school-gateway/internal/registry"
	"school-gateway/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type memBlacklist struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (b *memBlacklist) Revoke(_ context.Context, tokenString string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ttl > 0 {
		b.revoked[tokenString] = true
	}
	return nil
}

func (b *memBlacklist) IsRevoked(_ context.Context, tokenString string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[tokenString], nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, ref string, _ models.Identity, _ models.Role, _ dispatch.Details) (map[string]any, error) {
	return map[string]any{"handled": ref}, nil
}

type testEnv struct {
	server    *httptest.Server
	gate      *token.Gate
	manager   *token.Manager
	blacklist *memBlacklist
	registry  *registry.Registry
	db        *gorm.DB
}

func setupEnv(t *testing.T, allowedRoles []models.Role) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Account{}, &models.RefreshToken{}, &models.Room{}, &models.Message{},
	))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := token.NewManager(config.JWTConfig{
		Secret:        "gateway-test-secret",
		AccessExpire:  time.Minute,
		RefreshExpire: time.Hour,
	})
	blacklist := &memBlacklist{revoked: make(map[string]bool)}
	gate := token.NewGate(manager,
		token.NewAccountRepository(db),
		token.NewRefreshTokenRepository(db),
		blacklist, log)

	reg := registry.New(registry.NopBroadcaster{}, log)
	chatSvc := chat.NewService(chat.NewRepository(db), reg, log)
	tables := dispatch.BuildTables(chatSvc, stubExecutor{})
	dispatcher := dispatch.NewDispatcher(tables, reg, log)

	gw := New(gate, dispatcher, reg, audit.NopPublisher{}, allowedRoles, nil, log)

	engine := gin.New()
	engine.GET("/ws", gw.HandleWS)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &testEnv{
		server:    server,
		gate:      gate,
		manager:   manager,
		blacklist: blacklist,
		registry:  reg,
		db:        db,
	}
}

func (env *testEnv) createAccount(t *testing.T, role models.Role) models.Identity {
	t.Helper()
	account := &models.Account{
		ID:       uuid.New().String(),
		Email:    uuid.New().String() + "@school.example",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, env.db.Create(account).Error)
	return account.Identity()
}

func (env *testEnv) accessToken(t *testing.T, identity models.Identity) string {
	t.Helper()
	access, _, err := env.manager.MintAccess(identity)
	require.NoError(t, err)
	return access
}

func (env *testEnv) dial(t *testing.T, accessToken string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + accessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readReply(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var reply map[string]any
	require.NoError(t, json.Unmarshal(raw, &reply))
	return reply
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	env := setupEnv(t, models.AllRoles)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRefusesDisallowedRole(t *testing.T) {
	env := setupEnv(t, []models.Role{models.RoleAdmin})
	student := env.createAccount(t, models.RoleStudent)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + env.accessToken(t, student)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuthenticatePingBypassesDispatcher(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)

	conn := env.dial(t, env.accessToken(t, teacher))
	writeFrame(t, conn, Frame{Action: ActionAuthenticate, Description: DescPing})

	reply := readReply(t, conn)
	assert.Equal(t, "pong", reply["message"])
}

func TestUnknownActionAndDescription(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)
	conn := env.dial(t, env.accessToken(t, teacher))

	writeFrame(t, conn, Frame{Action: "DESTROY", Description: "EVERYTHING"})
	assert.Equal(t, "invalid action", readReply(t, conn)["error"])

	writeFrame(t, conn, Frame{Action: "READ", Description: "NO_SUCH_THING"})
	assert.Equal(t, "invalid description", readReply(t, conn)["error"])
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)
	conn := env.dial(t, env.accessToken(t, teacher))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed frame", readReply(t, conn)["error"])

	// Still alive.
	writeFrame(t, conn, Frame{Action: ActionAuthenticate, Description: DescPing})
	assert.Equal(t, "pong", readReply(t, conn)["message"])
}

func TestSendMessageDeliversPushToRecipient(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)
	parent := env.createAccount(t, models.RoleParent)

	teacherConn := env.dial(t, env.accessToken(t, teacher))
	parentConn := env.dial(t, env.accessToken(t, parent))

	// Both sessions must be registered before the push fires.
	require.Eventually(t, func() bool {
		return env.registry.LocalConns(parent.AccountID) == 1
	}, time.Second, 10*time.Millisecond)

	writeFrame(t, teacherConn, Frame{
		Action:      "CREATE",
		Description: "SEND_MESSAGE",
		Details: dispatch.Details{
			"recipientId": parent.AccountID,
			"content":     "hi",
		},
	})

	reply := readReply(t, teacherConn)
	msg, ok := reply["message"].(map[string]any)
	require.True(t, ok, "sender gets the message in the direct reply: %v", reply)
	assert.Equal(t, "hi", msg["content"])

	push := readReply(t, parentConn)
	assert.Equal(t, chat.EventNewMessage, push["description"])
	pushed, ok := push["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", pushed["content"])

	// Unread bookkeeping saw the message.
	writeFrame(t, parentConn, Frame{
		Action:      "READ",
		Description: "UNREAD_COUNT",
		Details:     dispatch.Details{"otherId": teacher.AccountID},
	})
	assert.Equal(t, float64(1), readReply(t, parentConn)["unreadCount"])
}

func TestExecutorRouteReachableForRole(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)
	conn := env.dial(t, env.accessToken(t, teacher))

	writeFrame(t, conn, Frame{Action: "READ", Description: "GRADES"})
	assert.Equal(t, "teacher.grades.list", readReply(t, conn)["handled"])
}

func TestRoleScopedRouteUnreachableForOtherRole(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	student := env.createAccount(t, models.RoleStudent)
	conn := env.dial(t, env.accessToken(t, student))

	// Students also have READ/GRADES, but bound to their own handler.
	writeFrame(t, conn, Frame{Action: "READ", Description: "GRADES"})
	assert.Equal(t, "student.grades.read", readReply(t, conn)["handled"])

	// A teacher-only description is unreachable.
	writeFrame(t, conn, Frame{Action: "UPDATE", Description: "GRADE"})
	assert.Equal(t, "invalid description", readReply(t, conn)["error"])
}

func TestCloseDuringPushFloodSerializesWrites(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)
	access := env.accessToken(t, teacher)
	conn := env.dial(t, access)

	require.Eventually(t, func() bool {
		return env.registry.LocalConns(teacher.AccountID) == 1
	}, time.Second, 10*time.Millisecond)

	// Hammer the outbound stream from several goroutines while the session is
	// being torn down; the close frame must still arrive intact.
	push := []byte(`{"description":"NEW_MESSAGE","message":{"content":"x"}}`)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					env.registry.Send(context.Background(), teacher.AccountID, push)
				}
			}
		}()
	}

	require.NoError(t, env.blacklist.Revoke(context.Background(), access, time.Minute))
	writeFrame(t, conn, Frame{Action: ActionAuthenticate, Description: DescPing})

	var closeErr *websocket.CloseError
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			require.ErrorAs(t, err, &closeErr)
			break
		}
	}
	close(stop)
	wg.Wait()

	require.NotNil(t, closeErr, "connection must terminate with a close frame")
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Contains(t, closeErr.Text, "revoked")
}

func TestCheckOriginHonorsConfiguredList(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := New(nil, nil, nil, audit.NopPublisher{}, models.AllRoles,
		[]string{"https://portal.school.example"}, log)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, gw.checkOrigin(req), "no origin header passes")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, gw.checkOrigin(req), "local development hosts pass")

	req.Header.Set("Origin", "https://portal.school.example")
	assert.True(t, gw.checkOrigin(req))

	req.Header.Set("Origin", "https://elsewhere.example")
	assert.False(t, gw.checkOrigin(req))
}

func TestRevokedTokenClosesConnection(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)
	access := env.accessToken(t, teacher)

	conn := env.dial(t, access)

	// Revoke mid-session; the next frame's re-auth must kill the connection.
	require.NoError(t, env.blacklist.Revoke(context.Background(), access, time.Minute))

	writeFrame(t, conn, Frame{Action: ActionAuthenticate, Description: DescPing})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Contains(t, closeErr.Text, "revoked")

	// Presence never lags the socket.
	require.Eventually(t, func() bool {
		return env.registry.LocalConns(teacher.AccountID) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestExpiredAccessRefreshedAtHandshake(t *testing.T) {
	env := setupEnv(t, models.AllRoles)
	teacher := env.createAccount(t, models.RoleTeacher)

	// A manager with a negative expiry mints tokens that are already stale.
	staleManager := token.NewManager(config.JWTConfig{
		Secret:        "gateway-test-secret",
		AccessExpire:  -time.Minute,
		RefreshExpire: time.Hour,
	})
	expired, _, err := staleManager.MintAccess(teacher)
	require.NoError(t, err)

	refresh, expiresAt, err := env.manager.MintRefresh(teacher)
	require.NoError(t, err)
	require.NoError(t, env.db.Create(&models.RefreshToken{
		ID:        uuid.New().String(),
		AccountID: teacher.AccountID,
		Token:     refresh,
		ExpiresAt: expiresAt,
	}).Error)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") +
		"/ws?token=" + expired + "&refresh_token=" + refresh
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { wsConn.Close() })

	// The handshake rode the refresh path, so the first push hands the client
	// its replacement credential.
	refreshed := readReply(t, wsConn)
	assert.Equal(t, EventTokenRefreshed, refreshed["description"])
	cred, ok := refreshed["credential"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, cred["accessToken"])

	// Subsequent frames authenticate with the replacement.
	writeFrame(t, wsConn, Frame{Action: ActionAuthenticate, Description: DescPing})
	assert.Equal(t, "pong", readReply(t, wsConn)["message"])
}
