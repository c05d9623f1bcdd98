package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	docusecase "habitora-core/internal/docstore/usecase"
	"habitora-core/internal/marketplace/config"
	"habitora-core/internal/marketplace/usecase"
	"habitora-core/internal/shared/errors"
	"habitora-core/internal/shared/logger"
	"habitora-core/internal/shared/utils"
)

// userContextLocal carries the authenticated request context across the
// WebSocket upgrade, where Fiber's user context is no longer reachable.
const userContextLocal = "listenUserContext"

const writeTimeout = 10 * time.Second

// ListenGateway terminates WebSocket connections and multiplexes named view
// subscriptions over them. One connection can hold any number of views; each
// view is a live query subscription whose snapshots are forwarded as frames.
type ListenGateway struct {
	conversations usecase.ConversationUsecase
	workflow      usecase.WorkflowUsecase
	notifications usecase.NotificationUsecase
	log           logger.Logger

	path              string
	sendBuffer        int
	heartbeatInterval time.Duration
	connectionTimeout time.Duration

	connections map[string]*ConnectionState
	connMutex   sync.RWMutex
}

// ConnectionState tracks one WebSocket connection and its open views.
type ConnectionState struct {
	ConnectionID string
	UserID       string
	Connection   *websocket.Conn
	ActiveSubs   map[string]*viewSubscription
	MessageQueue chan ServerMessage
	Context      context.Context
	CancelFunc   context.CancelFunc
	mutex        sync.RWMutex
}

type viewSubscription struct {
	view string
	sub  *docusecase.Subscription
}

// NewListenGateway creates the realtime gateway over the marketplace
// usecases.
func NewListenGateway(
	conversations usecase.ConversationUsecase,
	workflow usecase.WorkflowUsecase,
	notifications usecase.NotificationUsecase,
	cfg config.RealtimeConfig,
	log logger.Logger,
) *ListenGateway {
	sendBuffer := cfg.ClientSendChannelBuffer
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	path := cfg.WebSocketPath
	if path == "" {
		path = "/listen"
	}

	return &ListenGateway{
		conversations:     conversations,
		workflow:          workflow,
		notifications:     notifications,
		log:               log.WithComponent("listen_gateway"),
		path:              path,
		sendBuffer:        sendBuffer,
		heartbeatInterval: heartbeat,
		connectionTimeout: 3 * heartbeat,
		connections:       make(map[string]*ConnectionState),
	}
}

// RegisterRoutes registers the listen endpoint at the configured path. The
// auth middleware runs before the upgrade, so only authenticated callers
// reach the socket.
func (g *ListenGateway) RegisterRoutes(router fiber.Router, authMiddleware fiber.Handler) {
	router.Use(g.path, authMiddleware, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			c.Locals(userContextLocal, c.UserContext())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get(g.path, websocket.New(g.handleConnection))
}

// Stop closes every open connection. Called on shutdown.
func (g *ListenGateway) Stop() {
	g.connMutex.RLock()
	states := make([]*ConnectionState, 0, len(g.connections))
	for _, state := range g.connections {
		states = append(states, state)
	}
	g.connMutex.RUnlock()

	for _, state := range states {
		state.CancelFunc()
	}
}

// ConnectionCount reports the number of open connections, for health
// reporting.
func (g *ListenGateway) ConnectionCount() int {
	g.connMutex.RLock()
	defer g.connMutex.RUnlock()
	return len(g.connections)
}

func (g *ListenGateway) handleConnection(conn *websocket.Conn) {
	baseCtx, _ := conn.Locals(userContextLocal).(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	userID, err := utils.GetUserIDFromContext(baseCtx)
	if err != nil {
		// The middleware should make this unreachable; close defensively.
		conn.WriteJSON(ServerMessage{
			Type:      MessageTypeError,
			Error:     "Authentication required",
			Timestamp: time.Now(),
		})
		return
	}

	ctx, cancel := context.WithCancel(baseCtx)
	state := &ConnectionState{
		ConnectionID: uuid.NewString(),
		UserID:       userID,
		Connection:   conn,
		ActiveSubs:   make(map[string]*viewSubscription),
		MessageQueue: make(chan ServerMessage, g.sendBuffer),
		Context:      ctx,
		CancelFunc:   cancel,
	}

	g.connMutex.Lock()
	g.connections[state.ConnectionID] = state
	g.connMutex.Unlock()

	g.log.Info("Listen connection established",
		zap.String("connectionID", state.ConnectionID),
		zap.String("userID", userID))

	defer g.cleanupConnection(state)

	go g.writeLoop(state)
	go g.pingLoop(state)

	// The read loop runs on the handler goroutine: returning from here is
	// what closes the underlying connection.
	g.readLoop(state)
}

// readLoop decodes inbound frames until the connection dies.
func (g *ListenGateway) readLoop(state *ConnectionState) {
	defer state.CancelFunc()

	for {
		select {
		case <-state.Context.Done():
			return
		default:
		}

		state.Connection.SetReadDeadline(time.Now().Add(g.connectionTimeout))

		var req ClientRequest
		if err := state.Connection.ReadJSON(&req); err != nil {
			if isDecodeError(err) {
				g.log.Warn("Invalid frame from listen client",
					zap.String("connectionID", state.ConnectionID),
					zap.Error(err))
				g.enqueue(state, ServerMessage{
					Type:      MessageTypeError,
					Error:     "Invalid JSON format",
					Timestamp: time.Now(),
				})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.log.Warn("Listen connection dropped",
					zap.String("connectionID", state.ConnectionID),
					zap.Error(err))
			}
			return
		}

		switch req.Action {
		case ActionSubscribe:
			g.handleSubscribe(state, req)
		case ActionUnsubscribe:
			g.handleUnsubscribe(state, req)
		case ActionPing:
			g.enqueue(state, ServerMessage{
				Type:      MessageTypePong,
				Timestamp: time.Now(),
			})
		default:
			g.enqueue(state, ServerMessage{
				Type:      MessageTypeError,
				Error:     "Unknown action: " + req.Action,
				Timestamp: time.Now(),
			})
		}
	}
}

func (g *ListenGateway) handleSubscribe(state *ConnectionState, req ClientRequest) {
	if req.SubscriptionID == "" {
		g.sendSubscriptionError(state, req, "invalid_request", "subscriptionId is required")
		return
	}

	state.mutex.RLock()
	_, taken := state.ActiveSubs[req.SubscriptionID]
	state.mutex.RUnlock()
	if taken {
		g.sendSubscriptionError(state, req, "duplicate_subscription", "subscriptionId is already in use")
		return
	}

	sub, err := g.openView(state, req)
	if err != nil {
		g.log.Warn("View subscription rejected",
			zap.String("connectionID", state.ConnectionID),
			zap.String("view", req.View),
			zap.Error(err))
		g.sendSubscriptionError(state, req, subscriptionErrorReason(err), err.Error())
		return
	}

	state.mutex.Lock()
	state.ActiveSubs[req.SubscriptionID] = &viewSubscription{view: req.View, sub: sub}
	state.mutex.Unlock()

	g.log.Info("View subscription opened",
		zap.String("connectionID", state.ConnectionID),
		zap.String("subscriptionID", req.SubscriptionID),
		zap.String("view", req.View),
		zap.String("mode", string(sub.Mode())))

	g.enqueue(state, ServerMessage{
		Type:           MessageTypeSubscriptionConfirmed,
		SubscriptionID: req.SubscriptionID,
		View:           req.View,
		Mode:           string(sub.Mode()),
		Timestamp:      time.Now(),
	})

	go g.forwardSnapshots(state, req.SubscriptionID, req.View, sub)
}

func (g *ListenGateway) handleUnsubscribe(state *ConnectionState, req ClientRequest) {
	state.mutex.Lock()
	entry, exists := state.ActiveSubs[req.SubscriptionID]
	if exists {
		delete(state.ActiveSubs, req.SubscriptionID)
	}
	state.mutex.Unlock()

	if !exists {
		g.sendSubscriptionError(state, req, "not_found", "no such subscription")
		return
	}

	entry.sub.Release()

	g.log.Info("View subscription closed",
		zap.String("connectionID", state.ConnectionID),
		zap.String("subscriptionID", req.SubscriptionID),
		zap.String("view", entry.view))

	g.enqueue(state, ServerMessage{
		Type:           MessageTypeUnsubscriptionConfirmed,
		SubscriptionID: req.SubscriptionID,
		View:           entry.view,
		Timestamp:      time.Now(),
	})
}

// openView resolves a view name to a live query subscription scoped to the
// connection's user.
func (g *ListenGateway) openView(state *ConnectionState, req ClientRequest) (*docusecase.Subscription, error) {
	ctx := state.Context

	switch req.View {
	case ViewInbox:
		return g.conversations.SubscribeInbox(ctx, state.UserID)
	case ViewMessages:
		conversationID := req.Params["conversationId"]
		if conversationID == "" {
			return nil, errors.NewValidationError("the messages view requires a conversationId parameter")
		}
		// Membership gate: Get fails for non-participants.
		if _, err := g.conversations.Get(ctx, conversationID, state.UserID); err != nil {
			return nil, err
		}
		return g.conversations.SubscribeMessages(ctx, conversationID)
	case ViewProviderRequests:
		return g.workflow.SubscribeForProvider(ctx, state.UserID)
	case ViewRequesterRequests:
		return g.workflow.SubscribeForRequester(ctx, state.UserID)
	case ViewNotifications:
		return g.notifications.SubscribeForRecipient(ctx, state.UserID)
	default:
		return nil, errors.NewValidationError("unknown view: " + req.View)
	}
}

// forwardSnapshots pushes every snapshot of one subscription into the
// connection's send queue. A full queue drops the frame: snapshots supersede
// each other, so the next one restores consistency.
func (g *ListenGateway) forwardSnapshots(state *ConnectionState, subscriptionID, view string, sub *docusecase.Subscription) {
	defer sub.Release()

	for {
		select {
		case <-state.Context.Done():
			return
		case snapshot, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			frame := snapshotFrame(subscriptionID, view, sub.Mode(), snapshot)
			select {
			case state.MessageQueue <- frame:
			case <-state.Context.Done():
				return
			default:
				g.log.Warn("Send queue full, dropping snapshot frame",
					zap.String("connectionID", state.ConnectionID),
					zap.String("subscriptionID", subscriptionID))
			}
		}
	}
}

// writeLoop is the only goroutine writing to the connection.
func (g *ListenGateway) writeLoop(state *ConnectionState) {
	defer state.CancelFunc()

	for {
		select {
		case <-state.Context.Done():
			return
		case msg := <-state.MessageQueue:
			state.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := state.Connection.WriteJSON(msg); err != nil {
				g.log.Warn("Listen write failed",
					zap.String("connectionID", state.ConnectionID),
					zap.Error(err))
				return
			}
		}
	}
}

// pingLoop keeps the connection warm so intermediaries do not drop it.
func (g *ListenGateway) pingLoop(state *ConnectionState) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-state.Context.Done():
			return
		case <-ticker.C:
			g.enqueue(state, ServerMessage{
				Type:      MessageTypePing,
				Timestamp: time.Now(),
			})
		}
	}
}

// cleanupConnection releases every open view and forgets the connection.
func (g *ListenGateway) cleanupConnection(state *ConnectionState) {
	state.CancelFunc()

	g.connMutex.Lock()
	delete(g.connections, state.ConnectionID)
	g.connMutex.Unlock()

	state.mutex.Lock()
	subs := make([]*viewSubscription, 0, len(state.ActiveSubs))
	for id, entry := range state.ActiveSubs {
		subs = append(subs, entry)
		delete(state.ActiveSubs, id)
	}
	state.mutex.Unlock()

	for _, entry := range subs {
		entry.sub.Release()
	}

	g.log.Info("Listen connection closed",
		zap.String("connectionID", state.ConnectionID),
		zap.String("userID", state.UserID),
		zap.Int("releasedViews", len(subs)))
}

// enqueue delivers a frame to the write loop without ever blocking the
// caller past the connection's lifetime.
func (g *ListenGateway) enqueue(state *ConnectionState, msg ServerMessage) {
	select {
	case state.MessageQueue <- msg:
	case <-state.Context.Done():
	}
}

func (g *ListenGateway) sendSubscriptionError(state *ConnectionState, req ClientRequest, reason, message string) {
	g.enqueue(state, ServerMessage{
		Type:           MessageTypeSubscriptionError,
		SubscriptionID: req.SubscriptionID,
		View:           req.View,
		Error:          reason + ": " + message,
		Timestamp:      time.Now(),
	})
}

// subscriptionErrorReason maps an application error to the protocol's error
// reason vocabulary.
func subscriptionErrorReason(err error) string {
	switch {
	case errors.IsValidation(err):
		return "invalid_request"
	case errors.IsPermissionDenied(err):
		return "forbidden"
	case errors.IsNotFound(err):
		return "not_found"
	default:
		return "subscription_failed"
	}
}

// isDecodeError distinguishes malformed client JSON from transport failures.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid character") || strings.Contains(msg, "cannot unmarshal")
}
