package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
	"mobilecontrol/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
	sendBuffer     = 64

	defaultScreenshotInterval = 1000 * time.Millisecond
	minScreenshotInterval     = 100 * time.Millisecond
	maxScreenshotInterval     = time.Hour

	screenshotFailed = "Screenshot failed"
)

type clientState int

const (
	stateConnecting clientState = iota
	stateOpen
	stateClosed
)

func (s clientState) String() string {
	return [...]string{"CONNECTING", "OPEN", "CLOSED"}[s]
}

// Client is one WebSocket connection and its subscriptions. Every
// goroutine it starts ends when the connection closes.
type Client struct {
	id   string
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            clientState
	subscriptions    map[string]bool
	screenshotDevice string
	stopScreenshots  context.CancelFunc
	unwatch          func()
}

// WebSocketHub tracks open clients and fans events out by subscription.
type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	deviceManager *service.DeviceManager
	dispatcher    *service.ActionDispatcher
	upgrader      websocket.Upgrader
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// Attach gives the hub the services it needs to serve subscriptions and
// commands. It must be called before Run. The services themselves take the
// hub as their Broadcaster, hence the late binding.
func (h *WebSocketHub) Attach(dm *service.DeviceManager, dispatcher *service.ActionDispatcher, checkOrigin func(*http.Request) bool) {
	h.deviceManager = dm
	h.dispatcher = dispatcher
	h.upgrader.CheckOrigin = checkOrigin
}

// Run serves register/unregister until ctx is cancelled, then closes every client.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			log.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			client.open()
			total := len(h.clients)
			h.mu.Unlock()
			log.WithField("client", client.id).Infof("Client connected (total: %d)", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
			}
			total := len(h.clients)
			h.mu.Unlock()
			client.close()
			log.WithField("client", client.id).Infof("Client disconnected (total: %d)", total)
		}
	}
}

// ClientCount is the number of open connections.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every open client that wants its class:
// connection_status always, device lifecycle events only to device_events
// subscribers, command_result only to command_results subscribers.
func (h *WebSocketHub) Broadcast(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal %s event: %v", event.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client.wants(event.Type) && client.enqueue(data) {
			delivered++
		}
	}
	log.Debugf("Broadcast %s to %d/%d clients", event.Type, delivered, len(h.clients))
}

// HandleWebSocket upgrades an authenticated request. Auth runs as
// middleware before this handler, so a rejected client never gets a socket.
func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:            uuid.NewString(),
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		ctx:           ctx,
		cancel:        cancel,
		state:         stateConnecting,
		subscriptions: make(map[string]bool),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		cancel()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) open() {
	c.mu.Lock()
	c.state = stateOpen
	c.mu.Unlock()
	c.sendEvent(models.EventConnectionStatus, models.ConnectionStatus{Status: "connected", ClientID: c.id})
}

// close releases timers and watchers and closes the send channel. Safe to
// call more than once.
func (c *Client) close() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.cancel()
	if c.stopScreenshots != nil {
		c.stopScreenshots()
		c.stopScreenshots = nil
	}
	unwatch := c.unwatch
	c.unwatch = nil
	c.subscriptions = make(map[string]bool)
	close(c.send)
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}

func (c *Client) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch eventType {
	case models.EventConnectionStatus:
		return true
	case models.EventDeviceConnected, models.EventDeviceDisconnected:
		return c.subscriptions[models.SubDeviceEvents]
	case models.EventCommandResult:
		return c.subscriptions[models.SubCommandResults]
	}
	return true
}

// enqueue queues a frame without blocking. When the buffer is full the
// oldest frame is dropped.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		log.WithField("client", c.id).Warn("Client channel full, dropping message")
		return false
	}
}

func (c *Client) sendEvent(eventType string, data interface{}) {
	b, err := json.Marshal(models.Event{Type: eventType, Data: data})
	if err != nil {
		log.WithField("client", c.id).Errorf("Failed to marshal %s event: %v", eventType, err)
		return
	}
	c.enqueue(b)
}

func (c *Client) sendError(message string) {
	c.sendEvent(models.EventError, models.ErrorBody{Error: message})
}

// readPump handles incoming client messages
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithField("client", c.id).Warnf("WebSocket error: %v", err)
			}
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("Invalid message: " + err.Error())
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg models.ClientMessage) {
	logger := log.WithField("client", c.id)
	switch msg.Type {
	case "subscribe":
		kind := payloadString(msg.Payload, "type")
		switch kind {
		case models.SubScreenshot:
			c.subscribeScreenshots(payloadString(msg.Payload, "deviceId"), screenshotInterval(msg.Payload["interval"]))
		case models.SubDeviceEvents:
			c.subscribeDeviceEvents()
		case models.SubCommandResults:
			c.setFlag(models.SubCommandResults, true)
		default:
			c.sendError(fmt.Sprintf("Unknown subscription type: %q", kind))
			return
		}
		logger.Debugf("Subscribed to %s", kind)

	case "unsubscribe":
		kind := payloadString(msg.Payload, "type")
		c.unsubscribe(kind)
		logger.Debugf("Unsubscribed from %s", kind)

	case "command":
		deviceID := payloadString(msg.Payload, "deviceId")
		command := payloadString(msg.Payload, "command")
		params, _ := msg.Payload["params"].(map[string]interface{})
		if c.hub.dispatcher == nil {
			c.sendError("Commands are not available")
			return
		}
		// The dispatcher broadcasts the result to command_results subscribers.
		go c.hub.dispatcher.Execute(c.ctx, deviceID, command, params)

	default:
		c.sendError(fmt.Sprintf("Unknown message type: %q", msg.Type))
	}
}

// screenshotInterval reads a requested interval in milliseconds, bounded to
// [minScreenshotInterval, maxScreenshotInterval].
func screenshotInterval(v interface{}) time.Duration {
	ms, ok := v.(float64)
	if !ok || ms <= 0 {
		return defaultScreenshotInterval
	}
	if ms >= float64(maxScreenshotInterval/time.Millisecond) {
		return maxScreenshotInterval
	}
	return max(time.Duration(ms*float64(time.Millisecond)), minScreenshotInterval)
}

func payloadString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func (c *Client) setFlag(kind string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}
	if on {
		c.subscriptions[kind] = true
	} else {
		delete(c.subscriptions, kind)
	}
}

func (c *Client) subscribeDeviceEvents() {
	dm := c.hub.deviceManager

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.subscriptions[models.SubDeviceEvents] = true
	needWatch := c.unwatch == nil && dm != nil
	c.mu.Unlock()

	if !needWatch {
		return
	}
	unwatch := dm.Watch(func(devices []models.Device) {
		c.sendEvent(models.EventDeviceList, gin.H{"devices": devices, "timestamp": models.Now()})
	})

	c.mu.Lock()
	if c.state == stateClosed || c.unwatch != nil {
		c.mu.Unlock()
		unwatch()
		return
	}
	c.unwatch = unwatch
	c.mu.Unlock()

	c.sendEvent(models.EventDeviceList, gin.H{"devices": dm.Devices(), "timestamp": models.Now()})
}

func (c *Client) unsubscribe(kind string) {
	c.mu.Lock()
	delete(c.subscriptions, kind)
	var unwatch func()
	switch kind {
	case models.SubScreenshot:
		if c.stopScreenshots != nil {
			c.stopScreenshots()
			c.stopScreenshots = nil
		}
		c.screenshotDevice = ""
	case models.SubDeviceEvents:
		unwatch = c.unwatch
		c.unwatch = nil
	}
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}

// subscribeScreenshots replaces any running capture loop with a new one for
// deviceID. The first frame is sent immediately.
func (c *Client) subscribeScreenshots(deviceID string, interval time.Duration) {
	dm := c.hub.deviceManager
	if dm == nil || dm.GetDevice(deviceID) == nil {
		c.sendEvent(models.EventScreenshot, models.ScreenshotEvent{
			DeviceID:  deviceID,
			Error:     "Device not found",
			Message:   "Device not found: " + deviceID,
			Timestamp: models.Now(),
		})
		return
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	if c.stopScreenshots != nil {
		c.stopScreenshots()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopScreenshots = cancel
	c.screenshotDevice = deviceID
	c.subscriptions[models.SubScreenshot] = true
	c.mu.Unlock()

	log.WithFields(log.Fields{"client": c.id, "device": deviceID}).Infof("Screenshot stream every %v", interval)
	go c.streamScreenshots(ctx, deviceID, interval)
}

func (c *Client) streamScreenshots(ctx context.Context, deviceID string, interval time.Duration) {
	c.captureScreenshot(ctx, deviceID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.captureScreenshot(ctx, deviceID)
		}
	}
}

// captureScreenshot sends one frame, or an error-shaped screenshot event.
// It never ends the loop.
func (c *Client) captureScreenshot(ctx context.Context, deviceID string) {
	event := models.ScreenshotEvent{DeviceID: deviceID}
	defer func() {
		if r := recover(); r != nil {
			event.Image = nil
			event.Error, event.Message = screenshotFailed, fmt.Sprint(r)
		}
		if ctx.Err() != nil {
			return
		}
		event.Timestamp = models.Now()
		c.sendEvent(models.EventScreenshot, event)
	}()

	shot, err := c.hub.deviceManager.CaptureScreenshot(ctx, deviceID)
	if err != nil {
		event.Error, event.Message = screenshotFailed, err.Error()
		log.WithFields(log.Fields{"client": c.id, "device": deviceID}).Debugf("Screenshot failed: %v", err)
		return
	}
	event.Image = shot
}

// writePump handles outgoing messages to the client (events + ping)
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
