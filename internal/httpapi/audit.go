package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marchese29/HubitatRulesMCP/internal/audit"
	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/eventbus"
	"github.com/marchese29/HubitatRulesMCP/internal/store"
)

var auditUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// auditHub fans every audit event published on the bus out to every
// connected websocket client. Clients are write-only: anything they send
// is ignored, read only to detect disconnects.
type auditHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	logger  *logger.Logger
}

func newAuditHub(bus eventbus.Bus, log *logger.Logger) *auditHub {
	h := &auditHub{
		clients: make(map[*websocket.Conn]chan []byte),
		logger:  log.WithFields(zap.String("component", "audit_hub")),
	}
	if bus != nil {
		_, err := bus.Subscribe(audit.AuditSubject, func(_ context.Context, event *eventbus.Event) error {
			data, err := json.Marshal(event)
			if err != nil {
				return err
			}
			h.broadcast(data)
			return nil
		})
		if err != nil {
			h.logger.Error("failed to subscribe audit hub to bus", zap.Error(err))
		}
	}
	return h
}

func (h *auditHub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			h.logger.Warn("audit stream client too slow, dropping connection")
			close(send)
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

func (h *auditHub) serve(c *gin.Context) {
	conn, err := auditUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade audit stream connection", zap.Error(err))
		return
	}

	send := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	go func() {
		for data := range send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	// Drain reads so the connection's close is detected; audit stream
	// clients have nothing useful to say.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			if send, ok := h.clients[conn]; ok {
				close(send)
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
	}
}

func registerAuditRoutes(router *gin.Engine, deps Dependencies) {
	hub := newAuditHub(deps.Bus, deps.Logger)

	router.GET("/audit", func(c *gin.Context) {
		filter := store.AuditFilter{
			RuleName:  c.Query("rule_name"),
			SceneName: c.Query("scene_name"),
		}
		if limit := c.Query("limit"); limit != "" {
			var n int
			if _, err := fmt.Sscan(limit, &n); err == nil {
				filter.Limit = n
			}
		}
		logs, err := deps.Store.ListAuditLogs(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
	})

	router.GET("/ws/audit", hub.serve)
}
