package controllers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"gardian_admin/internal/middleware"
	"gardian_admin/internal/models"
)

// FeedSubscriber streams published report lists.
type FeedSubscriber interface {
	Subscribe() (<-chan []models.ReportView, func())
}

// feedMessage is what dashboard sockets receive on every publish.
type feedMessage struct {
	Type    string              `json:"type"`
	Reports []models.ReportView `json:"reports"`
}

// ReportHub pushes the live report feed to connected dashboards. Each socket
// keeps the session token it was opened with and is dropped once that session
// no longer resolves to an administrator.
type ReportHub struct {
	clients   map[*websocket.Conn]string
	broadcast chan feedMessage
	mu        sync.Mutex
	upgrader  websocket.Upgrader
	sessions  middleware.SessionResolver
}

// NewReportHub creates a hub accepting sockets from allowedOrigins (all when empty).
func NewReportHub(sessions middleware.SessionResolver, allowedOrigins []string) *ReportHub {
	return &ReportHub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan feedMessage, 16),
		sessions:  sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r)
			},
		},
	}
}

// Run forwards feed publishes to every client until ctx is done.
func (h *ReportHub) Run(ctx context.Context, feed FeedSubscriber) {
	updates, cancel := feed.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case views, ok := <-updates:
			if !ok {
				return
			}
			h.Publish(views)
		case msg := <-h.broadcast:
			h.send(ctx, msg)
		}
	}
}

// Publish queues a feed list for broadcast.
func (h *ReportHub) Publish(views []models.ReportView) {
	select {
	case h.broadcast <- feedMessage{Type: "reports", Reports: views}:
	default:
		logrus.Warn("Report broadcast channel full, dropping update.")
	}
}

func (h *ReportHub) send(ctx context.Context, msg feedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, token := range h.clients {
		if _, err := h.sessions.Resolve(ctx, token); err != nil {
			logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Session ended, closing report feed socket.")
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"), time.Now().Add(time.Second))
			delete(h.clients, conn)
			conn.Close()
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Client connection closed during broadcast, unregistering.")
			} else {
				logrus.WithError(err).WithField("conn_ptr", fmt.Sprintf("%p", conn)).Warn("Failed to send report update to client.")
			}
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// UnregisterClient removes a connection.
func (h *ReportHub) UnregisterClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Client unregistered from ReportHub.")
	}
}

func (h *ReportHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		conn.Close()
		delete(h.clients, conn)
	}
}

// HandleReportWebSocket upgrades an administrator's request and streams the feed to it,
// starting with the current list.
func (h *ReportHub) HandleReportWebSocket(feed FeedSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := middleware.SessionToken(c)
		if _, err := h.sessions.Resolve(c.Request.Context(), token); err != nil {
			logrus.Warn("WebSocket connection attempt without an administrator session.")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Error("Failed to upgrade report feed connection.")
			return
		}

		h.mu.Lock()
		views, _ := feed.Current()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err = conn.WriteJSON(feedMessage{Type: "reports", Reports: views})
		h.clients[conn] = token
		h.mu.Unlock()
		if err != nil {
			h.UnregisterClient(conn)
			return
		}
		logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Client registered with ReportHub.")

		// Reads only detect the close; dashboards do not send anything.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.WithError(err).Debug("Report feed socket closed unexpectedly.")
				}
				break
			}
		}
		h.UnregisterClient(conn)
	}
}
