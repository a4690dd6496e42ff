package ws

import (
	"encoding/json"
	"lototet/internal/transport"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 128 << 10
	maxPeerIDLen   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // peers connect from anywhere
	},
}

// Handler handles relay WebSocket connections
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates a new relay handler
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// PeerWS handles GET /v1/peers?id=&token=
func (h *Handler) PeerWS(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	token := r.URL.Query().Get("token")

	if len(id) > maxPeerIDLen {
		http.Error(w, "peer id too long", http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ep, _, err := h.hub.Register(r.Context(), id, token)
	if err != nil {
		h.logger.Info("peer refused", zap.String("peer", id), zap.Error(err))
		wsConn.SetWriteDeadline(time.Now().Add(writeWait))
		wsConn.WriteJSON(transport.Frame{Type: transport.FrameError, ID: id, Error: errorCode(err)})
		wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errorCode(err)))
		wsConn.Close()
		return
	}

	go h.writePump(wsConn, ep)
	go h.readPump(wsConn, ep)
}

func (h *Handler) readPump(wsConn *websocket.Conn, ep *Endpoint) {
	defer func() {
		h.hub.Unregister(ep)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket error", zap.String("peer", ep.PeerID), zap.Error(err))
			}
			break
		}

		var f transport.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			f = transport.Frame{}
		}
		h.hub.Route(ep, f)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, ep *Endpoint) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-ep.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
