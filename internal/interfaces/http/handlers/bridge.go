package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bivex/purchasekit/internal/infrastructure/bridge"
)

// BridgeHandler upgrades the host application's bridge connection. onAttach
// runs once per attached session, after the websocket is live; the server
// uses it to kick off startup reconciliation.
type BridgeHandler struct {
	session  *bridge.Session
	upgrader websocket.Upgrader
	onAttach func()
	log      *zap.Logger
}

func NewBridgeHandler(session *bridge.Session, allowedOrigins []string, onAttach func(), log *zap.Logger) *BridgeHandler {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &BridgeHandler{
		session: session,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Native host clients send no Origin header.
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		onAttach: onAttach,
		log:      log.With(zap.String("component", "bridge_handler")),
	}
}

// Attach handles GET /bridge.
func (h *BridgeHandler) Attach(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("bridge upgrade failed", zap.Error(err))
		return
	}
	if h.onAttach != nil {
		go h.onAttach()
	}
	h.session.Serve(conn)
}
