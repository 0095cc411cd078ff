package relay

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Akshad135/tailsync/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Private network deployment, allow all origins.
	},
}

// Server exposes the hub over HTTP: a status endpoint at / and the
// websocket sync endpoint at /ws.
type Server struct {
	hub    *Hub
	log    zerolog.Logger
	router *gin.Engine
}

// NewServer wires the hub into a gin router.
func NewServer(hub *Hub, log zerolog.Logger) *Server {
	s := &Server{hub: hub, log: log}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"*"},
	}))

	router.GET("/", s.handleStatus)
	router.GET("/ws", s.handleWebsocket)

	s.router = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleStatus reports relay liveness and the active connection count. It
// is not part of the sync path.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"clients": s.hub.ClientCount(),
	})
}

// handleWebsocket upgrades the connection, registers it with the hub and
// runs its receive loop. Each connection's lifecycle is an independent
// concurrent unit: an error here tears down this session only.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The hub enforces the 10 MiB message limit itself so the connection
	// survives an oversized payload; the transport limit is only a larger
	// backstop against unbounded frames.
	conn.SetReadLimit(protocol.HardReadLimit)

	id := s.hub.Register(conn)
	defer s.hub.Unregister(id)

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Str("conn", id.String()).Msg("websocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.hub.HandleInbound(id, raw)
	}
}
