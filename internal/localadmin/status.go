package localadmin

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/schollz/logger"
)

// tapInterval is how often the /tap websocket pushes a fresh session
// snapshot to a connected traffic-inspector helper.
const tapInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionStatus is one row of the loopback status surface's /sessions
// response.
type SessionStatus struct {
	ID        string `json:"id"`
	ServiceID string `json:"serviceId"`
	State     string `json:"state"`
	PublicURL string `json:"publicUrl,omitempty"`
}

// StatusSource supplies the live session table the status surface
// reports; cmd's appStatusSource, an adapter over the app's session map,
// is the production implementation.
type StatusSource interface {
	Sessions() []SessionStatus
}

// ServeStatusHTTP runs a small gin server bound to listener exposing
// GET /sessions, GET /healthz and the GET /tap websocket, matching the
// teacher's startAdminServer/"/tunnels" shape (pkg/tunnel/tunnel.go) — a
// read-only loopback surface distinct from the yamux control-plane, which
// `asd inspect tap` and other local clients query without going through a
// multiplexed call.
func ServeStatusHTTP(listener net.Listener, source StatusSource) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {
		log.Debugf("localadmin status endpoint %s %s", httpMethod, absolutePath)
	}

	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": source.Sessions()})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/tap", func(c *gin.Context) {
		serveTap(c.Writer, c.Request, source)
	})

	return r.RunListener(listener)
}

// serveTap upgrades the request to a websocket and pushes a session
// snapshot every tapInterval until the client disconnects, backing
// `asd inspect tap` (SPEC_FULL §11 domain stack, gorilla/websocket).
func serveTap(w http.ResponseWriter, r *http.Request, source StatusSource) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("localadmin tap: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(tapInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteJSON(gin.H{"sessions": source.Sessions(), "at": time.Now()}); err != nil {
			return
		}
	}
}
