package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emberos/ember/internal/infrastructure/logging"
	"github.com/emberos/ember/internal/kernel"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the inspection surface is origin-agnostic
	},
}

const writeTimeout = 10 * time.Second

// Handler upgrades inspection clients and fans kernel events out to them.
type Handler struct {
	kernel *kernel.Kernel
	log    *logging.Logger
}

// NewHandler creates a WebSocket handler over a running kernel.
func NewHandler(k *kernel.Kernel, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{kernel: k, log: log.Named("ws")}
}

// HandleConnection upgrades the request and streams events until the
// client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.kernel.Events().Subscribe()
	defer cancel()

	h.send(conn, map[string]any{
		"type":    "system",
		"boot_id": h.kernel.BootID(),
	})

	// The reader goroutine owns the connection's lifetime: it unblocks on
	// close and its exit tears the writer down. Pings are forwarded to the
	// writer loop; only one goroutine may write to the connection.
	done := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(done)
		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(conn, map[string]any{"type": "event", "event": ev}); err != nil {
				return
			}
		case <-pings:
			if err := h.send(conn, map[string]any{"type": "pong"}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
