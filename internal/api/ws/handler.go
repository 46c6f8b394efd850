package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
)

const (
	DefaultInterval = time.Second
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = time.Minute

	writeWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Any origin may read introspection data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Kernel is the state the stream publishes.
type Kernel interface {
	Stats() kernel.Stats
	Tasks() []kernel.TaskInfo
}

// Message is a client request.
type Message struct {
	Type       string `json:"type"`
	IntervalMS int    `json:"interval_ms,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	kernel   Kernel
	log      *zap.Logger
	interval time.Duration
}

// NewHandler creates a new WebSocket handler
func NewHandler(k Kernel, log *zap.Logger) *Handler {
	return &Handler{kernel: k, log: log, interval: DefaultInterval}
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(data)
}

func (c *conn) sendError(msg string) error {
	return c.send(gin.H{"type": "error", "message": msg, "timestamp": time.Now().Unix()})
}

// HandleConnection upgrades the request and streams until the client leaves.
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	cn := &conn{ws: ws}

	intervals := make(chan time.Duration, 1)
	closed := make(chan struct{})
	go h.read(cn, intervals, closed)

	interval := h.interval
	if err := cn.send(gin.H{"type": "system", "interval_ms": interval.Milliseconds()}); err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case d := <-intervals:
			interval = d
			ticker.Reset(d)
		case <-ticker.C:
			if err := cn.send(gin.H{"type": "stats", "stats": h.kernel.Stats(), "timestamp": time.Now().Unix()}); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) read(cn *conn, intervals chan time.Duration, closed chan<- struct{}) {
	defer close(closed)
	for {
		var msg Message
		if err := cn.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var err error
		switch msg.Type {
		case "ping":
			err = cn.send(gin.H{"type": "pong"})
		case "tasks":
			tasks := h.kernel.Tasks()
			err = cn.send(gin.H{"type": "tasks", "tasks": tasks, "count": len(tasks)})
		case "interval":
			d := time.Duration(msg.IntervalMS) * time.Millisecond
			if d < MinInterval || d > MaxInterval {
				err = cn.sendError("interval_ms out of range")
				break
			}
			select {
			case intervals <- d:
			default:
				// Replace a pending change nobody has applied yet.
				select {
				case <-intervals:
				default:
				}
				intervals <- d
			}
		default:
			err = cn.sendError("unknown message type")
		}
		if err != nil {
			return
		}
	}
}
