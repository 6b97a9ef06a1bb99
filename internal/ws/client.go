package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS middleware
	},
}

// Message is the envelope used in both directions.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type closeFrame struct {
	code   int
	reason string
}

// Client is one player's websocket connection. Writes go through the send
// buffer and are performed by writePump only.
type Client struct {
	conn     *websocket.Conn
	playerID int
	send     chan []byte
	closing  chan closeFrame
	done     chan struct{}

	closeOnce sync.Once
	stopOnce  sync.Once
}

func newClient(conn *websocket.Conn, playerID int) *Client {
	return &Client{
		conn:     conn,
		playerID: playerID,
		send:     make(chan []byte, sendBuffer),
		closing:  make(chan closeFrame, 1),
		done:     make(chan struct{}),
	}
}

// Send queues an event for the player. It never blocks: when the buffer is
// full the message is dropped.
func (c *Client) Send(event string, data interface{}) {
	b, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		log.Printf("[WS] marshal %s for player %d failed: %v", event, c.playerID, err)
		return
	}
	select {
	case c.send <- b:
	default:
		log.Printf("[WS] send buffer full for player %d, dropping %s", c.playerID, event)
	}
}

// Close asks writePump to flush pending messages, send a close frame and
// drop the connection.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closing <- closeFrame{code: code, reason: reason}
	})
}

// Done is closed once the read side has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error for player %d: %v", c.playerID, err)
				return
			}

		case f := <-c.closing:
			c.flush()
			err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, f.reason), time.Now().Add(writeWait))
			if err != nil {
				log.Printf("[WS] close frame for player %d not delivered: %v", c.playerID, err)
			}
			return

		case <-c.done:
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping error for player %d: %v", c.playerID, err)
				return
			}
		}
	}
}

// flush writes whatever is still buffered so a close frame never overtakes
// the error that explains it.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump hands every inbound frame to onMessage until the connection ends.
func (c *Client) readPump(onMessage func([]byte)) {
	defer func() {
		c.stop()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("[WS] unexpected close for player %d: %v", c.playerID, err)
			}
			return
		}
		if onMessage != nil {
			onMessage(message)
		}
	}
}

// reject tells a connection why it is being refused and closes it. It is
// used before any pump is running.
func reject(conn *websocket.Conn, code int, message string) {
	deadline := time.Now().Add(writeWait)
	if message != "" {
		conn.SetWriteDeadline(deadline)
		if err := conn.WriteJSON(Message{Event: "error", Data: map[string]string{"message": message}}); err != nil {
			log.Printf("[WS] reject: error event not delivered: %v", err)
		}
	}
	reason := message
	if len(reason) > 120 {
		reason = reason[:120]
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
