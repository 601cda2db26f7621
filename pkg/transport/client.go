// ABOUTME: WebSocket client for the consumer side of a remote stream
// ABOUTME: Handles the hello handshake, request writes and delivery decoding
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/tidepool/pkg/protocol"
	"github.com/gorilla/websocket"
)

// Path is the WebSocket endpoint served by Server
const Path = "/tidepool"

const (
	handshakeTimeout = 5 * time.Second
	writeDeadline    = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// ClientConfig holds client configuration
type ClientConfig struct {
	ServerAddr    string
	Hello         protocol.ClientHello
	RequestBuffer int
}

// Client is a remote Link
type Client struct {
	conn  *websocket.Conn
	hello protocol.ServerHello

	requests   chan protocol.Request
	deliveries chan protocol.Delivery

	// writeMu serializes writers on conn
	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a producer and performs the handshake
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: cfg.ServerAddr, Path: Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	hello, err := clientHandshake(conn, cfg.Hello)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = DefaultRequestBuffer
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		hello:      hello,
		requests:   make(chan protocol.Request, cfg.RequestBuffer),
		deliveries: make(chan protocol.Delivery, cfg.RequestBuffer+1),
		ctx:        cctx,
		cancel:     cancel,
	}

	c.wg.Add(2)
	go c.readMessages()
	go c.writeRequests()

	return c, nil
}

func clientHandshake(conn *websocket.Conn, hello protocol.ClientHello) (protocol.ServerHello, error) {
	var serverHello protocol.ServerHello

	msg := protocol.Message{Type: protocol.TypeClientHello, Payload: hello}
	if err := conn.WriteJSON(msg); err != nil {
		return serverHello, fmt.Errorf("failed to send client/hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var reply protocol.Message
	if err := conn.ReadJSON(&reply); err != nil {
		return serverHello, fmt.Errorf("failed to read server/hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if reply.Type == protocol.TypeStop {
		var stop protocol.Stop
		protocol.DecodePayload(reply, &stop)
		return serverHello, fmt.Errorf("%w: %s", ErrRejected, stop.Reason)
	}
	if reply.Type != protocol.TypeServerHello {
		return serverHello, fmt.Errorf("expected server/hello, got %s", reply.Type)
	}
	if err := protocol.DecodePayload(reply, &serverHello); err != nil {
		return serverHello, err
	}

	log.Printf("Handshake complete with %s (ID: %s)", serverHello.Name, serverHello.ServerID)
	return serverHello, nil
}

// ServerHello returns the producer's handshake reply
func (c *Client) ServerHello() protocol.ServerHello {
	return c.hello
}

func (c *Client) Requests() chan<- protocol.Request {
	return c.requests
}

func (c *Client) Deliveries() <-chan protocol.Delivery {
	return c.deliveries
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// readMessages decodes deliveries until the connection fails
func (c *Client) readMessages() {
	defer c.wg.Done()
	defer c.cancel()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			d, err := protocol.DecodeDelivery(data)
			if err != nil {
				log.Printf("Dropping delivery: %v", err)
				continue
			}
			select {
			case c.deliveries <- d:
			case <-c.ctx.Done():
				return
			}

		case websocket.TextMessage:
			var msg protocol.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Failed to parse JSON message: %v", err)
				continue
			}
			if msg.Type == protocol.TypeStop {
				var stop protocol.Stop
				protocol.DecodePayload(msg, &stop)
				log.Printf("Server stopped stream: %s", stop.Reason)
				return
			}
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

// writeRequests forwards refill requests to the server
func (c *Client) writeRequests() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-c.requests:
			if err := c.writeJSON(protocol.Message{Type: protocol.TypeRequest, Payload: req}); err != nil {
				log.Printf("Failed to send request: %v", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline))
			c.writeMu.Unlock()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) writeJSON(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(msg)
}

// Close sends stream/stop and closes the connection
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		select {
		case <-c.ctx.Done():
		default:
			c.writeJSON(protocol.Message{Type: protocol.TypeStop, Payload: protocol.Stop{Reason: "user_request"}})
		}
		c.cancel()
		err = c.conn.Close()
		c.wg.Wait()
		log.Printf("Connection closed")
	})
	return err
}
