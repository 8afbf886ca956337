package ws

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tidewar.ai/internal/transport"
)

const pingEvery = 20 * time.Second

// Client is a hub connection that implements transport.Transport.
type Client struct {
	log  *log.Logger
	conn *websocket.Conn
	mux  transport.Mux
	out  chan []byte

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
	err  error
}

// Dial connects to a hub at base (ws://host:port/ws) as role in room.
func Dial(ctx context.Context, base, room, role string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("ws: bad url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("room", room)
	q.Set("role", role)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", u.Redacted(), err)
	}
	conn.SetReadLimit(maxFrame)
	c := &Client{
		log:  logger,
		conn: conn,
		out:  make(chan []byte, peerQueue),
		done: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.fail(err)
				return
			}
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		topic, payload, err := transport.DecodeFrame(msg)
		if err != nil {
			continue
		}
		c.mux.Dispatch(topic, payload)
	}
}

func (c *Client) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

// Send queues one frame. A full queue drops its oldest frame.
func (c *Client) Send(topic string, payload []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	f, err := transport.EncodeFrame(topic, payload)
	if err != nil {
		return err
	}
	transport.SendLatest(c.out, f)
	return nil
}

func (c *Client) Subscribe(topic string, h transport.Handler) func() {
	return c.mux.Subscribe(topic, h)
}

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. Valid after Done is closed.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	c.fail(transport.ErrClosed)
	c.wg.Wait()
	return nil
}

var _ transport.Transport = (*Client)(nil)
