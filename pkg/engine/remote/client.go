// Package remote is an engine.Engine that talks to a shelfdb engine
// server over a WebSocket, one JSON-RPC call per engine operation. A
// single Client multiplexes the engines of many stores.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	gorilla "github.com/gorilla/websocket"

	"github.com/shelfdb/shelfdb.go/internal/codec"
	"github.com/shelfdb/shelfdb.go/internal/rand"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

// DefaultDialer is gorilla's default dialer with compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Option func(c *Client)

// WithTimeout bounds the wait for each response. Zero leaves it to ctx.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.Timeout = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

type Client struct {
	conn *gorilla.Conn
	// connLock serializes writes; gorilla allows one concurrent writer.
	connLock sync.Mutex

	codec codec.Codec

	// Timeout is the wait for a response after the request was written.
	Timeout time.Duration
	logger  logger.Logger

	mu        sync.RWMutex
	responses map[string]chan RPCResponse
	feeds     map[string]*feed
	closed    bool
	closeErr  error

	closeCh  chan struct{}
	readDone chan struct{}
}

// Dial connects to the engine server at url, e.g. "ws://127.0.0.1:8000/rpc".
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, res, err := DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	c := &Client{
		conn:      conn,
		codec:     codec.JSON(),
		Timeout:   DefaultTimeout,
		logger:    logger.Nop(),
		responses: make(map[string]chan RPCResponse),
		feeds:     make(map[string]*feed),
		closeCh:   make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.With(c.logger, "component", "remote")

	go c.readLoop()
	return c, nil
}

// Engine returns the engine of one store on the server.
func (c *Client) Engine(store string) *Engine {
	return &Engine{client: c, store: store, feeds: make(map[*feed]struct{})}
}

// Opener adapts Engine to the registry's constructor signature.
func (c *Client) Opener() func(ctx context.Context, name string) (engine.Engine, error) {
	return func(_ context.Context, name string) (engine.Engine, error) {
		return c.Engine(name), nil
	}
}

// IsClosed reports whether the connection is gone, either by Close or
// because the server went away.
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close sends a close frame, bounded by ctx, and releases the connection.
func (c *Client) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		c.connLock.Lock()
		defer c.connLock.Unlock()
		if deadline, ok := ctx.Deadline(); ok {
			_ = c.conn.SetWriteDeadline(deadline)
		}
		writeErr <- c.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	c.closeWithError(ErrConnectionClosed)
	err := c.conn.Close()
	<-c.readDone
	return err
}

func (c *Client) closeWithError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	close(c.closeCh)

	feeds := c.feeds
	c.feeds = make(map[string]*feed)
	c.mu.Unlock()

	for _, f := range feeds {
		f.hub.CloseWithError(err)
	}
}

// send performs one call and decodes its result into out, if non-nil.
func (c *Client) send(ctx context.Context, method string, params, out any) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	raw, err := c.codec.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	id := rand.NewRequestID(RequestIDLength)
	ch, err := c.createResponseChannel(id)
	if err != nil {
		return err
	}
	defer c.removeResponseChannel(id)

	if err := c.write(&RPCRequest{ID: id, Method: method, Params: raw}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", method, ErrTimeout)
		}
		return ctx.Err()
	case <-c.closeCh:
		return c.closeError()
	case res := <-ch:
		if res.Error != nil {
			return res.Error.Err()
		}
		if out == nil || len(res.Result) == 0 {
			return nil
		}
		if err := c.codec.Unmarshal(res.Result, out); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, method, err)
		}
		return nil
	}
}

func (c *Client) closeError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnectionClosed
}

func (c *Client) createResponseChannel(id string) (chan RPCResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if c.closeErr != nil {
			return nil, c.closeErr
		}
		return nil, ErrConnectionClosed
	}
	if _, ok := c.responses[id]; ok {
		return nil, fmt.Errorf("%w: %v", ErrIDInUse, id)
	}
	ch := make(chan RPCResponse, 1)
	c.responses[id] = ch
	return ch, nil
}

func (c *Client) removeResponseChannel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.responses, id)
}

func (c *Client) write(v any) error {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.IsClosed() {
		return c.closeError()
	}

	err = c.conn.WriteMessage(gorilla.TextMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closeWithError(err)
	}
	return err
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeWithError(c.readError(err))
			return
		}
		// Handled inline: notifications must keep their order.
		c.handleMessage(data)
	}
}

func (c *Client) readError(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return ErrConnectionClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure):
		return ErrConnectionClosed
	case gorilla.IsUnexpectedCloseError(err):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, io.ErrClosedPipe)
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
}

func (c *Client) handleMessage(data []byte) {
	if id, err := jsonparser.GetString(data, "id"); err == nil && id != "" {
		c.handleResponse(id, data)
		return
	}

	method, err := jsonparser.GetString(data, "method")
	if err != nil {
		c.logger.Error("message is neither a response nor a notification", "data", string(data))
		return
	}

	params, _, _, err := jsonparser.Get(data, "params")
	if err != nil {
		c.logger.Error("notification without params", "method", method)
		return
	}

	switch method {
	case NotifyChange:
		var n ChangeNotification
		if err := c.codec.Unmarshal(params, &n); err != nil {
			c.logger.Error("error unmarshaling change notification", "error", err)
			return
		}
		if f, ok := c.getFeed(n.Subscription); ok {
			f.hub.Publish(n.Change)
		}
	case NotifyClosed:
		var n ClosedNotification
		if err := c.codec.Unmarshal(params, &n); err != nil {
			c.logger.Error("error unmarshaling closed notification", "error", err)
			return
		}
		if f, ok := c.getFeed(n.Subscription); ok {
			c.dropFeed(n.Subscription)
			var feedErr error
			if n.Error != "" {
				feedErr = errors.New(n.Error)
			}
			f.hub.CloseWithError(feedErr)
		}
	default:
		c.logger.Warn("unknown notification", "method", method)
	}
}

func (c *Client) handleResponse(id string, data []byte) {
	var res RPCResponse
	if err := c.codec.Unmarshal(data, &res); err != nil {
		c.logger.Error("error unmarshaling response", "id", id, "error", err)
		res = RPCResponse{ID: id, Error: &RPCError{Code: CodeParseError, Message: err.Error()}}
	}

	c.mu.RLock()
	ch, ok := c.responses[id]
	c.mu.RUnlock()
	if !ok {
		c.logger.Error("unavailable response channel", "id", id)
		return
	}
	// Buffered, and each id is answered once.
	ch <- res
}

func (c *Client) getFeed(id string) (*feed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.feeds[id]
	return f, ok
}

func (c *Client) addFeed(f *feed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if _, ok := c.feeds[f.id]; ok {
		return fmt.Errorf("%w: %v", ErrIDInUse, f.id)
	}
	c.feeds[f.id] = f
	return nil
}

func (c *Client) dropFeed(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.feeds, id)
}
