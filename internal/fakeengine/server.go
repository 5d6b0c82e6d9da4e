// Package fakeengine serves engine.Engine instances over the remote
// engine's WebSocket protocol. By default every store is an in-memory
// engine, which makes the server a test double for remote engines and a
// small standalone daemon for `shelfdb serve`.
//
// The WebSocket server is implemented using the `gws` library.
//
// Failures can be injected per method with FailNext.
package fakeengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/lxzan/gws"

	"github.com/shelfdb/shelfdb.go/internal/codec"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/engine/memory"
	"github.com/shelfdb/shelfdb.go/pkg/engine/remote"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

// Opener builds the engine of a store the first time a request names it.
type Opener func(ctx context.Context, name string) (engine.Engine, error)

type Option func(*Server)

func WithOpener(open Opener) Option {
	return func(s *Server) {
		s.open = open
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server
	codec    codec.Codec
	logger   logger.Logger
	open     Opener

	mu          sync.RWMutex
	engines     map[string]engine.Engine
	connections map[*gws.Conn]map[string]engine.Feed
	failures    map[string][]*remote.RPCError
}

// Handler implements the gws.Event interface for WebSocket connections
type Handler struct {
	server *Server
}

// NewServer creates a server; use "127.0.0.1:0" to bind to a random port.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		codec:       codec.JSON(),
		logger:      logger.Nop(),
		open:        memory.Opener(),
		engines:     make(map[string]engine.Engine),
		connections: make(map[*gws.Conn]map[string]engine.Feed),
		failures:    make(map[string][]*remote.RPCError),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.With(s.logger, "component", "engine-server")

	s.server = gws.NewServer(&Handler{server: s}, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !isClosedError(err) {
			s.logger.Error("server error", "error", err)
		}
	}
	return s
}

// FailNext makes the next call of method answer with err instead of
// reaching the engine.
func (s *Server) FailNext(method string, err *remote.RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], err)
}

// Engine returns the engine serving store, opening it if needed.
func (s *Server) Engine(ctx context.Context, store string) (engine.Engine, error) {
	s.mu.RLock()
	e, ok := s.engines[store]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[store]; ok {
		return e, nil
	}
	e, err := s.open(ctx, store)
	if err != nil {
		return nil, err
	}
	s.engines[store] = e
	return e, nil
}

// Start begins accepting connections in the background.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil && !isClosedError(err) {
			s.logger.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Stop closes the listener, every open connection and every engine.
func (s *Server) Stop() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	conns := make([]*gws.Conn, 0, len(s.connections))
	for socket := range s.connections {
		conns = append(conns, socket)
	}
	engines := s.engines
	s.engines = make(map[string]engine.Engine)
	s.mu.Unlock()

	for _, socket := range conns {
		socket.NetConn().Close()
	}
	for _, e := range engines {
		_ = e.Close()
	}
	return err
}

// Address returns the address the server listens on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL is the address remote.Dial expects.
func (s *Server) URL() string {
	return "ws://" + s.Address() + "/rpc"
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.connections[socket] = make(map[string]engine.Feed)
	h.server.mu.Unlock()
}

func (h *Handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	feeds := h.server.connections[socket]
	delete(h.server.connections, socket)
	h.server.mu.Unlock()

	for _, f := range feeds {
		f.Cancel()
	}
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Error("error writing pong", "error", err)
	}
}

func (h *Handler) OnPong(*gws.Conn, []byte) {}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req remote.RPCRequest
	if err := h.server.codec.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, "", &remote.RPCError{Code: remote.CodeParseError, Message: "parse error"})
		return
	}

	if rpcErr := h.server.takeFailure(req.Method); rpcErr != nil {
		h.sendError(socket, req.ID, rpcErr)
		return
	}

	ctx := context.Background()
	result, err := h.dispatch(ctx, socket, &req)
	if err != nil {
		h.sendError(socket, req.ID, toRPCError(err))
		return
	}
	h.sendResponse(socket, req.ID, result)

	if req.Method == remote.MethodChanges {
		h.startFeed(socket, result.(string))
	}
}

func (s *Server) takeFailure(method string) *remote.RPCError {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.failures[method]
	if len(queue) == 0 {
		return nil
	}
	s.failures[method] = queue[1:]
	return queue[0]
}

var errInvalidParams = errors.New("invalid params")

func (h *Handler) decode(req *remote.RPCRequest, dst any) error {
	if err := h.server.codec.Unmarshal(req.Params, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", errInvalidParams, req.Method, err)
	}
	return nil
}

//nolint:gocyclo
func (h *Handler) dispatch(ctx context.Context, socket *gws.Conn, req *remote.RPCRequest) (any, error) {
	switch req.Method {
	case remote.MethodBulkDocs:
		var p remote.BulkDocsParams
		if err := h.decode(req, &p); err != nil {
			return nil, err
		}
		e, err := h.server.Engine(ctx, p.Store)
		if err != nil {
			return nil, err
		}
		return e.BulkDocs(ctx, p.Docs)

	case remote.MethodGet:
		var p remote.GetParams
		if err := h.decode(req, &p); err != nil {
			return nil, err
		}
		e, err := h.server.Engine(ctx, p.Store)
		if err != nil {
			return nil, err
		}
		return e.Get(ctx, p.ID)

	case remote.MethodAllDocs:
		var p remote.AllDocsParams
		if err := h.decode(req, &p); err != nil {
			return nil, err
		}
		e, err := h.server.Engine(ctx, p.Store)
		if err != nil {
			return nil, err
		}
		return e.AllDocs(ctx, p.IncludeDocs)

	case remote.MethodRemove:
		var p remote.RemoveParams
		if err := h.decode(req, &p); err != nil {
			return nil, err
		}
		e, err := h.server.Engine(ctx, p.Store)
		if err != nil {
			return nil, err
		}
		return e.Remove(ctx, p.ID, p.Rev)

	case remote.MethodChanges:
		var p remote.ChangesParams
		if err := h.decode(req, &p); err != nil {
			return nil, err
		}
		if p.Subscription == "" {
			return nil, fmt.Errorf("%w: changes: subscription is required", errInvalidParams)
		}
		e, err := h.server.Engine(ctx, p.Store)
		if err != nil {
			return nil, err
		}
		feed, err := e.Changes(context.Background())
		if err != nil {
			return nil, err
		}
		h.server.mu.Lock()
		feeds, ok := h.server.connections[socket]
		if ok {
			feeds[p.Subscription] = feed
		}
		h.server.mu.Unlock()
		if !ok {
			feed.Cancel()
			return nil, net.ErrClosed
		}
		return p.Subscription, nil

	case remote.MethodCancel:
		var p remote.CancelParams
		if err := h.decode(req, &p); err != nil {
			return nil, err
		}
		h.server.mu.Lock()
		feed, ok := h.server.connections[socket][p.Subscription]
		delete(h.server.connections[socket], p.Subscription)
		h.server.mu.Unlock()
		if ok {
			feed.Cancel()
		}
		return true, nil
	}

	return nil, &remote.RPCError{Code: remote.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

// startFeed forwards a subscription's changes as notifications. It runs
// after the response to "changes" was written.
func (h *Handler) startFeed(socket *gws.Conn, id string) {
	h.server.mu.RLock()
	feed, ok := h.server.connections[socket][id]
	h.server.mu.RUnlock()
	if !ok {
		return
	}

	go func() {
		for c := range feed.Events() {
			h.notify(socket, remote.NotifyChange, remote.ChangeNotification{Subscription: id, Change: c})
		}
		n := remote.ClosedNotification{Subscription: id}
		if err := feed.Err(); err != nil {
			n.Error = err.Error()
		}
		h.notify(socket, remote.NotifyClosed, n)
	}()
}

func toRPCError(err error) *remote.RPCError {
	var rpcErr *remote.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return &remote.RPCError{
			Code:    remote.CodeEngineError,
			Message: engErr.Message,
			Status:  engErr.Status,
			Name:    engErr.Name,
			Reason:  engErr.Reason,
		}
	}
	if errors.Is(err, errInvalidParams) {
		return &remote.RPCError{Code: remote.CodeInvalidParams, Message: err.Error()}
	}
	return &remote.RPCError{Code: remote.CodeEngineError, Message: err.Error()}
}

func (h *Handler) sendResponse(socket *gws.Conn, id string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		h.sendError(socket, id, &remote.RPCError{Code: remote.CodeEngineError, Message: fmt.Sprintf("sendResponse: %v", err)})
		return
	}
	h.write(socket, remote.RPCResponse{ID: id, Result: raw})
}

func (h *Handler) sendError(socket *gws.Conn, id string, rpcErr *remote.RPCError) {
	h.write(socket, remote.RPCResponse{ID: id, Error: rpcErr})
}

func (h *Handler) notify(socket *gws.Conn, method string, params any) {
	h.write(socket, remote.RPCNotification{Method: method, Params: params})
}

func (h *Handler) write(socket *gws.Conn, v any) {
	data, err := h.server.codec.Marshal(v)
	if err != nil {
		h.server.logger.Error("failed to marshal message", "error", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeText, data); err != nil && !isClosedError(err) {
		h.server.logger.Error("error writing message", "error", err)
	}
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || strings.HasSuffix(err.Error(), "use of closed network connection")
}
