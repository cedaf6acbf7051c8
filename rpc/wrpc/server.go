package wrpc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"go.uber.org/atomic"
)

const (
	sessionSendBuffer      = 256
	sessionNotifyBuffer    = 1024
	pingInterval           = 30 * time.Second
	serverHandlerTimeout   = 10 * time.Second
	maxInboundMessageBytes = 1 << 20
)

// Server exposes an rpc.API to wRPC JSON clients. Every websocket connection gets its own
// notification listener on the API, released when the connection closes.
type Server struct {
	logger   ulogger.Logger
	api      rpc.API
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool

	dropped atomic.Uint64
}

func NewServer(logger ulogger.Logger, api rpc.API) *Server {
	return &Server{
		logger: logger,
		api:    api,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[*session]struct{}),
	}
}

type session struct {
	server   *Server
	conn     *websocket.Conn
	send     chan []byte
	notify   chan rpc.Notification
	listener rpc.ListenerID
	ctx      context.Context
	cancel   context.CancelFunc
}

// Sessions returns the number of open client connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("[wrpc] upgrade failed: %v", err)
		return
	}

	conn.SetReadLimit(maxInboundMessageBytes)

	ctx, cancel := context.WithCancel(context.Background())

	sess := &session{
		server: s,
		conn:   conn,
		send:   make(chan []byte, sessionSendBuffer),
		notify: make(chan rpc.Notification, sessionNotifyBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	sess.listener = s.api.RegisterListener(sess.notify)

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.logger.Debugf("[wrpc] client connected from %s", r.RemoteAddr)

	go sess.writeLoop()
	go sess.notifyLoop()

	sess.readLoop()

	cancel()
	_ = conn.Close()

	unregisterCtx, unregisterCancel := context.WithTimeout(context.Background(), serverHandlerTimeout)
	if err = s.api.UnregisterListener(unregisterCtx, sess.listener); err != nil {
		s.logger.Debugf("[wrpc] unregister listener %d: %v", sess.listener, err)
	}
	unregisterCancel()

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()

	s.logger.Debugf("[wrpc] client %s disconnected", r.RemoteAddr)
}

// Close disconnects every client and rejects new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true

	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.cancel()
		_ = sess.conn.Close()
	}
}

func (sess *session) readLoop() {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var req Message
		if err = json.Unmarshal(data, &req); err != nil || req.ID == 0 {
			sess.server.logger.Debugf("[wrpc] ignoring malformed request")
			continue
		}

		resp := sess.handle(&req)

		out, err := json.Marshal(resp)
		if err != nil {
			sess.server.logger.Errorf("[wrpc] unable to encode %s response: %v", req.Method, err)
			continue
		}

		select {
		case sess.send <- out:
		case <-sess.ctx.Done():
			return
		}
	}
}

func (sess *session) handle(req *Message) *Message {
	ctx, cancel := context.WithTimeout(sess.ctx, serverHandlerTimeout)
	defer cancel()

	api := sess.server.api
	resp := &Message{ID: req.ID}

	var (
		result interface{}
		err    error
	)

	switch req.Method {
	case MethodPing:
	case MethodGetSystemInfo:
		result, err = api.GetSystemInfo(ctx)
	case MethodGetConnectedPeerInfo:
		result, err = api.GetConnectedPeerInfo(ctx)
	case MethodGetMetrics:
		result, err = api.GetMetrics(ctx)
	case MethodGetFeeEstimate:
		result, err = api.GetFeeEstimate(ctx)
	case MethodSubscribe, MethodUnsubscribe:
		var params ScopeParams
		if err = json.Unmarshal(req.Params, &params); err != nil {
			break
		}

		if req.Method == MethodSubscribe {
			err = api.StartNotify(ctx, sess.listener, params.Scope)
		} else {
			err = api.StopNotify(ctx, sess.listener, params.Scope)
		}
	default:
		resp.Error = &MessageError{Message: "unknown method " + req.Method}
		return resp
	}

	if err != nil {
		resp.Error = &MessageError{Message: err.Error()}
		return resp
	}

	if result != nil {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			resp.Error = &MessageError{Message: marshalErr.Error()}
			return resp
		}

		resp.Result = raw
	}

	return resp
}

func (sess *session) notifyLoop() {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case n := <-sess.notify:
			data, err := encodeNotification(n)
			if err != nil {
				sess.server.logger.Errorf("[wrpc] unable to encode %s notification: %v", n.Scope(), err)
				continue
			}

			select {
			case sess.send <- data:
			default:
				sess.server.dropped.Inc()
			}
		}
	}
}

func (sess *session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			return
		case data := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sess.server.logger.Debugf("[wrpc] write failed: %v", err)
				sess.cancel()
				_ = sess.conn.Close()

				return
			}
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				sess.cancel()
				_ = sess.conn.Close()

				return
			}
		}
	}
}
