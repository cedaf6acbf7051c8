package wrpc

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/nodekeeper/nodekeeper/errors"
	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/ulogger"
	"github.com/nodekeeper/nodekeeper/util/retry"
	"go.uber.org/atomic"
)

const (
	defaultRequestTimeout = 10 * time.Second
	writeWait             = 5 * time.Second
)

type listener struct {
	ch     chan<- rpc.Notification
	scopes map[rpc.Scope]struct{}
}

// Client is a reconnecting wRPC JSON client. It implements rpc.API and rpc.Connector and reports
// connection changes through its Ctl.
type Client struct {
	logger ulogger.Logger
	url    string
	ctl    *rpc.Ctl
	dialer *websocket.Dialer

	requestTimeout time.Duration

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *Message
	nextID    atomic.Uint64

	listenersMu  sync.RWMutex
	listeners    map[rpc.ListenerID]*listener
	scopeRefs    map[rpc.Scope]int
	nextListener atomic.Uint64
	dropped      atomic.Uint64

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewClient(logger ulogger.Logger, url string, ctl *rpc.Ctl) *Client {
	if ctl == nil {
		ctl = rpc.NewCtl()
	}

	return &Client{
		logger:         logger,
		url:            url,
		ctl:            ctl,
		dialer:         &websocket.Dialer{HandshakeTimeout: defaultRequestTimeout},
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[uint64]chan *Message),
		listeners:      make(map[rpc.ListenerID]*listener),
		scopeRefs:      make(map[rpc.Scope]int),
	}
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Ctl() *rpc.Ctl {
	return c.ctl
}

// Dropped returns the number of notifications discarded because a listener channel was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Connect starts the connection loop. With BlockAsyncConnect the call returns once the first
// connection succeeds (or fails, for the fallback strategy); otherwise it returns immediately.
func (c *Client) Connect(ctx context.Context, options rpc.ConnectOptions) error {
	c.loopMu.Lock()
	if c.loopCancel != nil {
		c.loopMu.Unlock()
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	firstAttempt := make(chan error, 1)

	c.loopCancel = cancel
	c.loopDone = done
	c.loopMu.Unlock()

	go func() {
		defer close(done)
		c.run(loopCtx, options, firstAttempt)
	}()

	if !options.BlockAsyncConnect {
		return nil
	}

	select {
	case err := <-firstAttempt:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops the connection loop and closes the socket. It waits for the loop to exit.
func (c *Client) Disconnect(ctx context.Context) error {
	c.loopMu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.loopCancel, c.loopDone = nil, nil
	c.loopMu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	c.closeConn()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.NewNetworkTimeoutError("[wrpc] disconnect from %s did not complete", c.url, ctx.Err())
	}
}

func (c *Client) run(ctx context.Context, options rpc.ConnectOptions, firstAttempt chan<- error) {
	interval := options.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			firstAttempt <- err
		}
	}

	for {
		opts := []retry.Options{
			retry.WithBackoffDurationType(interval),
			retry.WithBackoffMultiplier(0),
			retry.WithRetryIf(errors.IsNetworkError),
		}

		if options.Strategy == rpc.ConnectStrategyFallback {
			opts = append(opts, retry.WithRetryCount(1))
		} else {
			opts = append(opts, retry.WithInfiniteRetry(), retry.WithMessage("[wrpc] connecting to "+c.url))
		}

		conn, err := retry.Retry(ctx, c.logger, func() (*websocket.Conn, error) {
			return c.dial(ctx, options.ConnectTimeout)
		}, opts...)
		if err != nil {
			report(err)
			return
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.logger.Infof("[wrpc] connected to %s", c.url)

		go c.resubscribe(ctx)

		c.ctl.SignalOpen()
		report(nil)

		readErr := c.readLoop(conn)

		c.closeConn()
		c.failPending(errors.NewRPCNotConnectedError("[wrpc] connection to %s closed", c.url))
		c.ctl.SignalClose()

		if ctx.Err() != nil {
			return
		}

		c.logger.Warnf("[wrpc] connection to %s lost: %v", c.url, readErr)

		if options.Strategy == rpc.ConnectStrategyFallback {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (c *Client) dial(ctx context.Context, timeout time.Duration) (*websocket.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, errors.NewNetworkError("[wrpc] unable to connect to %s", c.url, err)
	}

	return conn, nil
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg Message
		if err = json.Unmarshal(data, &msg); err != nil {
			c.logger.Warnf("[wrpc] discarding malformed message: %v", err)
			continue
		}

		if msg.ID == 0 {
			if msg.Method == MethodNotify {
				c.dispatch(msg.Params)
			}

			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()

		if ok {
			ch <- &msg
		}
	}
}

func (c *Client) dispatch(params jsoniter.RawMessage) {
	n, err := decodeNotification(params)
	if err != nil {
		c.logger.Warnf("[wrpc] %v", err)
		return
	}

	scope := n.Scope()

	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()

	for _, l := range c.listeners {
		if _, ok := l.scopes[scope]; !ok {
			continue
		}

		select {
		case l.ch <- n:
		default:
			c.dropped.Inc()
		}
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		ch <- &Message{ID: id, Error: &MessageError{Message: err.Error()}}
		delete(c.pending, id)
	}
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return errors.NewRPCNotConnectedError("[wrpc] %s: not connected to %s", method, c.url)
	}

	req := Message{ID: c.nextID.Inc(), Method: method}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.NewProcessingError("[wrpc] %s: unable to encode params", method, err)
		}

		req.Params = raw
	}

	data, err := json.Marshal(req)
	if err != nil {
		return errors.NewProcessingError("[wrpc] %s: unable to encode request", method, err)
	}

	ch := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		return errors.NewNetworkError("[wrpc] %s: write failed", method, err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return errors.NewRPCError("[wrpc] %s: %s", method, resp.Error.Message)
		}

		if result == nil || len(resp.Result) == 0 {
			return nil
		}

		if err = json.Unmarshal(resp.Result, result); err != nil {
			return errors.NewNetworkInvalidResponseError("[wrpc] %s: malformed result", method, err)
		}

		return nil
	case <-timer.C:
		return errors.NewNetworkTimeoutError("[wrpc] %s: no response within %s", method, c.requestTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) RegisterListener(ch chan<- rpc.Notification) rpc.ListenerID {
	id := rpc.ListenerID(c.nextListener.Inc())

	c.listenersMu.Lock()
	c.listeners[id] = &listener{ch: ch, scopes: make(map[rpc.Scope]struct{})}
	c.listenersMu.Unlock()

	return id
}

func (c *Client) UnregisterListener(ctx context.Context, id rpc.ListenerID) error {
	c.listenersMu.Lock()
	l, ok := c.listeners[id]
	if !ok {
		c.listenersMu.Unlock()
		return errors.NewNotFoundError("[wrpc] listener %d not registered", id)
	}

	delete(c.listeners, id)

	var release []rpc.Scope

	for scope := range l.scopes {
		c.scopeRefs[scope]--
		if c.scopeRefs[scope] <= 0 {
			delete(c.scopeRefs, scope)
			release = append(release, scope)
		}
	}
	c.listenersMu.Unlock()

	var errs []error

	for _, scope := range release {
		if err := c.unsubscribe(ctx, scope); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Client) StartNotify(ctx context.Context, id rpc.ListenerID, scope rpc.Scope) error {
	c.listenersMu.Lock()
	l, ok := c.listeners[id]
	if !ok {
		c.listenersMu.Unlock()
		return errors.NewNotFoundError("[wrpc] listener %d not registered", id)
	}

	if _, ok = l.scopes[scope]; ok {
		c.listenersMu.Unlock()
		return nil
	}

	l.scopes[scope] = struct{}{}
	c.scopeRefs[scope]++
	first := c.scopeRefs[scope] == 1
	c.listenersMu.Unlock()

	if !first {
		return nil
	}

	err := c.call(ctx, MethodSubscribe, ScopeParams{Scope: scope}, nil)
	if errors.Is(err, errors.ErrRPCNotConnected) {
		// restored by resubscribe once connected
		return nil
	}

	return err
}

func (c *Client) StopNotify(ctx context.Context, id rpc.ListenerID, scope rpc.Scope) error {
	c.listenersMu.Lock()
	l, ok := c.listeners[id]
	if !ok {
		c.listenersMu.Unlock()
		return errors.NewNotFoundError("[wrpc] listener %d not registered", id)
	}

	if _, ok = l.scopes[scope]; !ok {
		c.listenersMu.Unlock()
		return nil
	}

	delete(l.scopes, scope)
	c.scopeRefs[scope]--
	last := c.scopeRefs[scope] <= 0

	if last {
		delete(c.scopeRefs, scope)
	}
	c.listenersMu.Unlock()

	if !last {
		return nil
	}

	return c.unsubscribe(ctx, scope)
}

func (c *Client) unsubscribe(ctx context.Context, scope rpc.Scope) error {
	err := c.call(ctx, MethodUnsubscribe, ScopeParams{Scope: scope}, nil)
	if errors.Is(err, errors.ErrRPCNotConnected) {
		// the server drops subscriptions with the connection
		return nil
	}

	return err
}

func (c *Client) resubscribe(ctx context.Context) {
	c.listenersMu.RLock()
	scopes := make([]rpc.Scope, 0, len(c.scopeRefs))

	for scope := range c.scopeRefs {
		scopes = append(scopes, scope)
	}
	c.listenersMu.RUnlock()

	for _, scope := range scopes {
		if err := c.call(ctx, MethodSubscribe, ScopeParams{Scope: scope}, nil); err != nil {
			c.logger.Warnf("[wrpc] unable to restore %s subscription: %v", scope, err)
		}
	}
}

func (c *Client) GetSystemInfo(ctx context.Context) (*rpc.SystemInfo, error) {
	info := &rpc.SystemInfo{}
	if err := c.call(ctx, MethodGetSystemInfo, nil, info); err != nil {
		return nil, err
	}

	return info, nil
}

func (c *Client) GetConnectedPeerInfo(ctx context.Context) ([]*rpc.PeerInfo, error) {
	var peers []*rpc.PeerInfo
	if err := c.call(ctx, MethodGetConnectedPeerInfo, nil, &peers); err != nil {
		return nil, err
	}

	return peers, nil
}

func (c *Client) GetMetrics(ctx context.Context) (*rpc.Metrics, error) {
	m := &rpc.Metrics{}
	if err := c.call(ctx, MethodGetMetrics, nil, m); err != nil {
		return nil, err
	}

	return m, nil
}

func (c *Client) GetFeeEstimate(ctx context.Context) (*rpc.FeeEstimate, error) {
	fe := &rpc.FeeEstimate{}
	if err := c.call(ctx, MethodGetFeeEstimate, nil, fe); err != nil {
		return nil, err
	}

	return fe, nil
}

// Ping round-trips an empty request.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}
