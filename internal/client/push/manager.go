// Package push maintains the authenticated push connection: it connects,
// subscribes to the user's private topic, detects loss and reconnects with
// backoff until deactivated. Inbound messages go to a single sink.
package push

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
	"github.com/zhouzirui/z-chat/internal/protocol"
)

// Config describes the push endpoint and its timing.
type Config struct {
	// URL is the push endpoint, e.g. ws://localhost:8080/api/ws.
	URL               string
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	Strategy          string
	HandshakeTimeout  time.Duration
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
	MaxMessageSize    int64
}

// DefaultConfig returns the stock timings: fixed 5s reconnect delay, 4s
// client pings and a 10s silence limit.
func DefaultConfig(pushURL string) Config {
	return Config{
		URL:               pushURL,
		ReconnectDelay:    DefaultReconnectDelay,
		ReconnectMaxDelay: time.Minute,
		Strategy:          StrategyFixed,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatOutgoing: 4 * time.Second,
		HeartbeatIncoming: 10 * time.Second,
		MaxMessageSize:    64 * 1024,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option { return func(m *Manager) { m.dialer = d } }

// WithClock replaces the clock used for retry scheduling.
func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

// WithBackOff replaces the retry policy derived from Config.
func WithBackOff(b backoff.BackOff) Option { return func(m *Manager) { m.backoff = b } }

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

// Manager owns the single push connection of a session.
type Manager struct {
	cfg     Config
	dialer  Dialer
	clock   Clock
	backoff backoff.BackOff
	log     zerolog.Logger

	mu        sync.Mutex
	state     State
	token     string
	gen       uint64
	cancel    context.CancelFunc
	conn      Conn
	retry     *retryTimer
	sink      func(chat.Message)
	stateSubs []func(State)
	errSubs   []func(error)
	attempts  int

	// Notifications are queued under mu and delivered in order outside it.
	queue    []func()
	draining bool
}

type retryTimer struct {
	t Timer
}

// NewManager creates a manager in the Disconnected state.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		clock: SystemClock{},
		log:   log.Logger.With().Str("component", "push").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = WebsocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			PingInterval:     cfg.HeartbeatOutgoing,
			ReadTimeout:      cfg.HeartbeatIncoming,
			MaxMessageSize:   cfg.MaxMessageSize,
		}
	}
	if m.backoff == nil {
		m.backoff = NewBackOff(cfg.Strategy, cfg.ReconnectDelay, cfg.ReconnectMaxDelay)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts counts dial attempts since the manager was created.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// OnMessage installs the sink for inbound messages. A later call replaces
// the earlier sink; the sink survives reconnects.
func (m *Manager) OnMessage(handler func(chat.Message)) {
	m.mu.Lock()
	m.sink = handler
	m.mu.Unlock()
}

// OnStateChange registers a listener for state transitions.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.stateSubs = append(m.stateSubs, fn)
	m.mu.Unlock()
}

// OnProtocolError registers a listener for handshake rejections and bad
// frames. Errors matching syncerr.ErrUnauthorized mean the token is dead.
func (m *Manager) OnProtocolError(fn func(error)) {
	m.mu.Lock()
	m.errSubs = append(m.errSubs, fn)
	m.mu.Unlock()
}

// Activate starts connecting with the given token. It is a no-op unless the
// manager is Disconnected.
func (m *Manager) Activate(token string) {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		m.log.Debug().Stringer("state", m.State()).Msg("activate ignored")
		return
	}
	m.token = token
	m.apply(EventActivate)
	m.mu.Unlock()
	m.flush()
}

// Deactivate closes the connection and cancels any pending retry. Idempotent.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	m.apply(EventDeactivate)
	m.mu.Unlock()
	m.flush()
}

// apply runs one transition and its action. mu must be held.
func (m *Manager) apply(ev Event) {
	prev := m.state
	next, action := Transition(prev, ev)
	if next != prev {
		m.state = next
		m.log.Debug().
			Stringer("from", prev).
			Stringer("to", next).
			Stringer("event", ev).
			Msg("push state changed")
		subs := append([]func(State){}, m.stateSubs...)
		m.queue = append(m.queue, func() {
			for _, fn := range subs {
				fn(next)
			}
		})
	}

	switch action {
	case ActionDial:
		m.dialLocked()
	case ActionScheduleRetry:
		m.scheduleRetryLocked()
	case ActionClose:
		m.closeLocked()
		m.backoff.Reset()
	}
}

func (m *Manager) dialLocked() {
	m.gen++
	m.attempts++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx, m.gen, m.token)
}

func (m *Manager) scheduleRetryLocked() {
	if m.retry != nil {
		return
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.ReconnectMaxDelay
		if delay <= 0 {
			delay = DefaultReconnectDelay
		}
	}
	holder := &retryTimer{}
	holder.t = m.clock.AfterFunc(delay, func() { m.retryFired(holder) })
	m.retry = holder
	m.log.Info().Dur("delay", delay).Msg("push reconnect scheduled")
}

func (m *Manager) retryFired(holder *retryTimer) {
	m.mu.Lock()
	if m.retry != holder {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.apply(EventRetry)
	m.mu.Unlock()
	m.flush()
}

// closeLocked tears down the live connection and any pending retry and
// invalidates callbacks from the old connection.
func (m *Manager) closeLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.retry != nil {
		m.retry.t.Stop()
		m.retry = nil
	}
}

func (m *Manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, gen uint64, token string) {
	conn, err := m.establish(ctx, token)
	if err != nil {
		m.fail(gen, nil, err)
		return
	}
	if !m.opened(gen, conn) {
		_ = conn.Close()
		return
	}
	m.readLoop(gen, conn)
}

func (m *Manager) pushURL(token string) (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", errors.Wrap(err, "invalid push url")
	}
	q := u.Query()
	q.Set(protocol.TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// establish dials and completes the connected/subscribe/subscribed exchange.
func (m *Manager) establish(ctx context.Context, token string) (Conn, error) {
	endpoint, err := m.pushURL(token)
	if err != nil {
		return nil, syncerr.Protocol(err)
	}

	hctx := ctx
	if m.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := m.dialer.Dial(hctx, endpoint)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(hctx, func() { _ = conn.Close() })
	err = handshake(conn)
	if !stop() {
		if err == nil {
			err = syncerr.Transient(errors.Wrap(hctx.Err(), "push handshake"))
		}
		return nil, err
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func handshake(conn Conn) error {
	env, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	switch env.Type {
	case protocol.TypeConnected:
	case protocol.TypeError:
		return frameError(env)
	default:
		return syncerr.Protocol(errors.Errorf("expected connected frame, got %s", env.Type))
	}

	frame, err := protocol.Encode(protocol.TypeSubscribe, protocol.SubscribeFrame{Destination: protocol.UserMessagesDestination})
	if err != nil {
		return syncerr.Protocol(err)
	}
	if err := conn.WriteMessage(frame); err != nil {
		return syncerr.Transient(errors.Wrap(err, "send subscribe"))
	}

	for {
		env, err := readEnvelope(conn)
		if err != nil {
			return err
		}
		switch env.Type {
		case protocol.TypeSubscribed:
			var sub protocol.SubscribeFrame
			if err := env.DecodeData(&sub); err != nil {
				return syncerr.Protocol(err)
			}
			if sub.Destination == protocol.UserMessagesDestination {
				return nil
			}
		case protocol.TypeError:
			return frameError(env)
		}
	}
}

func readEnvelope(conn Conn) (protocol.Envelope, error) {
	data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, syncerr.Transient(errors.Wrap(err, "read push frame"))
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return protocol.Envelope{}, syncerr.Protocol(err)
	}
	return env, nil
}

func frameError(env protocol.Envelope) error {
	var ef protocol.ErrorFrame
	if err := env.DecodeData(&ef); err != nil {
		return syncerr.Protocol(err)
	}
	if ef.Code == protocol.ErrCodeUnauthorized {
		return syncerr.Protocol(errors.Wrap(syncerr.ErrUnauthorized, ef.Message))
	}
	return syncerr.Protocol(errors.Errorf("server error %s: %s", ef.Code, ef.Message))
}

func (m *Manager) opened(gen uint64, conn Conn) bool {
	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.backoff.Reset()
	m.apply(EventOpened)
	m.mu.Unlock()
	m.flush()
	m.log.Info().Str("destination", protocol.UserMessagesDestination).Msg("push subscribed")
	return true
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		env, err := readEnvelope(conn)
		if err != nil {
			m.fail(gen, conn, err)
			return
		}

		switch env.Type {
		case protocol.TypeMessage:
			var msg chat.Message
			err := env.DecodeData(&msg)
			if err == nil {
				err = msg.Validate()
			}
			if err != nil {
				m.report(gen, errors.Wrap(syncerr.Protocol(err), "dropped push message"))
				continue
			}
			m.deliver(gen, msg)
		case protocol.TypeError:
			m.fail(gen, conn, frameError(env))
			return
		case protocol.TypeConnected, protocol.TypeSubscribed:
		default:
			m.log.Debug().Str("type", string(env.Type)).Msg("ignoring push frame")
		}
	}
}

func (m *Manager) deliver(gen uint64, msg chat.Message) {
	m.mu.Lock()
	if gen != m.gen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, func() {
		m.mu.Lock()
		sink := m.sink
		m.mu.Unlock()
		if sink != nil {
			sink(msg)
		}
	})
	m.mu.Unlock()
	m.flush()
}

// report raises a protocol error event without changing state.
func (m *Manager) report(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.enqueueErrorLocked(err)
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) enqueueErrorLocked(err error) {
	m.log.Warn().Err(err).Msg("push protocol error")
	subs := append([]func(error){}, m.errSubs...)
	m.queue = append(m.queue, func() {
		for _, fn := range subs {
			fn(err)
		}
	})
}

// fail handles the end of an attempt. Only the current generation counts;
// the generation is bumped so each attempt fails at most once.
func (m *Manager) fail(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.gen++

	if errors.Is(err, syncerr.ErrProtocol) {
		m.enqueueErrorLocked(err)
	} else {
		m.log.Info().Err(err).Stringer("state", m.state).Msg("push connection lost")
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	} else if conn != nil {
		_ = conn.Close()
	}
	m.apply(EventFailed)
	m.mu.Unlock()
	m.flush()
}
