package push

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/internal/config"
	"github.com/zhouzirui/z-chat/internal/model/chat"
	"github.com/zhouzirui/z-chat/internal/protocol"
	"github.com/zhouzirui/z-chat/internal/service/auth"
)

// client is one upgraded push connection. readPump runs on the handler
// goroutine; writePump owns every write and the final Close.
type client struct {
	conn   *websocket.Conn
	sess   auth.Session
	id     string
	cfg    config.PushConfig
	broker Subscriber
	log    zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	last      []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	subCancel context.CancelFunc
}

func newClient(conn *websocket.Conn, sess auth.Session, id string, cfg config.PushConfig, broker Subscriber, logger zerolog.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		conn:   conn,
		sess:   sess,
		id:     id,
		cfg:    cfg,
		broker: broker,
		log:    logger,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// closeWithError makes the error frame the last thing written before the
// connection closes.
func (c *client) closeWithError(code, message string) {
	frame, err := protocol.Encode(protocol.TypeError, protocol.ErrorFrame{Code: code, Message: message})
	if err != nil {
		c.close()
		return
	}
	c.closeOnce.Do(func() {
		c.last = frame
		c.cancel()
		close(c.done)
	})
}

// enqueue hands a frame to writePump. A client that cannot keep up is
// dropped; it will reconnect and refetch.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("send buffer full, dropping slow push client")
		c.close()
		return false
	}
}

func (c *client) enqueueFrame(t protocol.FrameType, data any) bool {
	frame, err := protocol.Encode(t, data)
	if err != nil {
		c.log.Error().Err(err).Str("frame", string(t)).Msg("encode frame")
		return false
	}
	return c.enqueue(frame)
}

func (c *client) sendError(code, message string) {
	c.enqueueFrame(protocol.TypeError, protocol.ErrorFrame{Code: code, Message: message})
}

func (c *client) extendReadDeadline() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.Debug().Err(err).Msg("set read deadline")
	}
}

func (c *client) setupReadConnection() {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	c.conn.SetPingHandler(func(data string) error {
		c.extendReadDeadline()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		}
		return nil
	})
}

// handleReadError logs according to how the connection ended.
func (c *client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.cfg.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Debug().Msg("push client disconnected")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.log.Debug().Err(err).Msg("push connection closed")
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.log.Info().Msg("push client missed heartbeats")
			return
		}
		c.log.Info().Err(err).Msg("push read error")
	}
}

func (c *client) readPump() {
	defer c.close()
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.extendReadDeadline()
		c.handleFrame(raw)
	}
}

func (c *client) handleFrame(raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		c.sendError(protocol.ErrCodeInvalidFrame, err.Error())
		return
	}

	switch env.Type {
	case protocol.TypeSubscribe:
		var sub protocol.SubscribeFrame
		if err := env.DecodeData(&sub); err != nil {
			c.sendError(protocol.ErrCodeInvalidFrame, err.Error())
			return
		}
		if sub.Destination != protocol.UserMessagesDestination {
			c.sendError(protocol.ErrCodeInvalidDestination, "unknown destination "+sub.Destination)
			return
		}
		if err := c.subscribe(); err != nil {
			c.log.Error().Err(err).Msg("subscribe to user topic")
			c.sendError(protocol.ErrCodeInternal, "subscription failed")
			return
		}
		c.enqueueFrame(protocol.TypeSubscribed, protocol.SubscribeFrame{Destination: sub.Destination})
	case protocol.TypeUnsubscribe:
		c.unsubscribe()
	default:
		c.sendError(protocol.ErrCodeInvalidFrame, "unexpected frame type "+string(env.Type))
	}
}

// subscribe starts forwarding the user's topic. Subscribing twice keeps the
// existing subscription.
func (c *client) subscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(c.ctx)
	msgs, err := c.broker.Subscribe(ctx, c.sess.User.ID)
	if err != nil {
		cancel()
		return err
	}
	c.subCancel = cancel

	go func() {
		for msg := range msgs {
			if !c.forward(msg) {
				cancel()
				return
			}
		}
	}()
	return nil
}

func (c *client) forward(msg chat.Message) bool {
	c.log.Debug().Str("message_id", msg.ID.String()).Str("channel_id", msg.ChannelID.String()).Msg("push message")
	return c.enqueueFrame(protocol.TypeMessage, msg)
}

func (c *client) unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subCancel != nil {
		c.subCancel()
		c.subCancel = nil
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Debug().Err(err).Msg("close push connection")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			if c.last != nil {
				c.write(websocket.TextMessage, c.last)
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

func (c *client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.log.Debug().Err(err).Msg("push write failed")
		return false
	}
	return true
}
