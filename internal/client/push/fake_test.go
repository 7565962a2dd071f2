package push

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhouzirui/z-chat/internal/model/chat"
	"github.com/zhouzirui/z-chat/internal/protocol"
)

// fakeConn plays the server side of the push protocol in memory.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []protocol.Envelope
}

func newFakeConn() *fakeConn {
	c := &fakeConn{inbound: make(chan []byte, 64), closed: make(chan struct{})}
	c.sendFrame(protocol.TypeConnected, protocol.ConnectedFrame{UserID: "1", SessionID: "s"})
	return c
}

func (c *fakeConn) sendFrame(t protocol.FrameType, data any) {
	raw, err := protocol.Encode(t, data)
	if err != nil {
		panic(err)
	}
	c.inbound <- raw
}

func (c *fakeConn) sendRaw(raw string) { c.inbound <- []byte(raw) }

func (c *fakeConn) sendMessage(m chat.Message) { c.sendFrame(protocol.TypeMessage, m) }

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	default:
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, env)
	c.mu.Unlock()

	if env.Type == protocol.TypeSubscribe {
		var sub protocol.SubscribeFrame
		_ = json.Unmarshal(env.Data, &sub)
		c.sendFrame(protocol.TypeSubscribed, sub)
	}
	return nil
}

// drop simulates the network going away.
func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out fakeConns, or fails with err when set.
type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recorder collects everything a manager reports.
type recorder struct {
	mu       sync.Mutex
	states   []State
	errs     []error
	messages []chat.Message
}

func (r *recorder) state(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) err(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) message(m chat.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]State, []error, []chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State{}, r.states...), append([]error{}, r.errs...), append([]chat.Message{}, r.messages...)
}
