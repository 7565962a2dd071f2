package push

import (
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
	"github.com/zhouzirui/z-chat/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestManager(t *testing.T) (*Manager, *fakeDialer, *ManualClock, *recorder) {
	t.Helper()
	dialer := &fakeDialer{}
	clock := NewManualClock(time.Unix(0, 0))
	rec := &recorder{}

	cfg := DefaultConfig("ws://chat.test/api/ws")
	cfg.HandshakeTimeout = 0
	m := NewManager(cfg, WithDialer(dialer), WithClock(clock))
	m.OnStateChange(rec.state)
	m.OnProtocolError(rec.err)
	m.OnMessage(rec.message)
	t.Cleanup(m.Deactivate)
	return m, dialer, clock, rec
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, waitFor, tick, "want state %s, have %s", want, m.State())
}

func msg(id, channel string) chat.Message {
	return chat.Message{ID: chat.ID(id), ChannelID: chat.ID(channel), ChannelName: "general", Content: "hi " + id}
}

func TestActivateConnectsAndSubscribes(t *testing.T) {
	m, dialer, _, rec := newTestManager(t)

	m.Activate("tok en")
	waitState(t, m, Connected)

	require.Equal(t, 1, dialer.dials())
	assert.Equal(t, "ws://chat.test/api/ws?token=tok+en", dialer.urls[0])

	conn := dialer.last()
	conn.mu.Lock()
	require.Len(t, conn.written, 1)
	assert.Equal(t, protocol.TypeSubscribe, conn.written[0].Type)
	assert.JSONEq(t, `{"destination":"/user/topic/messages"}`, string(conn.written[0].Data))
	conn.mu.Unlock()

	conn.sendMessage(msg("1", "10"))
	require.Eventually(t, func() bool {
		_, _, msgs := rec.snapshot()
		return len(msgs) == 1
	}, waitFor, tick)

	states, errs, _ := rec.snapshot()
	assert.Equal(t, []State{Connecting, Connected}, states)
	assert.Empty(t, errs)
}

func TestActivateIsNoOpUnlessDisconnected(t *testing.T) {
	m, dialer, _, _ := newTestManager(t)

	m.Activate("tok")
	waitState(t, m, Connected)
	m.Activate("other")
	m.Activate("other")

	assert.Equal(t, 1, dialer.dials())
	assert.Equal(t, 1, m.Attempts())
}

func TestReconnectAfterDropKeepsSink(t *testing.T) {
	m, dialer, clock, rec := newTestManager(t)

	m.Activate("tok")
	waitState(t, m, Connected)
	first := dialer.last()

	first.Close()
	waitState(t, m, Reconnecting)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(4 * time.Second)
	assert.Equal(t, 1, dialer.dials())
	assert.Equal(t, Reconnecting, m.State())

	clock.Advance(time.Second)
	waitState(t, m, Connected)
	require.Equal(t, 2, dialer.dials())

	second := dialer.last()
	require.NotSame(t, first, second)
	second.sendMessage(msg("2", "10"))

	require.Eventually(t, func() bool {
		_, _, msgs := rec.snapshot()
		return len(msgs) == 1 && msgs[0].ID == "2"
	}, waitFor, tick)

	states, _, _ := rec.snapshot()
	assert.Equal(t, []State{Connecting, Connected, Reconnecting, Connecting, Connected}, states)
}

func TestHandshakeRejectionRaisesOneErrorPerAttempt(t *testing.T) {
	m, dialer, clock, rec := newTestManager(t)
	dialer.setErr(syncerr.Protocol(syncerr.NewAPIError(http.StatusUnauthorized, 401, "bad token")))

	m.Activate("expired")
	waitState(t, m, Reconnecting)
	require.Eventually(t, func() bool {
		_, errs, _ := rec.snapshot()
		return len(errs) == 1
	}, waitFor, tick)

	clock.Advance(4999 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dials())
	_, errs, _ := rec.snapshot()
	assert.Len(t, errs, 1)

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool {
		_, errs, _ := rec.snapshot()
		return len(errs) == 2
	}, waitFor, tick)
	waitState(t, m, Reconnecting)
	assert.Equal(t, 2, dialer.dials())
	assert.Equal(t, 1, clock.Pending())

	_, errs, _ = rec.snapshot()
	for _, err := range errs {
		assert.True(t, errors.Is(err, syncerr.ErrProtocol))
		assert.True(t, errors.Is(err, syncerr.ErrUnauthorized))
	}
}

func TestDeactivateSuppressesReconnect(t *testing.T) {
	m, dialer, clock, _ := newTestManager(t)

	m.Activate("tok")
	waitState(t, m, Connected)
	dialer.last().Close()
	waitState(t, m, Reconnecting)

	m.Deactivate()
	m.Deactivate()
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, 0, clock.Pending())

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, dialer.dials())
	assert.Equal(t, Disconnected, m.State())
}

func TestDeactivateClosesLiveConnection(t *testing.T) {
	m, dialer, _, rec := newTestManager(t)

	m.Activate("tok")
	waitState(t, m, Connected)
	conn := dialer.last()

	m.Deactivate()
	assert.True(t, conn.isClosed())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Disconnected, m.State())
	states, _, _ := rec.snapshot()
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, states)
}

func TestOnMessageReplacesSink(t *testing.T) {
	m, dialer, _, rec := newTestManager(t)
	m.Activate("tok")
	waitState(t, m, Connected)

	second := &recorder{}
	m.OnMessage(second.message)
	dialer.last().sendMessage(msg("5", "10"))

	require.Eventually(t, func() bool {
		_, _, msgs := second.snapshot()
		return len(msgs) == 1
	}, waitFor, tick)
	_, _, msgs := rec.snapshot()
	assert.Empty(t, msgs)
}

func TestMalformedMessageIsReportedAndDropped(t *testing.T) {
	m, dialer, _, rec := newTestManager(t)
	m.Activate("tok")
	waitState(t, m, Connected)
	conn := dialer.last()

	conn.sendRaw(`{"type":"message","data":{"content":"no id"}}`)
	conn.sendMessage(msg("7", "10"))

	require.Eventually(t, func() bool {
		_, errs, msgs := rec.snapshot()
		return len(errs) == 1 && len(msgs) == 1
	}, waitFor, tick)
	assert.Equal(t, Connected, m.State())
}

func TestUnauthorizedErrorFrameReconnects(t *testing.T) {
	m, dialer, clock, rec := newTestManager(t)
	m.Activate("tok")
	waitState(t, m, Connected)

	dialer.last().sendFrame(protocol.TypeError, protocol.ErrorFrame{Code: protocol.ErrCodeUnauthorized, Message: "token revoked"})
	waitState(t, m, Reconnecting)

	_, errs, _ := rec.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, syncerr.IsAuth(errs[0]))
	assert.Equal(t, 1, clock.Pending())
}

func TestExponentialBackOff(t *testing.T) {
	b := NewBackOff(StrategyExponential, time.Second, 4*time.Second)
	first := b.NextBackOff()
	assert.InDelta(t, float64(time.Second), float64(first), float64(200*time.Millisecond))
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, b.NextBackOff(), 4*time.Second+800*time.Millisecond)
	}

	fixed := NewBackOff("", 0, 0)
	assert.Equal(t, DefaultReconnectDelay, fixed.NextBackOff())
	assert.Equal(t, DefaultReconnectDelay, fixed.NextBackOff())
}
