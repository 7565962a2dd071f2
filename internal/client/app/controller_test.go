package app

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/internal/client/push"
	"github.com/zhouzirui/z-chat/internal/client/sender"
	"github.com/zhouzirui/z-chat/internal/client/session"
	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

var (
	general = chat.Channel{ID: "1", Name: "general"}
	random  = chat.Channel{ID: "2", Name: "random"}
)

func message(id string, ch chat.Channel, content string) chat.Message {
	return chat.Message{ID: chat.ID(id), ChannelID: ch.ID, ChannelName: ch.Name, AuthorID: "7", AuthorName: "alice", Content: content}
}

type fakeAPI struct {
	mu      sync.Mutex
	profile chat.Profile
	meErr   error
	history map[chat.ID][]chat.Message
	gates   map[chat.ID]chan struct{}
	fetches map[chat.ID]int
	posted  []string
	postErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		profile: chat.Profile{User: chat.User{ID: "7", Username: "alice"}, Channels: []chat.Channel{general, random}},
		history: map[chat.ID][]chat.Message{},
		gates:   map[chat.ID]chan struct{}{},
		fetches: map[chat.ID]int{},
	}
}

func (f *fakeAPI) Me(context.Context) (chat.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, f.meErr
}

func (f *fakeAPI) Fetch(ctx context.Context, id chat.ID) ([]chat.Message, error) {
	f.mu.Lock()
	f.fetches[id]++
	gate := f.gates[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message{}, f.history[id]...), nil
}

func (f *fakeAPI) PostMessage(_ context.Context, id chat.ID, content string) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return chat.Message{}, f.postErr
	}
	f.posted = append(f.posted, content)
	return chat.Message{ID: "srv", ChannelID: id, Content: content}, nil
}

func (f *fakeAPI) fetchCount(id chat.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

// fakePush stands in for *push.Manager and lets the test drive callbacks.
type fakePush struct {
	mu          sync.Mutex
	sink        func(chat.Message)
	onState     []func(push.State)
	onErr       []func(error)
	tokens      []string
	deactivated int
}

func (p *fakePush) Activate(token string) {
	p.mu.Lock()
	p.tokens = append(p.tokens, token)
	p.mu.Unlock()
}

func (p *fakePush) Deactivate() {
	p.mu.Lock()
	p.deactivated++
	p.mu.Unlock()
}

func (p *fakePush) OnMessage(fn func(chat.Message))   { p.sink = fn }
func (p *fakePush) OnStateChange(fn func(push.State)) { p.onState = append(p.onState, fn) }
func (p *fakePush) OnProtocolError(fn func(error))    { p.onErr = append(p.onErr, fn) }

func (p *fakePush) deliver(m chat.Message) { p.sink(m) }

func (p *fakePush) setState(s push.State) {
	for _, fn := range p.onState {
		fn(s)
	}
}

func (p *fakePush) fail(err error) {
	for _, fn := range p.onErr {
		fn(err)
	}
}

func (p *fakePush) activations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.tokens...)
}

type harness struct {
	t      *testing.T
	ctrl   *Controller
	api    *fakeAPI
	push   *fakePush
	creds  *session.Holder
	cancel context.CancelFunc
	runErr chan error
}

func start(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	p := &fakePush{}
	creds := session.NewHolder("")
	creds.Set(session.Session{Token: "tok"})

	ctrl := New(Deps{
		Profile:     api,
		History:     api,
		Push:        p,
		Sender:      sender.New(api, nil),
		Credentials: creds,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, ctrl: ctrl, api: api, push: p, creds: creds, cancel: cancel, runErr: make(chan error, 1)}
	go func() { h.runErr <- ctrl.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

// next returns the next event, skipping connection state changes unless asked for.
func (h *harness) next() Event {
	h.t.Helper()
	for {
		select {
		case ev := <-h.ctrl.Events():
			if _, ok := ev.(ConnectionStateChanged); ok {
				continue
			}
			return ev
		case <-time.After(2 * time.Second):
			h.t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func (h *harness) expectNone() {
	h.t.Helper()
	select {
	case ev := <-h.ctrl.Events():
		if _, ok := ev.(ConnectionStateChanged); !ok {
			h.t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) messages(id chat.ID) []chat.Message {
	h.t.Helper()
	msgs, err := h.ctrl.Messages(context.Background(), id)
	require.NoError(h.t, err)
	return msgs
}

func TestEndToEndScenario(t *testing.T) {
	api := newFakeAPI()
	m1 := message("m1", general, "hello")
	api.history[general.ID] = []chat.Message{m1}
	h := start(t, api)

	loaded, ok := h.next().(ChannelsLoaded)
	require.True(t, ok)
	assert.Equal(t, []chat.Channel{general, random}, loaded.Channels)

	hist, ok := h.next().(HistoryLoaded)
	require.True(t, ok)
	assert.Equal(t, general, hist.Channel)
	assert.Equal(t, []chat.Message{m1}, hist.Messages)
	assert.Equal(t, []string{"tok"}, h.push.activations())

	m2 := message("m2", general, "hi there")
	h.push.deliver(m2)
	appended, ok := h.next().(Appended)
	require.True(t, ok)
	assert.Equal(t, general.ID, appended.ChannelID)
	assert.Equal(t, m2, appended.Message)

	h.push.deliver(m2)
	h.expectNone()
	assert.Len(t, h.messages(general.ID), 2)

	m3 := message("m3", random, "psst")
	h.push.deliver(m3)
	bg, ok := h.next().(BackgroundMessage)
	require.True(t, ok)
	assert.Equal(t, "random", bg.ChannelName)
	assert.Equal(t, m3, bg.Message)

	assert.Len(t, h.messages(general.ID), 2)
	assert.Len(t, h.messages(random.ID), 1)
	assert.Equal(t, int64(1), h.ctrl.Stats().Duplicates.Load())
}

func TestHistoryDuplicatesArePushDeduplicated(t *testing.T) {
	api := newFakeAPI()
	m1 := message("m1", general, "hello")
	api.history[general.ID] = []chat.Message{m1}
	h := start(t, api)
	h.next()
	h.next()

	h.push.deliver(m1)
	h.expectNone()
	assert.Len(t, h.messages(general.ID), 1)
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.gates[general.ID] = gate
	api.history[general.ID] = []chat.Message{message("m1", general, "late")}
	api.history[random.ID] = []chat.Message{message("r1", random, "fresh")}
	h := start(t, api)
	h.next()

	require.Eventually(t, func() bool { return api.fetchCount(general.ID) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.ctrl.Select(context.Background(), random.ID))

	hist, ok := h.next().(HistoryLoaded)
	require.True(t, ok)
	assert.Equal(t, random, hist.Channel)

	close(gate)
	h.expectNone()
	assert.Empty(t, h.messages(general.ID))
}

func TestSelectUnknownChannel(t *testing.T) {
	h := start(t, newFakeAPI())
	h.next()
	h.next()

	err := h.ctrl.Select(context.Background(), "99")
	assert.True(t, errors.Is(err, syncerr.ErrNotFound))
	active, ok, err := h.ctrl.Active(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, general, active)
}

func TestReconnectRefetchesActiveChannel(t *testing.T) {
	api := newFakeAPI()
	h := start(t, api)
	h.next()
	h.next()

	h.push.setState(push.Connecting)
	h.push.setState(push.Connected)
	h.expectNone()
	assert.Equal(t, 1, api.fetchCount(general.ID))

	api.mu.Lock()
	api.history[general.ID] = []chat.Message{message("missed", general, "while offline")}
	api.mu.Unlock()

	h.push.setState(push.Reconnecting)
	h.push.setState(push.Connecting)
	h.push.setState(push.Connected)

	hist, ok := h.next().(HistoryLoaded)
	require.True(t, ok)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, chat.ID("missed"), hist.Messages[0].ID)
	assert.Equal(t, 2, api.fetchCount(general.ID))
}

func TestConnectionStateEvents(t *testing.T) {
	h := start(t, newFakeAPI())
	h.next()
	h.next()

	h.push.setState(push.Connecting)
	for {
		select {
		case ev := <-h.ctrl.Events():
			if sc, ok := ev.(ConnectionStateChanged); ok {
				assert.Equal(t, push.Connecting, sc.State)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no state event")
		}
	}
}

func TestPushUnauthorizedTearsDownSession(t *testing.T) {
	h := start(t, newFakeAPI())
	h.next()
	h.next()

	h.push.fail(syncerr.Protocol(syncerr.NewAPIError(http.StatusUnauthorized, 401, "expired")))

	inv, ok := h.next().(AuthInvalid)
	require.True(t, ok)
	assert.True(t, errors.Is(inv.Reason, syncerr.ErrUnauthorized))
	assert.Equal(t, "", h.creds.Token())

	select {
	case err := <-h.runErr:
		assert.True(t, errors.Is(err, syncerr.ErrUnauthorized))
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	h.push.mu.Lock()
	assert.Equal(t, 1, h.push.deactivated)
	h.push.mu.Unlock()
}

func TestNonAuthProtocolErrorIsNotice(t *testing.T) {
	h := start(t, newFakeAPI())
	h.next()
	h.next()

	h.push.fail(syncerr.Protocol(errors.New("garbled frame")))
	notice, ok := h.next().(Notice)
	require.True(t, ok)
	assert.True(t, errors.Is(notice.Err, syncerr.ErrProtocol))
}

func TestProfileUnauthorized(t *testing.T) {
	api := newFakeAPI()
	api.meErr = syncerr.NewAPIError(http.StatusUnauthorized, 401, "")
	h := start(t, api)

	_, ok := h.next().(AuthInvalid)
	require.True(t, ok)
	assert.Empty(t, h.push.activations())
}

func TestEmptyDirectoryIsANotice(t *testing.T) {
	api := newFakeAPI()
	api.profile.Channels = nil
	h := start(t, api)

	notice, ok := h.next().(Notice)
	require.True(t, ok)
	assert.True(t, errors.Is(notice.Err, syncerr.ErrEmptyDirectory))
	loaded, ok := h.next().(ChannelsLoaded)
	require.True(t, ok)
	assert.Empty(t, loaded.Channels)

	require.Eventually(t, func() bool { return len(h.push.activations()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestSendDoesNotAppendLocally(t *testing.T) {
	api := newFakeAPI()
	h := start(t, api)
	h.next()
	h.next()

	h.ctrl.Draft().Set(general.ID, "typed")
	require.NoError(t, h.ctrl.Send(context.Background(), "typed"))
	assert.Equal(t, "", h.ctrl.Draft().Get(general.ID))
	assert.Empty(t, h.messages(general.ID))
	assert.Equal(t, []string{"typed"}, api.posted)

	assert.True(t, errors.Is(h.ctrl.Send(context.Background(), "  "), syncerr.ErrEmptyContent))
}

func TestSendUnauthorizedTearsDown(t *testing.T) {
	api := newFakeAPI()
	api.postErr = syncerr.NewAPIError(http.StatusUnauthorized, 401, "")
	h := start(t, api)
	h.next()
	h.next()

	err := h.ctrl.Send(context.Background(), "hello")
	assert.True(t, errors.Is(err, syncerr.ErrUnauthorized))
	_, ok := h.next().(AuthInvalid)
	assert.True(t, ok)
}
