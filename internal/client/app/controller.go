// Package app is the session controller. It owns the channel directory and
// serializes every change to it on one event-loop goroutine: push deliveries,
// history completions, connection changes and user commands all arrive as
// work items on the loop. The host consumes typed events from Events.
package app

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/client/directory"
	"github.com/zhouzirui/z-chat/internal/client/push"
	"github.com/zhouzirui/z-chat/internal/client/router"
	"github.com/zhouzirui/z-chat/internal/client/sender"
	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// ErrStopped is returned by commands once Run has returned.
var ErrStopped = errors.New("session controller stopped")

// ProfileSource loads the directory. *api.Client implements it.
type ProfileSource interface {
	Me(ctx context.Context) (chat.Profile, error)
}

// HistoryFetcher loads a channel's history. *history.Client implements it.
type HistoryFetcher interface {
	Fetch(ctx context.Context, channelID chat.ID) ([]chat.Message, error)
}

// PushConnection is the subset of *push.Manager the controller drives.
type PushConnection interface {
	Activate(token string)
	Deactivate()
	OnMessage(func(chat.Message))
	OnStateChange(func(push.State))
	OnProtocolError(func(error))
}

// Credentials holds the session token. *session.Holder implements it.
type Credentials interface {
	Token() string
	Clear()
}

// Deps are the controller's collaborators.
type Deps struct {
	Profile     ProfileSource
	History     HistoryFetcher
	Push        PushConnection
	Sender      *sender.Sender
	Credentials Credentials
	// EventBuffer sizes the Events channel. Zero means 256.
	EventBuffer int
	Logger      *zerolog.Logger
}

// Controller runs one user session.
type Controller struct {
	profile ProfileSource
	history HistoryFetcher
	push    PushConnection
	sender  *sender.Sender
	creds   Credentials
	log     zerolog.Logger

	events chan Event
	inbox  *inbox
	done   chan struct{}

	// Owned by the loop goroutine.
	ctx           context.Context
	dir           *directory.Directory
	router        *router.Router
	state         push.State
	everConnected bool
	tornDown      bool
}

// New wires a controller. Nothing happens until Run.
func New(deps Deps) *Controller {
	logger := log.Logger.With().Str("component", "session").Logger()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	buf := deps.EventBuffer
	if buf <= 0 {
		buf = 256
	}

	dir := directory.New()
	c := &Controller{
		profile: deps.Profile,
		history: deps.History,
		push:    deps.Push,
		sender:  deps.Sender,
		creds:   deps.Credentials,
		log:     logger,
		events:  make(chan Event, buf),
		inbox:   newInbox(),
		done:    make(chan struct{}),
		dir:     dir,
		router:  router.New(dir),
	}

	c.push.OnMessage(func(m chat.Message) {
		c.inbox.push(func() { c.route(m) })
	})
	c.push.OnStateChange(func(s push.State) {
		c.inbox.push(func() { c.connectionChanged(s) })
	})
	c.push.OnProtocolError(func(err error) {
		c.inbox.push(func() { c.protocolError(err) })
	})
	return c
}

// Events delivers host-facing events. The host must keep reading it while
// Run is active.
func (c *Controller) Events() <-chan Event { return c.events }

// Stats exposes the router counters.
func (c *Controller) Stats() *router.Stats { return c.router.Stats() }

// Run loads the directory, selects the first channel, opens the push
// connection and processes work until ctx ends. It returns the error that
// ended the session: ctx.Err() or a wrapped ErrUnauthorized.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.ctx = ctx

	var runErr error
	c.inbox.push(func() { c.start() })

	for {
		select {
		case <-ctx.Done():
			c.push.Deactivate()
			if runErr != nil {
				return runErr
			}
			return ctx.Err()
		case <-c.inbox.signal:
			for _, fn := range c.inbox.drain() {
				fn()
			}
			if c.tornDown && runErr == nil {
				runErr = errors.Wrap(syncerr.ErrUnauthorized, "session ended")
				return runErr
			}
		}
	}
}

func (c *Controller) start() {
	token := c.creds.Token()
	if token == "" {
		c.teardown(errors.Wrap(syncerr.ErrUnauthorized, "no session token"))
		return
	}

	go func() {
		profile, err := c.profile.Me(c.ctx)
		c.inbox.push(func() { c.profileLoaded(token, profile, err) })
	}()
}

func (c *Controller) profileLoaded(token string, profile chat.Profile, err error) {
	if err != nil {
		if syncerr.IsAuth(err) {
			c.teardown(err)
			return
		}
		c.notice("failed to load channels", err)
		// The push connection still starts; a later Reload can fill the directory.
		c.push.Activate(token)
		return
	}

	c.log.Info().Str("user", profile.Username).Int("channels", len(profile.Channels)).Msg("profile loaded")
	if err := c.dir.Load(profile.Channels); err != nil {
		c.notice("no channels available", err)
	}
	c.emit(ChannelsLoaded{Channels: c.dir.Channels()})

	if chs := c.dir.Channels(); len(chs) > 0 {
		c.selectChannel(chs[0].ID)
	}
	c.push.Activate(token)
}

func (c *Controller) selectChannel(id chat.ID) error {
	ch, err := c.dir.Select(id)
	if err != nil {
		return err
	}
	c.fetch(ch)
	return nil
}

// fetch loads history off the loop and applies it back on the loop.
func (c *Controller) fetch(ch chat.Channel) {
	ctx := c.ctx
	go func() {
		msgs, err := c.history.Fetch(ctx, ch.ID)
		c.inbox.push(func() { c.historyLoaded(ch, msgs, err) })
	}()
}

func (c *Controller) historyLoaded(ch chat.Channel, msgs []chat.Message, err error) {
	if c.tornDown {
		return
	}
	if err != nil && syncerr.IsAuth(err) {
		c.teardown(err)
		return
	}
	if !c.dir.IsActive(ch.ID) {
		c.log.Info().
			Str("channel_id", ch.ID.String()).
			Bool("failed", err != nil).
			Msg("discarding history for inactive channel")
		return
	}
	if err != nil {
		c.notice(fmt.Sprintf("failed to load messages for %s", ch.Name), err)
		return
	}

	view, ok := c.dir.View(ch.ID)
	if !ok {
		return
	}
	view.Replace(msgs)
	if last, ok := view.Last(); ok {
		view.MarkRendered(last.ID)
	}
	c.emit(HistoryLoaded{Channel: ch, Messages: view.Messages()})
}

func (c *Controller) route(m chat.Message) {
	if c.tornDown {
		return
	}
	switch c.router.Route(m) {
	case router.AppendedToActive:
		if view, ok := c.dir.View(m.ChannelID); ok {
			view.MarkRendered(m.ID)
		}
		c.emit(Appended{ChannelID: m.ChannelID, Message: m})
	case router.StoredBackground:
		name := m.ChannelName
		if ch, ok := c.dir.Channel(m.ChannelID); ok {
			name = ch.Name
		}
		c.emit(BackgroundMessage{ChannelName: name, Message: m})
	}
}

func (c *Controller) connectionChanged(s push.State) {
	prev := c.state
	c.state = s
	c.emit(ConnectionStateChanged{State: s})

	if s != push.Connected || c.tornDown {
		return
	}
	if c.everConnected && prev != push.Connected {
		// Messages sent while the link was down are only in history.
		if ch, ok := c.dir.Active(); ok {
			c.log.Info().Str("channel_id", ch.ID.String()).Msg("refetching history after reconnect")
			c.fetch(ch)
		}
	}
	c.everConnected = true
}

func (c *Controller) protocolError(err error) {
	if syncerr.IsAuth(err) {
		c.teardown(err)
		return
	}
	c.notice("push connection problem", err)
}

// teardown ends the session after an authentication failure.
func (c *Controller) teardown(reason error) {
	if c.tornDown {
		return
	}
	c.tornDown = true
	c.log.Warn().Err(reason).Msg("session invalid")
	c.push.Deactivate()
	c.creds.Clear()
	_ = c.dir.Load(nil)
	c.emit(AuthInvalid{Reason: reason})
}

func (c *Controller) notice(text string, err error) {
	c.log.Warn().Err(err).Msg(text)
	c.emit(Notice{Text: text, Err: err})
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	c.inbox.push(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Select makes a channel active and starts loading its history. Messages
// of the previously active channel keep accumulating in its view.
func (c *Controller) Select(ctx context.Context, id chat.ID) error {
	return c.call(ctx, func() error {
		if c.tornDown {
			return syncerr.ErrUnauthorized
		}
		return c.selectChannel(id)
	})
}

// Reload refreshes the directory from the profile endpoint, e.g. after a
// membership change. The active channel is kept when it still exists.
func (c *Controller) Reload(ctx context.Context) error {
	profile, err := c.profile.Me(ctx)
	if err != nil {
		if syncerr.IsAuth(err) {
			c.inbox.push(func() { c.teardown(err) })
		}
		return err
	}
	return c.call(ctx, func() error {
		if c.tornDown {
			return syncerr.ErrUnauthorized
		}
		active, hadActive := c.dir.Active()
		loadErr := c.dir.Load(profile.Channels)
		c.emit(ChannelsLoaded{Channels: c.dir.Channels()})
		if hadActive {
			if err := c.selectChannel(active.ID); err == nil {
				return loadErr
			}
		}
		if chs := c.dir.Channels(); len(chs) > 0 {
			_ = c.selectChannel(chs[0].ID)
		}
		return loadErr
	})
}

// Active returns the selected channel.
func (c *Controller) Active(ctx context.Context) (chat.Channel, bool, error) {
	var (
		ch chat.Channel
		ok bool
	)
	err := c.call(ctx, func() error {
		ch, ok = c.dir.Active()
		return nil
	})
	return ch, ok, err
}

// Channels returns the directory contents.
func (c *Controller) Channels(ctx context.Context) ([]chat.Channel, error) {
	var chs []chat.Channel
	err := c.call(ctx, func() error {
		chs = c.dir.Channels()
		return nil
	})
	return chs, err
}

// Messages returns a copy of a channel's view.
func (c *Controller) Messages(ctx context.Context, id chat.ID) ([]chat.Message, error) {
	var msgs []chat.Message
	err := c.call(ctx, func() error {
		view, ok := c.dir.View(id)
		if !ok {
			return errors.Wrapf(syncerr.ErrNotFound, "channel %s", id)
		}
		msgs = view.Messages()
		return nil
	})
	return msgs, err
}

// Send posts content to the active channel. The message is not added
// locally; it arrives through the push connection.
func (c *Controller) Send(ctx context.Context, content string) error {
	ch, ok, err := c.Active(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(syncerr.ErrNotFound, "no channel selected")
	}
	err = c.sender.Send(ctx, ch.ID, content)
	if err != nil && syncerr.IsAuth(err) {
		c.inbox.push(func() { c.teardown(err) })
	}
	return err
}

// Draft exposes the send pipeline's draft store.
func (c *Controller) Draft() *sender.Draft { return c.sender.Draft() }
