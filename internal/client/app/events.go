package app

import (
	"github.com/zhouzirui/z-chat/internal/client/push"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Event is something the host should react to.
type Event interface {
	event()
}

// ChannelsLoaded carries the directory after a profile load.
type ChannelsLoaded struct {
	Channels []chat.Channel
}

// HistoryLoaded means the active channel's view was replaced with fresh history.
type HistoryLoaded struct {
	Channel  chat.Channel
	Messages []chat.Message
}

// Appended is a new message in the active channel.
type Appended struct {
	ChannelID chat.ID
	Message   chat.Message
}

// BackgroundMessage is a new message in a channel that is not selected.
type BackgroundMessage struct {
	ChannelName string
	Message     chat.Message
}

// ConnectionStateChanged mirrors the push connection state.
type ConnectionStateChanged struct {
	State push.State
}

// AuthInvalid means the session was torn down and the user must log in again.
type AuthInvalid struct {
	Reason error
}

// Notice is a dismissible, non-fatal failure.
type Notice struct {
	Text string
	Err  error
}

func (ChannelsLoaded) event()         {}
func (HistoryLoaded) event()          {}
func (Appended) event()               {}
func (BackgroundMessage) event()      {}
func (ConnectionStateChanged) event() {}
func (AuthInvalid) event()            {}
func (Notice) event()                 {}
