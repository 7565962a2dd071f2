package chat

import (
	"context"
	"errors"

	"github.com/zhouzirui/z-chat/internal/model/chat"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotMember       = errors.New("user is not a member of the channel")
	ErrEmptyContent    = errors.New("message content is required")
	ErrContentTooLong  = errors.New("message content is too long")
	ErrUserNotFound    = errors.New("user not found")
	ErrChannelName     = errors.New("channel name is required")
)

// MaxContentLength bounds a message body in characters.
const MaxContentLength = 4000

// PageQuery selects a page of a channel's history.
type PageQuery struct {
	Page       int
	Size       int
	Descending bool
}

// Page sizes accepted by History.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func (q PageQuery) normalized() PageQuery {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}
	return q
}

// Store persists channels, memberships and messages.
type Store interface {
	CreateChannel(ctx context.Context, name string) (chat.Channel, error)
	Channel(ctx context.Context, id chat.ID) (chat.Channel, error)
	ChannelsOf(ctx context.Context, userID chat.ID) ([]chat.Channel, error)
	Members(ctx context.Context, channelID chat.ID) ([]chat.ID, error)
	AddMember(ctx context.Context, channelID, userID chat.ID) error
	RemoveMember(ctx context.Context, channelID, userID chat.ID) error
	IsMember(ctx context.Context, channelID, userID chat.ID) (bool, error)
	// AppendMessage assigns ID, Seq and CreatedAt and stores the message.
	AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error)
	Messages(ctx context.Context, channelID chat.ID, q PageQuery) (chat.Page[chat.Message], error)
	AllMessages(ctx context.Context, channelID chat.ID) ([]chat.Message, error)
	Close() error
}

func buildPage(all []chat.Message, total int64, q PageQuery) chat.Page[chat.Message] {
	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(q.Size) - 1) / int64(q.Size))
	}
	if all == nil {
		all = []chat.Message{}
	}
	return chat.Page[chat.Message]{
		Content:       all,
		Number:        q.Page,
		Size:          q.Size,
		TotalElements: total,
		TotalPages:    totalPages,
		Last:          q.Page >= totalPages-1,
	}
}
