package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/model/account"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Publisher delivers a confirmed message to one user's private topic.
type Publisher interface {
	Publish(ctx context.Context, userID chat.ID, msg chat.Message) error
}

// Service implements channel membership and messaging on top of a Store.
type Service struct {
	store    Store
	accounts account.Store
	pub      Publisher
	log      zerolog.Logger
}

// NewService wires the chat service.
func NewService(store Store, accounts account.Store, pub Publisher) *Service {
	return &Service{
		store:    store,
		accounts: accounts,
		pub:      pub,
		log:      log.Logger.With().Str("component", "chat").Logger(),
	}
}

// Seed creates the given channels with their members, looked up by username.
// A seed whose first member already belongs to a channel of that name is
// skipped, so seeding a persistent store twice is harmless.
func (s *Service) Seed(ctx context.Context, seeds []account.SeedChannel) error {
	for _, seed := range seeds {
		if exists, err := s.seeded(ctx, seed); err != nil {
			return err
		} else if exists {
			continue
		}
		ch, err := s.store.CreateChannel(ctx, seed.Name)
		if err != nil {
			return errors.Wrapf(err, "seed channel %s", seed.Name)
		}
		for _, username := range seed.Members {
			acc, ok := s.accounts.FindByUsername(username)
			if !ok {
				return errors.Wrapf(ErrUserNotFound, "seed member %s", username)
			}
			if err := s.store.AddMember(ctx, ch.ID, acc.ID); err != nil {
				return errors.Wrapf(err, "seed member %s", username)
			}
		}
		s.log.Debug().Str("channel", ch.Name).Str("channel_id", ch.ID.String()).Msg("seeded channel")
	}
	return nil
}

func (s *Service) seeded(ctx context.Context, seed account.SeedChannel) (bool, error) {
	if len(seed.Members) == 0 {
		return false, nil
	}
	acc, ok := s.accounts.FindByUsername(seed.Members[0])
	if !ok {
		return false, nil
	}
	channels, err := s.store.ChannelsOf(ctx, acc.ID)
	if err != nil {
		return false, errors.Wrapf(err, "check seed channel %s", seed.Name)
	}
	for _, ch := range channels {
		if ch.Name == seed.Name {
			return true, nil
		}
	}
	return false, nil
}

// Profile returns the user with the channels they belong to.
func (s *Service) Profile(ctx context.Context, user chat.User) (chat.Profile, error) {
	channels, err := s.store.ChannelsOf(ctx, user.ID)
	if err != nil {
		return chat.Profile{}, err
	}
	return chat.Profile{User: user, Channels: channels}, nil
}

// CreateChannel creates a channel with its creator as the first member.
func (s *Service) CreateChannel(ctx context.Context, creator chat.User, name string) (chat.Channel, error) {
	ch, err := s.store.CreateChannel(ctx, name)
	if err != nil {
		return chat.Channel{}, err
	}
	if err := s.store.AddMember(ctx, ch.ID, creator.ID); err != nil {
		return chat.Channel{}, err
	}
	return ch, nil
}

func (s *Service) requireMember(ctx context.Context, channelID, userID chat.ID) error {
	ok, err := s.store.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// Channel returns a channel with its members. Only members may look.
func (s *Service) Channel(ctx context.Context, viewer chat.User, channelID chat.ID) (chat.ChannelWithMembers, error) {
	ch, err := s.store.Channel(ctx, channelID)
	if err != nil {
		return chat.ChannelWithMembers{}, err
	}
	if err := s.requireMember(ctx, channelID, viewer.ID); err != nil {
		return chat.ChannelWithMembers{}, err
	}
	ids, err := s.store.Members(ctx, channelID)
	if err != nil {
		return chat.ChannelWithMembers{}, err
	}
	members := make([]chat.User, 0, len(ids))
	for _, id := range ids {
		if acc, ok := s.accounts.FindByID(id); ok {
			members = append(members, acc.User())
		} else {
			members = append(members, chat.User{ID: id})
		}
	}
	return chat.ChannelWithMembers{Channel: ch, Members: members}, nil
}

// AddMember adds userID to a channel the actor belongs to.
func (s *Service) AddMember(ctx context.Context, actor chat.User, channelID, userID chat.ID) error {
	if err := s.requireMember(ctx, channelID, actor.ID); err != nil {
		return err
	}
	if _, ok := s.accounts.FindByID(userID); !ok {
		return ErrUserNotFound
	}
	return s.store.AddMember(ctx, channelID, userID)
}

// RemoveMember removes userID from a channel the actor belongs to.
func (s *Service) RemoveMember(ctx context.Context, actor chat.User, channelID, userID chat.ID) error {
	if err := s.requireMember(ctx, channelID, actor.ID); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, channelID, userID)
}

// History returns one page of a channel's messages.
func (s *Service) History(ctx context.Context, viewer chat.User, channelID chat.ID, q PageQuery) (chat.Page[chat.Message], error) {
	if err := s.requireMember(ctx, channelID, viewer.ID); err != nil {
		return chat.Page[chat.Message]{}, err
	}
	return s.store.Messages(ctx, channelID, q)
}

// AllMessages returns a channel's whole history in creation order.
func (s *Service) AllMessages(ctx context.Context, viewer chat.User, channelID chat.ID) ([]chat.Message, error) {
	if err := s.requireMember(ctx, channelID, viewer.ID); err != nil {
		return nil, err
	}
	return s.store.AllMessages(ctx, channelID)
}

// PostMessage stores a message and publishes it to every member's private
// topic, the author included. Publish failures are logged; the message is
// already confirmed and reachable through history.
func (s *Service) PostMessage(ctx context.Context, author chat.User, channelID chat.ID, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return chat.Message{}, ErrContentTooLong
	}
	if err := s.requireMember(ctx, channelID, author.ID); err != nil {
		return chat.Message{}, err
	}

	msg, err := s.store.AppendMessage(ctx, chat.Message{
		ChannelID:  channelID,
		AuthorID:   author.ID,
		AuthorName: author.Username,
		Content:    content,
	})
	if err != nil {
		return chat.Message{}, err
	}

	members, err := s.store.Members(ctx, channelID)
	if err != nil {
		s.log.Error().Err(err).Str("channel_id", channelID.String()).Msg("list members for delivery")
		return msg, nil
	}
	for _, member := range members {
		if err := s.pub.Publish(ctx, member, msg); err != nil {
			s.log.Error().Err(err).
				Str("user_id", member.String()).
				Str("message_id", msg.ID.String()).
				Msg("publish failed")
		}
	}
	return msg, nil
}
