// Package sender submits outbound messages. A successful send only clears
// the draft: the message shows up in a view once the server pushes it back.
package sender

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Poster submits a message. *api.Client implements it.
type Poster interface {
	PostMessage(ctx context.Context, channelID chat.ID, content string) (chat.Message, error)
}

// Draft is the text being composed, per channel.
type Draft struct {
	mu   sync.Mutex
	text map[chat.ID]string
}

// NewDraft returns an empty draft store.
func NewDraft() *Draft {
	return &Draft{text: make(map[chat.ID]string)}
}

// Set replaces the draft of a channel.
func (d *Draft) Set(channelID chat.ID, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == "" {
		delete(d.text, channelID)
		return
	}
	d.text[channelID] = text
}

// Get returns the draft of a channel.
func (d *Draft) Get(channelID chat.ID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text[channelID]
}

// clearIf empties the draft only if it still holds the sent text, so typing
// that happened during the request survives.
func (d *Draft) clearIf(channelID chat.ID, sent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.text[channelID] == sent {
		delete(d.text, channelID)
	}
}

// Sender is the outbound pipeline.
type Sender struct {
	poster Poster
	draft  *Draft
	log    zerolog.Logger
}

// New creates a sender. A nil draft gets a fresh one.
func New(poster Poster, draft *Draft) *Sender {
	if draft == nil {
		draft = NewDraft()
	}
	return &Sender{
		poster: poster,
		draft:  draft,
		log:    log.Logger.With().Str("component", "sender").Logger(),
	}
}

// Draft exposes the draft store.
func (s *Sender) Draft() *Draft { return s.draft }

// Send posts content to a channel. Blank content fails with ErrEmptyContent
// before any request. On success the draft is cleared; on failure it is
// kept and the error is returned for the user to retry.
func (s *Sender) Send(ctx context.Context, channelID chat.ID, content string) error {
	if strings.TrimSpace(content) == "" {
		return syncerr.ErrEmptyContent
	}
	if channelID.IsZero() {
		return errors.Wrap(syncerr.ErrNotFound, "no channel selected")
	}

	s.draft.Set(channelID, content)
	created, err := s.poster.PostMessage(ctx, channelID, content)
	if err != nil {
		s.log.Warn().Err(err).Str("channel_id", channelID.String()).Msg("send failed")
		return errors.Wrap(err, "send message")
	}

	s.draft.clearIf(channelID, content)
	s.log.Debug().
		Str("channel_id", channelID.String()).
		Str("message_id", created.ID.String()).
		Msg("message accepted")
	return nil
}
