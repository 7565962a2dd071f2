// Package history retrieves a channel's past messages over the synchronous API.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/client/api"
	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// PageSource fetches one page of history. *api.Client implements it.
type PageSource interface {
	Messages(ctx context.Context, channelID chat.ID, req api.PageRequest) (chat.Page[chat.Message], error)
}

// Options tune a Client.
type Options struct {
	// PageSize is sent as the size parameter. Zero uses the server default.
	PageSize int
	// MaxPages bounds how many pages one Fetch walks.
	MaxPages int
	// Retries is how many extra attempts a transient failure gets.
	Retries uint64
	// RetryDelay is the pause before a retry.
	RetryDelay time.Duration
}

// DefaultOptions retries a transient failure once.
func DefaultOptions() Options {
	return Options{PageSize: 50, MaxPages: 100, Retries: 1, RetryDelay: 500 * time.Millisecond}
}

// Client loads full channel histories.
type Client struct {
	src  PageSource
	opts Options
	log  zerolog.Logger
}

// New creates a history client.
func New(src PageSource, opts Options) *Client {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultOptions().MaxPages
	}
	return &Client{
		src:  src,
		opts: opts,
		log:  log.Logger.With().Str("component", "history").Logger(),
	}
}

// Fetch returns every message of a channel in creation order. Transient
// failures are retried per Options; ErrUnauthorized and ErrNotFound are
// returned at once.
func (c *Client) Fetch(ctx context.Context, channelID chat.ID) ([]chat.Message, error) {
	var out []chat.Message
	op := func() error {
		msgs, err := c.fetchAll(ctx, channelID)
		if err != nil {
			if syncerr.Retryable(err) && ctx.Err() == nil {
				c.log.Warn().Err(err).Str("channel_id", channelID.String()).Msg("history fetch failed, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		out = msgs
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), c.opts.Retries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

// WithLogger replaces the component logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l
	return c
}

func (c *Client) fetchAll(ctx context.Context, channelID chat.ID) ([]chat.Message, error) {
	var all []chat.Message
	complete := false
	for page := 0; page < c.opts.MaxPages; page++ {
		p, err := c.src.Messages(ctx, channelID, api.PageRequest{Page: page, Size: c.opts.PageSize})
		if err != nil {
			return nil, errors.Wrapf(err, "fetch history of channel %s", channelID)
		}
		all = append(all, p.Content...)

		if p.Last || len(p.Content) == 0 || p.TotalPages <= p.Number+1 {
			complete = true
			break
		}
	}
	if !complete {
		c.log.Warn().
			Str("channel_id", channelID.String()).
			Int("max_pages", c.opts.MaxPages).
			Int("messages", len(all)).
			Msg("history truncated at page limit")
	}
	return normalize(channelID, all, c.log), nil
}

// normalize fills a missing channel id, drops messages that belong
// elsewhere and sorts by sequence hint when every message carries one.
func normalize(channelID chat.ID, msgs []chat.Message, logger zerolog.Logger) []chat.Message {
	out := make([]chat.Message, 0, len(msgs))
	ordered := true
	for _, m := range msgs {
		if m.ChannelID.IsZero() {
			m.ChannelID = channelID
		}
		if m.ChannelID != channelID || m.ID.IsZero() {
			logger.Warn().
				Str("channel_id", channelID.String()).
				Str("message_id", m.ID.String()).
				Str("message_channel", m.ChannelID.String()).
				Msg("dropping history entry")
			continue
		}
		if m.Seq == 0 {
			ordered = false
		}
		out = append(out, m)
	}
	if ordered {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	}
	return out
}
