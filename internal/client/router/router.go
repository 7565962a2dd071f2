// Package router places inbound push messages into channel views.
package router

import (
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/client/directory"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Outcome says what Route did with a message.
type Outcome int

const (
	// AppendedToActive means the message joined the selected channel's view.
	AppendedToActive Outcome = iota + 1
	// StoredBackground means it joined another channel's view.
	StoredBackground
	// Duplicate means the id was already in the view; nothing changed.
	Duplicate
	// Invalid means the message lacked an id or channel and was dropped.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case AppendedToActive:
		return "appended"
	case StoredBackground:
		return "background"
	case Duplicate:
		return "duplicate"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Stats are running counters, safe to read from any goroutine.
type Stats struct {
	Appended   atomic.Int64
	Background atomic.Int64
	Duplicates atomic.Int64
	Invalid    atomic.Int64
	// SeqGaps counts messages whose sequence hint skipped ahead or went back.
	// Hints derived from message ids are never checked.
	SeqGaps atomic.Int64
}

// Router routes against a directory. Route must be called from the goroutine
// that owns the directory.
type Router struct {
	dir   *directory.Directory
	log   zerolog.Logger
	stats Stats
}

// New creates a router over dir.
func New(dir *directory.Directory) *Router {
	return &Router{
		dir: dir,
		log: log.Logger.With().Str("component", "router").Logger(),
	}
}

// WithLogger replaces the component logger.
func (r *Router) WithLogger(l zerolog.Logger) *Router {
	r.log = l
	return r
}

// Stats exposes the counters.
func (r *Router) Stats() *Stats { return &r.stats }

// Route appends msg to its channel's view in arrival order. Sequence gaps
// are logged and counted, never reordered.
func (r *Router) Route(msg chat.Message) Outcome {
	if err := msg.Validate(); err != nil {
		r.stats.Invalid.Add(1)
		r.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("dropping message")
		return Invalid
	}

	view, ok := r.dir.View(msg.ChannelID)
	if !ok {
		view = r.dir.Adopt(chat.Channel{ID: msg.ChannelID, Name: msg.ChannelName})
		r.log.Info().
			Str("channel_id", msg.ChannelID.String()).
			Str("channel", msg.ChannelName).
			Msg("message for channel not in directory")
	}

	if view.Contains(msg.ID) {
		r.stats.Duplicates.Add(1)
		r.log.Debug().Str("message_id", msg.ID.String()).Msg("duplicate message")
		return Duplicate
	}

	r.checkSeq(view, msg)
	view.Append(msg)

	if r.dir.IsActive(msg.ChannelID) {
		r.stats.Appended.Add(1)
		return AppendedToActive
	}
	r.stats.Background.Add(1)
	return StoredBackground
}

func (r *Router) checkSeq(view *directory.View, msg chat.Message) {
	if msg.Seq == 0 || msg.SeqFromID {
		return
	}
	last := view.LastSeq()
	if last == 0 || msg.Seq == last || msg.Seq == last+1 {
		return
	}
	r.stats.SeqGaps.Add(1)
	r.log.Warn().
		Str("channel_id", msg.ChannelID.String()).
		Str("message_id", msg.ID.String()).
		Int64("expected_seq", last+1).
		Int64("seq", msg.Seq).
		Msg("sequence gap")
}
