// Package directory caches the user's channels, the active selection and a
// View per channel. A Directory is not safe for concurrent use; the session
// controller owns it and serializes every call.
package directory

import (
	"github.com/pkg/errors"

	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Directory is the channel cache.
type Directory struct {
	channels []chat.Channel
	byID     map[chat.ID]int
	views    map[chat.ID]*View
	active   chat.ID
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		byID:  make(map[chat.ID]int),
		views: make(map[chat.ID]*View),
	}
}

// Load replaces the directory wholesale: channels, views and selection.
// An empty list leaves the directory empty and returns ErrEmptyDirectory.
func (d *Directory) Load(channels []chat.Channel) error {
	d.channels = nil
	d.byID = make(map[chat.ID]int, len(channels))
	d.views = make(map[chat.ID]*View, len(channels))
	d.active = ""

	for _, ch := range channels {
		if ch.ID.IsZero() {
			continue
		}
		if _, dup := d.byID[ch.ID]; dup {
			continue
		}
		d.add(ch)
	}
	if len(d.channels) == 0 {
		return syncerr.ErrEmptyDirectory
	}
	return nil
}

func (d *Directory) add(ch chat.Channel) *View {
	d.byID[ch.ID] = len(d.channels)
	d.channels = append(d.channels, ch)
	v := NewView(ch.ID)
	d.views[ch.ID] = v
	return v
}

// Select makes a channel active.
func (d *Directory) Select(id chat.ID) (chat.Channel, error) {
	i, ok := d.byID[id]
	if !ok {
		return chat.Channel{}, errors.Wrapf(syncerr.ErrNotFound, "channel %s", id)
	}
	d.active = id
	return d.channels[i], nil
}

// Active returns the selected channel, if any.
func (d *Directory) Active() (chat.Channel, bool) {
	if d.active.IsZero() {
		return chat.Channel{}, false
	}
	return d.channels[d.byID[d.active]], true
}

// IsActive reports whether id is the selected channel.
func (d *Directory) IsActive(id chat.ID) bool {
	return !d.active.IsZero() && d.active == id
}

// Channels returns the channels in load order.
func (d *Directory) Channels() []chat.Channel {
	out := make([]chat.Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// Channel looks up a channel by id.
func (d *Directory) Channel(id chat.ID) (chat.Channel, bool) {
	i, ok := d.byID[id]
	if !ok {
		return chat.Channel{}, false
	}
	return d.channels[i], true
}

// Len returns the number of channels.
func (d *Directory) Len() int { return len(d.channels) }

// View returns the view of a known channel.
func (d *Directory) View(id chat.ID) (*View, bool) {
	v, ok := d.views[id]
	return v, ok
}

// Adopt returns the view for ch, adding ch to the directory first when it
// is unknown. Pushes for channels joined after the last Load land here.
func (d *Directory) Adopt(ch chat.Channel) *View {
	if v, ok := d.views[ch.ID]; ok {
		return v
	}
	if ch.Name == "" {
		ch.Name = ch.ID.String()
	}
	return d.add(ch)
}
