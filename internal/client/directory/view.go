package directory

import "github.com/zhouzirui/z-chat/internal/model/chat"

// View is the client's copy of one channel's confirmed messages in display
// order. Message ids are unique within a view.
type View struct {
	channelID    chat.ID
	messages     []chat.Message
	ids          map[chat.ID]struct{}
	lastRendered chat.ID
	lastSeq      int64
}

// NewView creates an empty view for a channel.
func NewView(channelID chat.ID) *View {
	return &View{channelID: channelID, ids: make(map[chat.ID]struct{})}
}

// ChannelID returns the channel the view belongs to.
func (v *View) ChannelID() chat.ID { return v.channelID }

// Replace discards the current contents and installs msgs, keeping the
// first occurrence of any repeated id.
func (v *View) Replace(msgs []chat.Message) {
	v.messages = make([]chat.Message, 0, len(msgs))
	v.ids = make(map[chat.ID]struct{}, len(msgs))
	v.lastSeq = 0
	for _, m := range msgs {
		if _, dup := v.ids[m.ID]; dup {
			continue
		}
		v.ids[m.ID] = struct{}{}
		v.messages = append(v.messages, m)
		v.trackSeq(m)
	}
}

// Append adds m at the end unless its id is already present.
func (v *View) Append(m chat.Message) bool {
	if _, dup := v.ids[m.ID]; dup {
		return false
	}
	v.ids[m.ID] = struct{}{}
	v.messages = append(v.messages, m)
	v.trackSeq(m)
	return true
}

func (v *View) trackSeq(m chat.Message) {
	if !m.SeqFromID && m.Seq > v.lastSeq {
		v.lastSeq = m.Seq
	}
}

// Contains reports whether a message id is in the view.
func (v *View) Contains(id chat.ID) bool {
	_, ok := v.ids[id]
	return ok
}

// Len returns the number of messages.
func (v *View) Len() int { return len(v.messages) }

// Messages returns a copy of the ordered message list.
func (v *View) Messages() []chat.Message {
	out := make([]chat.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Last returns the newest message.
func (v *View) Last() (chat.Message, bool) {
	if len(v.messages) == 0 {
		return chat.Message{}, false
	}
	return v.messages[len(v.messages)-1], true
}

// LastSeq is the highest server-assigned sequence hint seen. Hints taken
// from message ids are not counted.
func (v *View) LastSeq() int64 { return v.lastSeq }

// MarkRendered records the id of the newest message the host has shown.
func (v *View) MarkRendered(id chat.ID) { v.lastRendered = id }

// LastRendered returns the id recorded by MarkRendered.
func (v *View) LastRendered() chat.ID { return v.lastRendered }

// Unrendered returns the messages after the last rendered one. When nothing
// was rendered yet, every message is returned.
func (v *View) Unrendered() []chat.Message {
	if v.lastRendered.IsZero() {
		return v.Messages()
	}
	for i := len(v.messages) - 1; i >= 0; i-- {
		if v.messages[i].ID == v.lastRendered {
			out := make([]chat.Message, len(v.messages)-i-1)
			copy(out, v.messages[i+1:])
			return out
		}
	}
	return v.Messages()
}
