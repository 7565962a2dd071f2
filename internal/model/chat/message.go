package chat

import (
	"encoding/json"
	"time"
)

// Message is a confirmed chat message: one the server returned from history
// or delivered over the push connection.
type Message struct {
	ID          ID
	ChannelID   ID
	ChannelName string
	AuthorID    ID
	AuthorName  string
	Content     string
	// Seq is the server-assigned, per-channel non-decreasing sequence hint.
	Seq int64
	// SeqFromID is set when Seq was taken from a numeric message id. Such
	// ids are global across channels, so they order messages but say
	// nothing about gaps.
	SeqFromID bool
	CreatedAt time.Time
}

// wireMessage is the JSON shape shared by the REST API and push payloads:
// channel and author are nested references. The flat channelId/authorId
// fields are accepted on input for older producers.
type wireMessage struct {
	ID        ID         `json:"id"`
	Channel   *Channel   `json:"channel,omitempty"`
	Author    *User      `json:"author,omitempty"`
	ChannelID ID         `json:"channelId,omitempty"`
	AuthorID  ID         `json:"authorId,omitempty"`
	Content   string     `json:"content"`
	Seq       int64      `json:"seq,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// MarshalJSON writes the nested wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:      m.ID,
		Channel: &Channel{ID: m.ChannelID, Name: m.ChannelName},
		Author:  &User{ID: m.AuthorID, Username: m.AuthorName},
		Content: m.Content,
	}
	if !m.SeqFromID {
		w.Seq = m.Seq
	}
	if !m.CreatedAt.IsZero() {
		ts := m.CreatedAt.UTC()
		w.CreatedAt = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads either the nested or the flat wire shape. When no
// sequence hint is present, an integer message id stands in for it since
// database ids are assigned in creation order, and SeqFromID is set.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Message{
		ID:        w.ID,
		ChannelID: w.ChannelID,
		AuthorID:  w.AuthorID,
		Content:   w.Content,
		Seq:       w.Seq,
	}
	if w.Channel != nil {
		out.ChannelID = w.Channel.ID
		out.ChannelName = w.Channel.Name
	}
	if w.Author != nil {
		if !w.Author.ID.IsZero() {
			out.AuthorID = w.Author.ID
		}
		out.AuthorName = w.Author.Username
	}
	if w.CreatedAt != nil {
		out.CreatedAt = *w.CreatedAt
	}
	if out.Seq == 0 {
		if n, ok := out.ID.Int64(); ok {
			out.Seq = n
			out.SeqFromID = true
		}
	}

	*m = out
	return nil
}

// Validate reports whether the message carries the fields routing depends on.
func (m Message) Validate() error {
	switch {
	case m.ID.IsZero():
		return ErrMissingMessageID
	case m.ChannelID.IsZero():
		return ErrMissingChannelID
	}
	return nil
}
