package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-chat/internal/model/chat"
)

type channelRecord struct {
	channel  chat.Channel
	members  []chat.ID
	messages []chat.Message
	lastSeq  int64
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	channels      map[chat.ID]*channelRecord
	order         []chat.ID
	nextChannelID int64
	nextMessageID int64
	now           func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[chat.ID]*channelRecord),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateChannel(_ context.Context, name string) (chat.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return chat.Channel{}, ErrChannelName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChannelID++
	ch := chat.Channel{ID: chat.NumericID(s.nextChannelID), Name: name}
	s.channels[ch.ID] = &channelRecord{channel: ch}
	s.order = append(s.order, ch.ID)
	return ch, nil
}

func (s *MemoryStore) Channel(_ context.Context, id chat.ID) (chat.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[id]
	if !ok {
		return chat.Channel{}, ErrChannelNotFound
	}
	return rec.channel, nil
}

func (s *MemoryStore) ChannelsOf(_ context.Context, userID chat.ID) ([]chat.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []chat.Channel{}
	for _, id := range s.order {
		rec := s.channels[id]
		if containsID(rec.members, userID) {
			out = append(out, rec.channel)
		}
	}
	return out, nil
}

func (s *MemoryStore) Members(_ context.Context, channelID chat.ID) ([]chat.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return append([]chat.ID{}, rec.members...), nil
}

func (s *MemoryStore) AddMember(_ context.Context, channelID, userID chat.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	if !containsID(rec.members, userID) {
		rec.members = append(rec.members, userID)
	}
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, channelID, userID chat.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	for i, id := range rec.members {
		if id == userID {
			rec.members = append(rec.members[:i], rec.members[i+1:]...)
			return nil
		}
	}
	return ErrNotMember
}

func (s *MemoryStore) IsMember(_ context.Context, channelID, userID chat.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[channelID]
	if !ok {
		return false, ErrChannelNotFound
	}
	return containsID(rec.members, userID), nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.channels[msg.ChannelID]
	if !ok {
		return chat.Message{}, ErrChannelNotFound
	}
	s.nextMessageID++
	rec.lastSeq++
	msg.ID = chat.NumericID(s.nextMessageID)
	msg.Seq = rec.lastSeq
	msg.ChannelName = rec.channel.Name
	msg.CreatedAt = s.now().UTC()
	rec.messages = append(rec.messages, msg)
	return msg, nil
}

func (s *MemoryStore) Messages(_ context.Context, channelID chat.ID, q PageQuery) (chat.Page[chat.Message], error) {
	q = q.normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[channelID]
	if !ok {
		return chat.Page[chat.Message]{}, ErrChannelNotFound
	}

	ordered := append([]chat.Message{}, rec.messages...)
	if q.Descending {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq > ordered[j].Seq })
	}
	total := int64(len(ordered))
	start := q.Page * q.Size
	if start > len(ordered) {
		start = len(ordered)
	}
	end := start + q.Size
	if end > len(ordered) {
		end = len(ordered)
	}
	return buildPage(ordered[start:end], total, q), nil
}

func (s *MemoryStore) AllMessages(_ context.Context, channelID chat.ID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return append([]chat.Message{}, rec.messages...), nil
}

func (s *MemoryStore) Close() error { return nil }

func containsID(ids []chat.ID, id chat.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
