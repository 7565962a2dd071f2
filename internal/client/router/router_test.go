package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/internal/client/directory"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

func setup(t *testing.T) (*Router, *directory.Directory) {
	t.Helper()
	dir := directory.New()
	require.NoError(t, dir.Load([]chat.Channel{{ID: "1", Name: "general"}, {ID: "2", Name: "random"}}))
	_, err := dir.Select("1")
	require.NoError(t, err)
	return New(dir), dir
}

func msg(id, channel string, seq int64) chat.Message {
	return chat.Message{ID: chat.ID(id), ChannelID: chat.ID(channel), Content: id, Seq: seq}
}

func TestRouteActiveAndBackground(t *testing.T) {
	r, dir := setup(t)

	assert.Equal(t, AppendedToActive, r.Route(msg("a", "1", 0)))
	assert.Equal(t, StoredBackground, r.Route(msg("b", "2", 0)))

	v, _ := dir.View("2")
	assert.Equal(t, 1, v.Len())
	assert.Equal(t, int64(1), r.Stats().Appended.Load())
	assert.Equal(t, int64(1), r.Stats().Background.Load())
}

func TestRouteDuplicateIsNoOp(t *testing.T) {
	r, dir := setup(t)
	v, _ := dir.View("1")
	v.Replace([]chat.Message{msg("a", "1", 1)})

	assert.Equal(t, Duplicate, r.Route(msg("a", "1", 1)))
	assert.Equal(t, AppendedToActive, r.Route(msg("b", "1", 2)))
	assert.Equal(t, Duplicate, r.Route(msg("b", "1", 2)))
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, int64(2), r.Stats().Duplicates.Load())
}

func TestRouteAfterSwitchingChannel(t *testing.T) {
	r, dir := setup(t)
	_, err := dir.Select("2")
	require.NoError(t, err)

	assert.Equal(t, StoredBackground, r.Route(msg("a", "1", 0)))
	assert.Equal(t, AppendedToActive, r.Route(msg("b", "2", 0)))
}

func TestRouteUnknownChannelIsAdopted(t *testing.T) {
	r, dir := setup(t)
	m := msg("x", "9", 0)
	m.ChannelName = "ops"

	assert.Equal(t, StoredBackground, r.Route(m))
	ch, ok := dir.Channel("9")
	require.True(t, ok)
	assert.Equal(t, "ops", ch.Name)
}

func TestRouteInvalid(t *testing.T) {
	r, _ := setup(t)
	assert.Equal(t, Invalid, r.Route(chat.Message{ChannelID: "1"}))
	assert.Equal(t, Invalid, r.Route(chat.Message{ID: "1"}))
	assert.Equal(t, int64(2), r.Stats().Invalid.Load())
}

func TestSequenceGapIsCountedNotReordered(t *testing.T) {
	r, dir := setup(t)

	r.Route(msg("a", "1", 1))
	r.Route(msg("c", "1", 3))
	r.Route(msg("b", "1", 2))

	assert.Equal(t, int64(2), r.Stats().SeqGaps.Load())
	v, _ := dir.View("1")
	var ids []chat.ID
	for _, m := range v.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []chat.ID{"a", "c", "b"}, ids)
}

func TestRepeatedSeqIsInOrder(t *testing.T) {
	r, _ := setup(t)

	r.Route(msg("a", "1", 5))
	r.Route(msg("b", "1", 5))
	r.Route(msg("c", "1", 6))

	assert.Equal(t, int64(0), r.Stats().SeqGaps.Load())
}

func TestIDDerivedSeqIsNotAGap(t *testing.T) {
	r, dir := setup(t)

	// Message ids are global, so channel 1 sees 10 then 12 with 11 in channel 2.
	for _, raw := range []string{
		`{"id":10,"channel":{"id":1,"name":"general"},"content":"a"}`,
		`{"id":11,"channel":{"id":2,"name":"random"},"content":"b"}`,
		`{"id":12,"channel":{"id":1,"name":"general"},"content":"c"}`,
	} {
		var m chat.Message
		require.NoError(t, json.Unmarshal([]byte(raw), &m))
		require.True(t, m.SeqFromID)
		r.Route(m)
	}

	assert.Equal(t, int64(0), r.Stats().SeqGaps.Load())
	v, _ := dir.View("1")
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, int64(0), v.LastSeq())
}
