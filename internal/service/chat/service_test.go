package chat_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/z-chat/internal/model/account"
	"github.com/zhouzirui/z-chat/internal/model/chat"
	chatsvc "github.com/zhouzirui/z-chat/internal/service/chat"
)

type recordingPublisher struct {
	mu        sync.Mutex
	delivered map[chat.ID][]chat.Message
}

func (p *recordingPublisher) Publish(_ context.Context, userID chat.ID, msg chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delivered == nil {
		p.delivered = make(map[chat.ID][]chat.Message)
	}
	p.delivered[userID] = append(p.delivered[userID], msg)
	return nil
}

type fixture struct {
	svc      *chatsvc.Service
	pub      *recordingPublisher
	alice    chat.User
	bob      chat.User
	carol    chat.User
	general  chat.Channel
	random   chat.Channel
	accounts *account.MemoryStore
}

func newFixture(t *testing.T, store chatsvc.Store) *fixture {
	t.Helper()
	accounts, err := account.NewMemoryStoreWithCost(account.Seed(), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("accounts err: %v", err)
	}
	pub := &recordingPublisher{}
	svc := chatsvc.NewService(store, accounts, pub)
	ctx := context.Background()
	if err := svc.Seed(ctx, account.SeedChannels()); err != nil {
		t.Fatalf("Seed err: %v", err)
	}

	user := func(name string) chat.User {
		acc, ok := accounts.FindByUsername(name)
		if !ok {
			t.Fatalf("missing seed account %s", name)
		}
		return acc.User()
	}
	f := &fixture{svc: svc, pub: pub, alice: user("alice"), bob: user("bob"), carol: user("carol"), accounts: accounts}

	profile, err := svc.Profile(ctx, f.alice)
	if err != nil || len(profile.Channels) != 2 {
		t.Fatalf("Profile: %+v, %v", profile, err)
	}
	f.general, f.random = profile.Channels[0], profile.Channels[1]
	return f
}

func forEachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newFixture(t, chatsvc.NewMemoryStore()))
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := chatsvc.NewSQLiteStore("file::memory:?_foreign_keys=on")
		if err != nil {
			t.Fatalf("NewSQLiteStore err: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		fn(t, newFixture(t, store))
	})
}

func TestPostMessagePublishesToEveryMember(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		msg, err := f.svc.PostMessage(ctx, f.alice, f.random.ID, "  hello  ")
		if err != nil {
			t.Fatalf("PostMessage err: %v", err)
		}
		if msg.Content != "hello" || msg.Seq != 1 || msg.ChannelName != "random" || msg.AuthorName != "alice" {
			t.Fatalf("unexpected message: %+v", msg)
		}

		if got := len(f.pub.delivered[f.alice.ID]); got != 1 {
			t.Fatalf("alice deliveries: %d", got)
		}
		if got := len(f.pub.delivered[f.bob.ID]); got != 1 {
			t.Fatalf("bob deliveries: %d", got)
		}
		if got := len(f.pub.delivered[f.carol.ID]); got != 0 {
			t.Fatalf("carol is not in random but got %d deliveries", got)
		}
	})
}

func TestPostMessageRequiresMembership(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		_, err := f.svc.PostMessage(context.Background(), f.carol, f.random.ID, "let me in")
		if !errors.Is(err, chatsvc.ErrNotMember) {
			t.Fatalf("expected ErrNotMember, got %v", err)
		}
		if len(f.pub.delivered) != 0 {
			t.Fatal("nothing should be published")
		}
	})
}

func TestPostMessageValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		if _, err := f.svc.PostMessage(ctx, f.alice, f.general.ID, "   "); !errors.Is(err, chatsvc.ErrEmptyContent) {
			t.Fatalf("expected ErrEmptyContent, got %v", err)
		}
		if _, err := f.svc.PostMessage(ctx, f.alice, "999", "hi"); !errors.Is(err, chatsvc.ErrChannelNotFound) {
			t.Fatalf("expected ErrChannelNotFound, got %v", err)
		}
	})
}

func TestHistoryPagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		for _, content := range []string{"a", "b", "c", "d", "e"} {
			if _, err := f.svc.PostMessage(ctx, f.bob, f.general.ID, content); err != nil {
				t.Fatalf("PostMessage err: %v", err)
			}
		}

		page, err := f.svc.History(ctx, f.alice, f.general.ID, chatsvc.PageQuery{Page: 1, Size: 2})
		if err != nil {
			t.Fatalf("History err: %v", err)
		}
		if page.TotalElements != 5 || page.TotalPages != 3 || page.Last || page.Number != 1 {
			t.Fatalf("unexpected page meta: %+v", page)
		}
		if len(page.Content) != 2 || page.Content[0].Content != "c" || page.Content[1].Seq != 4 {
			t.Fatalf("unexpected page content: %+v", page.Content)
		}

		last, _ := f.svc.History(ctx, f.alice, f.general.ID, chatsvc.PageQuery{Page: 2, Size: 2})
		if !last.Last || len(last.Content) != 1 {
			t.Fatalf("unexpected last page: %+v", last)
		}

		desc, _ := f.svc.History(ctx, f.alice, f.general.ID, chatsvc.PageQuery{Size: 2, Descending: true})
		if desc.Content[0].Content != "e" {
			t.Fatalf("descending page starts with %q", desc.Content[0].Content)
		}

		all, err := f.svc.AllMessages(ctx, f.alice, f.general.ID)
		if err != nil || len(all) != 5 {
			t.Fatalf("AllMessages: %d, %v", len(all), err)
		}
	})
}

func TestEmptyHistoryIsLastPage(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		page, err := f.svc.History(context.Background(), f.alice, f.general.ID, chatsvc.PageQuery{})
		if err != nil {
			t.Fatalf("History err: %v", err)
		}
		if !page.Last || page.Content == nil || page.Size != chatsvc.DefaultPageSize {
			t.Fatalf("unexpected empty page: %+v", page)
		}
	})
}

func TestMembershipChanges(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		if err := f.svc.AddMember(ctx, f.carol, f.random.ID, f.carol.ID); !errors.Is(err, chatsvc.ErrNotMember) {
			t.Fatalf("non-members cannot add: %v", err)
		}
		if err := f.svc.AddMember(ctx, f.alice, f.random.ID, f.carol.ID); err != nil {
			t.Fatalf("AddMember err: %v", err)
		}
		if err := f.svc.AddMember(ctx, f.alice, f.random.ID, "ghost"); !errors.Is(err, chatsvc.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}

		detail, err := f.svc.Channel(ctx, f.carol, f.random.ID)
		if err != nil {
			t.Fatalf("Channel err: %v", err)
		}
		if len(detail.Members) != 3 {
			t.Fatalf("expected 3 members, got %+v", detail.Members)
		}

		if err := f.svc.RemoveMember(ctx, f.alice, f.random.ID, f.bob.ID); err != nil {
			t.Fatalf("RemoveMember err: %v", err)
		}
		profile, _ := f.svc.Profile(ctx, f.bob)
		if len(profile.Channels) != 1 || profile.Channels[0].Name != "general" {
			t.Fatalf("bob should only be in general: %+v", profile.Channels)
		}
		if err := f.svc.RemoveMember(ctx, f.alice, f.random.ID, f.bob.ID); !errors.Is(err, chatsvc.ErrNotMember) {
			t.Fatalf("expected ErrNotMember on second removal, got %v", err)
		}
	})
}

func TestCreateChannel(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		ch, err := f.svc.CreateChannel(ctx, f.carol, "dev")
		if err != nil {
			t.Fatalf("CreateChannel err: %v", err)
		}
		profile, _ := f.svc.Profile(ctx, f.carol)
		if len(profile.Channels) != 2 || profile.Channels[1].ID != ch.ID {
			t.Fatalf("carol should see the new channel: %+v", profile.Channels)
		}
		if _, err := f.svc.CreateChannel(ctx, f.carol, " "); !errors.Is(err, chatsvc.ErrChannelName) {
			t.Fatalf("expected ErrChannelName, got %v", err)
		}
	})
}

func TestSeedTwiceKeepsChannels(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		if err := f.svc.Seed(ctx, account.SeedChannels()); err != nil {
			t.Fatalf("second Seed err: %v", err)
		}
		profile, err := f.svc.Profile(ctx, f.alice)
		if err != nil {
			t.Fatalf("Profile err: %v", err)
		}
		if len(profile.Channels) != 2 {
			t.Fatalf("expected 2 channels after reseeding, got %+v", profile.Channels)
		}
	})
}
