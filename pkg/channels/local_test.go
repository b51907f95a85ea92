package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordingHandler struct {
	mu       sync.Mutex
	ready    []int64
	messages []*Message
	bans     []BanEvent
}

func (h *recordingHandler) OnReady(_ context.Context, tenants []int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = tenants
}
func (h *recordingHandler) OnTenantJoin(context.Context, int64)   {}
func (h *recordingHandler) OnTenantRemove(context.Context, int64) {}
func (h *recordingHandler) OnMessage(_ context.Context, msg *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}
func (h *recordingHandler) OnMemberBan(_ context.Context, ev BanEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bans = append(h.bans, ev)
}
func (h *recordingHandler) OnMemberUnban(context.Context, BanEvent) {}

func newWorld(t *testing.T, opts ...LocalOption) (*Local, *recordingHandler) {
	t.Helper()
	l := NewLocal(1, opts...)
	l.PutRole(10, Role{ID: 100, Name: "mod", Position: 5})
	l.PutRole(10, Role{ID: 101, Name: "member", Position: 1})
	l.PutChannel(Channel{ID: 20, TenantID: 10, Name: "general"})
	l.PutMember(Member{ID: 1, TenantID: 10, Name: "bot", Bot: true}, PermAll)
	l.PutMember(Member{ID: 2, TenantID: 10, Name: "alice", Roles: []int64{100, 101}}, PermManageMessages)
	l.PutMember(Member{ID: 3, TenantID: 10, Name: "bob", DisplayName: "Bobby"}, 0)

	h := &recordingHandler{}
	if err := l.Start(context.Background(), h); err != nil {
		t.Fatalf("start: %v", err)
	}
	return l, h
}

func TestLocal_StartReportsAllowedTenants(t *testing.T) {
	l := NewLocal(1, WithLocalBaseOptions(WithAllowTenants([]int64{10})))
	l.PutChannel(Channel{ID: 20, TenantID: 10})
	l.PutChannel(Channel{ID: 30, TenantID: 11})

	h := &recordingHandler{}
	if err := l.Start(context.Background(), h); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(h.ready) != 1 || h.ready[0] != 10 {
		t.Errorf("expected ready with [10], got %v", h.ready)
	}
	if !l.IsRunning() {
		t.Error("expected transport to be running")
	}
}

func TestLocal_PostDeliversWithMentions(t *testing.T) {
	l, h := newWorld(t)

	msg, err := l.Post(context.Background(), 20, 2, "hello <@3> and @alice and <@!3>")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if len(h.messages) != 1 || h.messages[0].ID != msg.ID {
		t.Fatalf("expected message delivered to handler, got %d", len(h.messages))
	}
	if len(msg.Mentions) != 2 {
		t.Fatalf("expected 2 distinct mentions, got %v", msg.Mentions)
	}
	if msg.Mentions[0].ID != 3 || msg.Mentions[1].ID != 2 {
		t.Errorf("unexpected mention order: %v", msg.Mentions)
	}
	if msg.Author.TopRole != 5 {
		t.Errorf("expected top role position 5, got %d", msg.Author.TopRole)
	}
	if msg.AuthorPermissions != PermManageMessages {
		t.Errorf("expected author permissions to be copied, got %v", msg.AuthorPermissions)
	}
}

func TestLocal_MentionByDisplayName(t *testing.T) {
	l, _ := newWorld(t)

	msg, err := l.Post(context.Background(), 20, 2, "ping @bobby")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if len(msg.Mentions) != 1 || msg.Mentions[0].ID != 3 {
		t.Errorf("expected bob mentioned, got %v", msg.Mentions)
	}
}

func TestLocal_SendAndDelete(t *testing.T) {
	var hooked []string
	l, _ := newWorld(t, WithSendHook(func(_, _ int64, text string) { hooked = append(hooked, text) }))
	ctx := context.Background()

	id, err := l.SendText(ctx, 20, "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := l.Sent(20); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("expected sent [hi], got %v", got)
	}
	if len(hooked) != 1 {
		t.Errorf("expected send hook to fire once, got %d", len(hooked))
	}

	if err := l.DeleteMessage(ctx, 20, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(l.Sent(20)) != 0 {
		t.Error("expected message removed from history")
	}
	if err := l.DeleteMessage(ctx, 20, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLocal_FailDeletes(t *testing.T) {
	l, _ := newWorld(t)
	ctx := context.Background()

	msg, _ := l.Post(ctx, 20, 3, "spam")
	l.FailDeletes(20, ErrForbidden)
	if err := l.DeleteMessage(ctx, 20, msg.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	l.FailDeletes(20, nil)
	if err := l.DeleteMessage(ctx, 20, msg.ID); err != nil {
		t.Fatalf("expected delete to succeed after clearing, got %v", err)
	}
}

func TestLocal_HistoryNewestFirst(t *testing.T) {
	l, _ := newWorld(t)
	ctx := context.Background()

	var ids []int64
	for _, text := range []string{"a", "b", "c", "d"} {
		msg, _ := l.Post(ctx, 20, 2, text)
		ids = append(ids, msg.ID)
	}

	got, err := l.History(ctx, 20, ids[3], 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 || got[0].Content != "c" || got[1].Content != "b" {
		t.Errorf("unexpected history page: %+v", got)
	}
}

func TestLocal_ChannelPermissionOverride(t *testing.T) {
	l, _ := newWorld(t)
	ctx := context.Background()

	p, _ := l.ChannelPermissions(ctx, 20, 1)
	if !p.Has(PermManageMessages) {
		t.Fatal("expected bot to inherit tenant permissions")
	}
	l.SetChannelPermissions(20, 1, 0)
	p, _ = l.ChannelPermissions(ctx, 20, 1)
	if p.Has(PermManageMessages) {
		t.Error("expected channel override to remove permission")
	}
}

func TestLocal_AddRoleAndBan(t *testing.T) {
	l, _ := newWorld(t)
	ctx := context.Background()

	if err := l.AddRole(ctx, 10, 3, 100, "promote"); err != nil {
		t.Fatalf("add role: %v", err)
	}
	m, _ := l.Member(ctx, 10, 3)
	if !m.HasRole(100) || m.TopRole != 5 {
		t.Errorf("expected role applied with top role 5, got %+v", m)
	}

	if err := l.Ban(ctx, 10, 3, "spam"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if !l.IsBanned(10, 3) {
		t.Error("expected member banned")
	}
	if _, err := l.Member(ctx, 10, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected banned member gone, got %v", err)
	}
}

func TestLocal_BotWithoutPermissionIsForbidden(t *testing.T) {
	l, _ := newWorld(t)
	l.PutMember(Member{ID: 1, TenantID: 10, Name: "bot", Bot: true}, 0)

	if err := l.Ban(context.Background(), 10, 3, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestLocal_BanByNotifiesHandler(t *testing.T) {
	l, h := newWorld(t)

	if err := l.BanBy(context.Background(), 10, 3, 2, "rude"); err != nil {
		t.Fatalf("ban by: %v", err)
	}
	if len(h.bans) != 1 {
		t.Fatalf("expected one ban event, got %d", len(h.bans))
	}
	ev := h.bans[0]
	if ev.Member.ID != 3 || ev.Actor == nil || ev.Actor.ID != 2 || ev.Reason != "rude" {
		t.Errorf("unexpected ban event: %+v", ev)
	}
}
