package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/settings"
	"github.com/tinyland-inc/guildclaw/pkg/storage"
	"github.com/tinyland-inc/guildclaw/pkg/storage/memory"
)

const (
	tenant  = int64(10)
	general = int64(20)
	other   = int64(21)
	botID   = int64(1)
	aliceID = int64(2) // administrator, top role 10
	bobID   = int64(3) // member, top role 1
	carolID = int64(4) // moderator, top role 5
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type writeCounter struct {
	storage.SettingsRepository
	writes atomic.Int32
}

func (w *writeCounter) UpdateSettings(ctx context.Context, app string, tenantID int64, data []byte) (bool, error) {
	w.writes.Add(1)
	return w.SettingsRepository.UpdateSettings(ctx, app, tenantID, data)
}

type eventLog struct {
	mu     sync.Mutex
	events []bus.Event
}

func (l *eventLog) Subscriptions() []bus.Subscription {
	return []bus.Subscription{{Event: bus.Wildcard, Handle: l.record}}
}

func (l *eventLog) record(_ context.Context, ev bus.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) named(name string) []bus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []bus.Event
	for _, ev := range l.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type world struct {
	clock  *fakeClock
	local  *channels.Local
	repo   *writeCounter
	store  *settings.Store
	buses  *bus.Registry
	svc    *Service
	events *eventLog
}

func newWorld(t *testing.T) *world {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	l := channels.NewLocal(botID, channels.WithClock(clock.Now))
	l.PutRole(tenant, channels.Role{ID: 200, Name: "admins", Position: 10})
	l.PutRole(tenant, channels.Role{ID: 100, Name: "mods", Position: 5})
	l.PutRole(tenant, channels.Role{ID: 101, Name: "members", Position: 1})
	l.PutChannel(channels.Channel{ID: general, TenantID: tenant, Name: "general"})
	l.PutChannel(channels.Channel{ID: other, TenantID: tenant, Name: "other"})
	l.PutMember(channels.Member{ID: botID, TenantID: tenant, Name: "bot", Bot: true}, channels.PermAll)
	l.PutMember(channels.Member{ID: aliceID, TenantID: tenant, Name: "alice", Roles: []int64{200}}, channels.PermAdministrator)
	l.PutMember(channels.Member{ID: bobID, TenantID: tenant, Name: "bob", DisplayName: "Bobby", Roles: []int64{101}}, 0)
	l.PutMember(channels.Member{ID: carolID, TenantID: tenant, Name: "carol", Roles: []int64{100}}, channels.PermManageMessages)

	w := &world{
		clock:  clock,
		local:  l,
		repo:   &writeCounter{SettingsRepository: memory.New()},
		buses:  bus.NewRegistry(context.Background()),
		events: &eventLog{},
	}
	w.store = settings.NewStore(w.repo)
	w.svc = NewService(w.store, l, w.buses, WithClock(clock.Now))
	w.buses.Tenant(tenant).Subscribe(w.events)
	return w
}

func (w *world) member(t *testing.T, id int64) channels.Member {
	t.Helper()
	m, err := w.local.Member(context.Background(), tenant, id)
	if err != nil {
		t.Fatalf("member %d: %v", id, err)
	}
	return m
}

func (w *world) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.buses.Wait(ctx); err != nil {
		t.Fatalf("waiting for events: %v", err)
	}
}

func (w *world) state() State {
	doc, _ := settings.Get(context.Background(), w.store, App, tenant, normalize)
	var out State
	doc.Read(func(st *State) {
		out.ReadOnly = append([]int64{}, st.ReadOnly...)
		out.Mute = make(map[int64]map[int64]int64)
		for m, chans := range st.Mute {
			out.Mute[m] = make(map[int64]int64)
			for c, exp := range chans {
				out.Mute[m][c] = exp
			}
		}
	})
	return out
}

var generalCh = channels.Channel{ID: general, TenantID: tenant, Name: "general"}

func TestMute_ExpiresAndIsPruned(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	bob := w.member(t, bobID)

	if err := w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{bob}, 60*time.Second, Origin{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	muted, err := w.svc.MemberMuted(ctx, generalCh, bobID)
	if err != nil || !muted {
		t.Fatalf("expected muted, got %v %v", muted, err)
	}

	w.clock.Advance(61 * time.Second)
	muted, err = w.svc.MemberMuted(ctx, generalCh, bobID)
	if err != nil || muted {
		t.Fatalf("expected expired mute, got %v %v", muted, err)
	}
	if _, ok := w.state().Mute[bobID]; ok {
		t.Error("expected expired entry to be pruned")
	}

	// the pruned state is what storage holds too
	w.store.Invalidate(App, tenant)
	if _, ok := w.state().Mute[bobID]; ok {
		t.Error("expected pruning to be persisted")
	}
}

func TestMute_OnlyAffectsTargetChannel(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	bob := w.member(t, bobID)

	if err := w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{bob}, time.Minute, Origin{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	muted, _ := w.svc.MemberMuted(ctx, channels.Channel{ID: other, TenantID: tenant}, bobID)
	if muted {
		t.Error("mute must be scoped to its channel")
	}
	muted, _ = w.svc.MemberMuted(ctx, generalCh, carolID)
	if muted {
		t.Error("mute must be scoped to its member")
	}
}

func TestAddChannelMutes_OneWritePerBatch(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	members := []channels.Member{w.member(t, bobID), w.member(t, carolID)}

	if err := w.svc.AddChannelMutes(ctx, generalCh, members, 5*time.Minute, Origin{User: w.member(t, aliceID)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	w.settle(t)

	if got := w.repo.writes.Load(); got != 1 {
		t.Errorf("expected a single write, got %d", got)
	}
	events := w.events.named("mute.add")
	if len(events) != 2 {
		t.Fatalf("expected one mute.add per member, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Int64("duration") != 300 {
			t.Errorf("expected duration 300, got %v", ev.Fields["duration"])
		}
		if user, _ := ev.Fields["user"].(channels.Member); user.ID != aliceID {
			t.Errorf("expected actor alice, got %v", ev.Fields["user"])
		}
	}
}

func TestAddChannelMutes_ReplacesExisting(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	bob := []channels.Member{w.member(t, bobID)}

	_ = w.svc.AddChannelMutes(ctx, generalCh, bob, time.Hour, Origin{})
	_ = w.svc.AddChannelMutes(ctx, generalCh, bob, time.Minute, Origin{})

	mutes, err := w.svc.ChannelMutes(ctx, generalCh)
	if err != nil {
		t.Fatalf("mutes: %v", err)
	}
	if len(mutes) != 1 || mutes[0].Remaining != time.Minute {
		t.Errorf("expected the later mute to win, got %+v", mutes)
	}
}

func TestChannelMutes_OrderedAndFiltered(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_ = w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{w.member(t, carolID)}, 10*time.Minute, Origin{})
	_ = w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{w.member(t, bobID)}, 2*time.Minute, Origin{})
	_ = w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{w.member(t, aliceID)}, 30*time.Second, Origin{})
	_ = w.svc.AddChannelMutes(ctx, channels.Channel{ID: other, TenantID: tenant}, []channels.Member{w.member(t, aliceID)}, time.Hour, Origin{})

	w.clock.Advance(time.Minute)
	mutes, err := w.svc.ChannelMutes(ctx, generalCh)
	if err != nil {
		t.Fatalf("mutes: %v", err)
	}
	if len(mutes) != 2 {
		t.Fatalf("expected 2 active mutes, got %+v", mutes)
	}
	if mutes[0].Member.ID != bobID || mutes[0].Remaining != time.Minute {
		t.Errorf("unexpected first mute %+v", mutes[0])
	}
	if mutes[1].Member.ID != carolID || mutes[1].Remaining != 9*time.Minute {
		t.Errorf("unexpected second mute %+v", mutes[1])
	}
	if mutes[1].Member.Name != "carol" {
		t.Error("expected member details to be resolved")
	}
}

func TestRemoveChannelMutes_SilentForExpired(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	bob, carol := w.member(t, bobID), w.member(t, carolID)

	_ = w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{bob}, 30*time.Second, Origin{})
	_ = w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{carol}, time.Hour, Origin{})
	w.clock.Advance(time.Minute)
	w.settle(t)
	writes := w.repo.writes.Load()

	if err := w.svc.RemoveChannelMutes(ctx, generalCh, []channels.Member{bob, carol, w.member(t, aliceID)}, Origin{}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	w.settle(t)

	removed := w.events.named("mute.remove")
	if len(removed) != 1 {
		t.Fatalf("expected one mute.remove, got %d", len(removed))
	}
	if m, _ := removed[0].Fields["member"].(channels.Member); m.ID != carolID {
		t.Errorf("expected carol to be reported, got %v", removed[0].Fields["member"])
	}
	if got := w.repo.writes.Load() - writes; got != 1 {
		t.Errorf("expected one write, got %d", got)
	}
	if len(w.state().Mute) != 0 {
		t.Errorf("expected all entries removed, got %v", w.state().Mute)
	}
}

func TestRemoveChannelMutes_NothingToRemove(t *testing.T) {
	w := newWorld(t)
	if err := w.svc.RemoveChannelMutes(context.Background(), generalCh, []channels.Member{w.member(t, bobID)}, Origin{}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := w.repo.writes.Load(); got != 0 {
		t.Errorf("expected no write, got %d", got)
	}
}

func TestSetReadOnly_Idempotent(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	origin := Origin{User: w.member(t, aliceID)}

	for range 2 {
		if err := w.svc.SetReadOnly(ctx, generalCh, true, origin); err != nil {
			t.Fatalf("set readonly: %v", err)
		}
	}
	w.settle(t)

	if got := w.repo.writes.Load(); got != 1 {
		t.Errorf("expected one write, got %d", got)
	}
	events := w.events.named("readonly.set")
	if len(events) != 1 {
		t.Fatalf("expected one readonly.set, got %d", len(events))
	}
	if !events[0].Bool("enable") {
		t.Error("expected enable=true")
	}
	if on, _ := w.svc.ReadOnly(ctx, generalCh); !on {
		t.Error("expected channel to be read-only")
	}

	if err := w.svc.SetReadOnly(ctx, generalCh, false, origin); err != nil {
		t.Fatalf("unset readonly: %v", err)
	}
	if on, _ := w.svc.ReadOnly(ctx, generalCh); on {
		t.Error("expected read-only to be off")
	}
}

func TestSetReadOnly_RequiresBotPermission(t *testing.T) {
	w := newWorld(t)
	w.local.SetChannelPermissions(general, botID, 0)

	err := w.svc.SetReadOnly(context.Background(), generalCh, true, Origin{})
	if err != ErrBotPermissionDenied {
		t.Fatalf("expected ErrBotPermissionDenied, got %v", err)
	}
	if got := w.repo.writes.Load(); got != 0 {
		t.Errorf("expected no write, got %d", got)
	}
}

func TestState_RoundTripsThroughStorage(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	_ = w.svc.AddChannelMutes(ctx, generalCh, []channels.Member{w.member(t, bobID)}, time.Hour, Origin{})
	_ = w.svc.SetReadOnly(ctx, generalCh, true, Origin{})

	w.store.Invalidate(App, tenant)
	st := w.state()
	if st.Mute[bobID][general] != w.clock.Now().Add(time.Hour).Unix() {
		t.Errorf("unexpected mute state %v", st.Mute)
	}
	if len(st.ReadOnly) != 1 || st.ReadOnly[0] != general {
		t.Errorf("unexpected read-only state %v", st.ReadOnly)
	}
}
