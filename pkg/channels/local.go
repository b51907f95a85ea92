package channels

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LocalOption configures a Local transport.
type LocalOption func(*Local)

// WithSendHook is called for every message the bot sends. channelID is zero
// for direct messages, in which case userID is set.
func WithSendHook(fn func(channelID, userID int64, text string)) LocalOption {
	return func(l *Local) { l.onSend = fn }
}

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

// WithLocalBaseOptions forwards options to the embedded BaseChannel.
func WithLocalBaseOptions(opts ...BaseChannelOption) LocalOption {
	return func(l *Local) {
		for _, opt := range opts {
			opt(l.BaseChannel)
		}
	}
}

type localTenant struct {
	roles   map[int64]Role
	members map[int64]Member
	perms   map[int64]Permissions
	banned  map[int64]string
}

type localChannel struct {
	info      Channel
	history   []Message
	overrides map[int64]Permissions
	deleteErr error
}

// DirectMessage is a message the bot sent to a user privately.
type DirectMessage struct {
	UserID int64
	Text   string
}

// Local is an in-process transport. It keeps the whole tenant model in memory,
// delivers posted messages synchronously to the handler and records what the
// bot does. It backs the console command and the test suites.
type Local struct {
	*BaseChannel

	mu       sync.Mutex
	botID    int64
	nextID   int64
	tenants  map[int64]*localTenant
	channels map[int64]*localChannel
	directs  []DirectMessage
	deleted  []int64
	now      func() time.Time
	onSend   func(channelID, userID int64, text string)
}

var _ Transport = (*Local)(nil)

func NewLocal(botID int64, opts ...LocalOption) *Local {
	l := &Local{
		BaseChannel: NewBaseChannel("local"),
		botID:       botID,
		nextID:      1_000_000,
		tenants:     make(map[int64]*localTenant),
		channels:    make(map[int64]*localChannel),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) tenant(id int64) *localTenant {
	t, ok := l.tenants[id]
	if !ok {
		t = &localTenant{
			roles:   make(map[int64]Role),
			members: make(map[int64]Member),
			perms:   make(map[int64]Permissions),
			banned:  make(map[int64]string),
		}
		l.tenants[id] = t
	}
	return t
}

func (l *Local) newID() int64 {
	l.nextID++
	return l.nextID
}

// PutRole creates or replaces a role.
func (l *Local) PutRole(tenantID int64, role Role) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tenant(tenantID)
	t.roles[role.ID] = role
	for id, m := range t.members {
		t.members[id] = l.withTopRole(t, m)
	}
}

// PutChannel creates or replaces a text channel.
func (l *Local) PutChannel(ch Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tenant(ch.TenantID)
	if existing, ok := l.channels[ch.ID]; ok {
		existing.info = ch
		return
	}
	l.channels[ch.ID] = &localChannel{info: ch, overrides: make(map[int64]Permissions)}
}

// PutMember creates or replaces a member with tenant-wide permissions.
func (l *Local) PutMember(m Member, perms Permissions) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tenant(m.TenantID)
	t.members[m.ID] = l.withTopRole(t, m)
	t.perms[m.ID] = perms
}

func (l *Local) withTopRole(t *localTenant, m Member) Member {
	top := 0
	for _, id := range m.Roles {
		if r, ok := t.roles[id]; ok && r.Position > top {
			top = r.Position
		}
	}
	m.TopRole = top
	return m
}

// SetChannelPermissions overrides a member's permissions on one channel.
func (l *Local) SetChannelPermissions(channelID, memberID int64, perms Permissions) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.channels[channelID]; ok {
		ch.overrides[memberID] = perms
	}
}

// FailDeletes makes every deletion in channelID return err. Nil clears it.
func (l *Local) FailDeletes(channelID int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.channels[channelID]; ok {
		ch.deleteErr = err
	}
}

var mentionRe = regexp.MustCompile(`<@!?(\d+)>|@([\w.-]+)`)

// Post injects a message from authorID into channelID and delivers it to the
// handler before returning.
func (l *Local) Post(ctx context.Context, channelID, authorID int64, content string) (*Message, error) {
	msg, err := l.record(channelID, authorID, content)
	if err != nil {
		return nil, err
	}
	l.HandleMessage(ctx, msg)
	return msg, nil
}

func (l *Local) record(channelID, authorID int64, content string) (*Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
	}
	t := l.tenant(ch.info.TenantID)
	author, ok := t.members[authorID]
	if !ok {
		return nil, fmt.Errorf("member %d: %w", authorID, ErrNotFound)
	}

	msg := Message{
		ID:                l.newID(),
		TenantID:          ch.info.TenantID,
		ChannelID:         channelID,
		Content:           content,
		Author:            author,
		AuthorPermissions: t.perms[authorID],
		Mentions:          l.parseMentions(t, content),
		CreatedAt:         l.now(),
	}
	ch.history = append(ch.history, msg)
	return &msg, nil
}

func (l *Local) parseMentions(t *localTenant, content string) []Member {
	var out []Member
	seen := make(map[int64]bool)
	for _, match := range mentionRe.FindAllStringSubmatch(content, -1) {
		var found *Member
		if match[1] != "" {
			id, _ := strconv.ParseInt(match[1], 10, 64)
			if m, ok := t.members[id]; ok {
				found = &m
			}
		} else {
			name := strings.ToLower(match[2])
			for _, m := range t.members {
				if strings.ToLower(m.Name) == name || strings.ToLower(m.DisplayName) == name {
					found = &m
					break
				}
			}
		}
		if found != nil && !seen[found.ID] {
			seen[found.ID] = true
			out = append(out, *found)
		}
	}
	return out
}

// BanBy records a ban performed by actor outside the bot and notifies the handler.
func (l *Local) BanBy(ctx context.Context, tenantID, memberID, actorID int64, reason string) error {
	l.mu.Lock()
	t := l.tenant(tenantID)
	member, ok := t.members[memberID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("member %d: %w", memberID, ErrNotFound)
	}
	actor, hasActor := t.members[actorID]
	t.banned[memberID] = reason
	delete(t.members, memberID)
	l.mu.Unlock()

	ev := BanEvent{TenantID: tenantID, Member: member, Reason: reason}
	if hasActor {
		ev.Actor = &actor
	}
	l.HandleMemberBan(ctx, ev)
	return nil
}

// Sent returns the texts the bot currently has in channelID, oldest first.
func (l *Local) Sent(channelID int64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.channels[channelID]
	if !ok {
		return nil
	}
	var out []string
	for _, m := range ch.history {
		if m.Author.ID == l.botID {
			out = append(out, m.Content)
		}
	}
	return out
}

// Directs returns the direct messages sent by the bot.
func (l *Local) Directs() []DirectMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.directs)
}

// Deleted returns the ids of deleted messages in deletion order.
func (l *Local) Deleted() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.deleted)
}

// IsBanned reports whether memberID was banned from tenantID.
func (l *Local) IsBanned(tenantID, memberID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tenant(tenantID).banned[memberID]
	return ok
}

func (l *Local) Start(ctx context.Context, handler Handler) error {
	l.SetHandler(handler)
	l.SetRunning(true)

	l.mu.Lock()
	tenants := make([]int64, 0, len(l.tenants))
	for id := range l.tenants {
		tenants = append(tenants, id)
	}
	l.mu.Unlock()
	slices.Sort(tenants)

	l.HandleReady(ctx, tenants)
	return nil
}

func (l *Local) Stop(context.Context) error {
	l.SetRunning(false)
	return nil
}

func (l *Local) BotID() int64 { return l.botID }

func (l *Local) SendText(_ context.Context, channelID int64, text string) (int64, error) {
	l.mu.Lock()
	ch, ok := l.channels[channelID]
	if !ok {
		l.mu.Unlock()
		return 0, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
	}
	bot := l.tenant(ch.info.TenantID).members[l.botID]
	bot.ID = l.botID
	bot.Bot = true
	msg := Message{
		ID:        l.newID(),
		TenantID:  ch.info.TenantID,
		ChannelID: channelID,
		Content:   text,
		Author:    bot,
		CreatedAt: l.now(),
	}
	ch.history = append(ch.history, msg)
	hook := l.onSend
	l.mu.Unlock()

	if hook != nil {
		hook(channelID, 0, text)
	}
	return msg.ID, nil
}

func (l *Local) SendDirect(_ context.Context, userID int64, text string) error {
	l.mu.Lock()
	l.directs = append(l.directs, DirectMessage{UserID: userID, Text: text})
	hook := l.onSend
	l.mu.Unlock()

	if hook != nil {
		hook(0, userID, text)
	}
	return nil
}

func (l *Local) DeleteMessage(_ context.Context, channelID, messageID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deleteLocked(channelID, messageID)
}

func (l *Local) deleteLocked(channelID, messageID int64) error {
	ch, ok := l.channels[channelID]
	if !ok {
		return fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
	}
	if ch.deleteErr != nil {
		return ch.deleteErr
	}
	idx := slices.IndexFunc(ch.history, func(m Message) bool { return m.ID == messageID })
	if idx < 0 {
		return fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	ch.history = slices.Delete(ch.history, idx, idx+1)
	l.deleted = append(l.deleted, messageID)
	return nil
}

func (l *Local) DeleteMessages(_ context.Context, channelID int64, messageIDs []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range messageIDs {
		if err := l.deleteLocked(channelID, id); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) History(_ context.Context, channelID, beforeID int64, limit int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
	}
	var out []Message
	for i := len(ch.history) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeID == 0 || ch.history[i].ID < beforeID {
			out = append(out, ch.history[i])
		}
	}
	return out, nil
}

func (l *Local) ChannelPermissions(_ context.Context, channelID, memberID int64) (Permissions, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.channels[channelID]
	if !ok {
		return 0, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
	}
	if p, ok := ch.overrides[memberID]; ok {
		return p, nil
	}
	return l.tenant(ch.info.TenantID).perms[memberID], nil
}

func (l *Local) AddRole(_ context.Context, tenantID, memberID, roleID int64, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tenant(tenantID)
	if !t.perms[l.botID].Has(PermManageRoles) {
		return ErrForbidden
	}
	m, ok := t.members[memberID]
	if !ok {
		return fmt.Errorf("member %d: %w", memberID, ErrNotFound)
	}
	if _, ok := t.roles[roleID]; !ok {
		return fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	if !m.HasRole(roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	t.members[memberID] = l.withTopRole(t, m)
	return nil
}

func (l *Local) Ban(_ context.Context, tenantID, memberID int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tenant(tenantID)
	if !t.perms[l.botID].Has(PermBanMembers) {
		return ErrForbidden
	}
	if _, ok := t.members[memberID]; !ok {
		return fmt.Errorf("member %d: %w", memberID, ErrNotFound)
	}
	t.banned[memberID] = reason
	delete(t.members, memberID)
	return nil
}

func (l *Local) Roles(_ context.Context, tenantID int64) ([]Role, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tenant(tenantID)
	out := make([]Role, 0, len(t.roles))
	for _, r := range t.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *Local) Channels(_ context.Context, tenantID int64) ([]Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Channel
	for _, ch := range l.channels {
		if ch.info.TenantID == tenantID {
			out = append(out, ch.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *Local) Channel(_ context.Context, channelID int64) (Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.channels[channelID]
	if !ok {
		return Channel{}, fmt.Errorf("channel %d: %w", channelID, ErrNotFound)
	}
	return ch.info, nil
}

func (l *Local) Members(_ context.Context, tenantID int64) ([]Member, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tenant(tenantID)
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *Local) Member(_ context.Context, tenantID, memberID int64) (Member, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.tenant(tenantID).members[memberID]
	if !ok {
		return Member{}, fmt.Errorf("member %d: %w", memberID, ErrNotFound)
	}
	return m, nil
}
