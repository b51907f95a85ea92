package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/guildclaw/pkg/logger"
)

const (
	discordPageSize   = 100
	discordMemberPage = 1000
)

// DiscordIntents are the gateway intents the bot subscribes to.
const DiscordIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildBans |
	discordgo.IntentsMessageContent

// Discord adapts a discordgo session to Transport.
type Discord struct {
	*BaseChannel

	session *discordgo.Session
	botID   atomic.Int64

	mu     sync.Mutex
	ctx    context.Context
	known  map[string]bool
	remove []func()
}

var _ Transport = (*Discord)(nil)

func NewDiscord(token string, opts ...BaseChannelOption) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = DiscordIntents

	return &Discord{
		BaseChannel: NewBaseChannel("discord", opts...),
		session:     session,
		ctx:         context.Background(),
		known:       make(map[string]bool),
	}, nil
}

func (d *Discord) Start(ctx context.Context, handler Handler) error {
	d.SetHandler(handler)

	d.mu.Lock()
	d.ctx = ctx
	d.remove = []func(){
		d.session.AddHandler(d.onReady),
		d.session.AddHandler(d.onGuildCreate),
		d.session.AddHandler(d.onGuildDelete),
		d.session.AddHandler(d.onMessageCreate),
		d.session.AddHandler(d.onBanAdd),
		d.session.AddHandler(d.onBanRemove),
	}
	d.mu.Unlock()

	logger.InfoC("discord", "Opening gateway session")
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	d.SetRunning(true)
	return nil
}

func (d *Discord) Stop(context.Context) error {
	d.mu.Lock()
	for _, fn := range d.remove {
		fn()
	}
	d.remove = nil
	d.mu.Unlock()

	d.SetRunning(false)
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	logger.InfoC("discord", "Gateway session closed")
	return nil
}

func (d *Discord) BotID() int64 { return d.botID.Load() }

func (d *Discord) baseContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.botID.Store(parseSnowflake(r.User.ID))

	tenants := make([]int64, 0, len(r.Guilds))
	d.mu.Lock()
	for _, g := range r.Guilds {
		d.known[g.ID] = true
		tenants = append(tenants, parseSnowflake(g.ID))
	}
	d.mu.Unlock()

	logger.InfoCF("discord", "Gateway ready", map[string]any{
		"bot":    r.User.Username,
		"guilds": len(tenants),
	})
	d.HandleReady(d.baseContext(), tenants)
}

func (d *Discord) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	d.mu.Lock()
	seen := d.known[g.ID]
	d.known[g.ID] = true
	d.mu.Unlock()

	// Guilds listed in Ready are re-announced through GuildCreate on startup.
	if seen {
		return
	}
	d.HandleTenantJoin(d.baseContext(), parseSnowflake(g.ID))
}

func (d *Discord) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	d.mu.Lock()
	delete(d.known, g.ID)
	d.mu.Unlock()
	d.HandleTenantRemove(d.baseContext(), parseSnowflake(g.ID))
}

func (d *Discord) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	ctx := d.baseContext()
	msg := &Message{
		ID:        parseSnowflake(m.ID),
		TenantID:  parseSnowflake(m.GuildID),
		ChannelID: parseSnowflake(m.ChannelID),
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}

	if m.GuildID == "" {
		msg.Author = convertUser(m.Author, 0)
		d.HandleMessage(ctx, msg)
		return
	}
	if !d.IsAllowed(msg.TenantID) {
		return
	}

	roles, ownerID := d.guildRoles(m.GuildID)
	member := m.Member
	if member == nil {
		member = &discordgo.Member{}
	}
	member.User = m.Author
	msg.Author = convertMember(member, msg.TenantID, roles)
	msg.AuthorPermissions = tenantPermissions(member, m.GuildID, ownerID, roles)

	for _, u := range m.Mentions {
		mentioned := convertUser(u, msg.TenantID)
		if full, err := d.session.State.Member(m.GuildID, u.ID); err == nil {
			mentioned = convertMember(full, msg.TenantID, roles)
		}
		msg.Mentions = append(msg.Mentions, mentioned)
	}

	d.HandleMessage(ctx, msg)
}

func (d *Discord) onBanAdd(_ *discordgo.Session, b *discordgo.GuildBanAdd) {
	ev := d.banEvent(b.GuildID, b.User, discordgo.AuditLogActionMemberBanAdd)
	d.HandleMemberBan(d.baseContext(), ev)
}

func (d *Discord) onBanRemove(_ *discordgo.Session, b *discordgo.GuildBanRemove) {
	ev := d.banEvent(b.GuildID, b.User, discordgo.AuditLogActionMemberBanRemove)
	d.HandleMemberUnban(d.baseContext(), ev)
}

// banEvent attributes a ban change through the most recent matching audit log entry.
func (d *Discord) banEvent(guildID string, user *discordgo.User, action discordgo.AuditLogAction) BanEvent {
	tenantID := parseSnowflake(guildID)
	ev := BanEvent{TenantID: tenantID, Member: convertUser(user, tenantID)}

	log, err := d.session.GuildAuditLog(guildID, "", "", int(action), 5)
	if err != nil {
		logger.WarnCF("discord", "Audit log lookup failed", map[string]any{
			"guild": guildID,
			"error": err,
		})
		return ev
	}
	for _, entry := range log.AuditLogEntries {
		if entry.TargetID != user.ID {
			continue
		}
		ev.Reason = entry.Reason
		actor := Member{ID: parseSnowflake(entry.UserID), TenantID: tenantID}
		for _, u := range log.Users {
			if u.ID == entry.UserID {
				actor = convertUser(u, tenantID)
			}
		}
		ev.Actor = &actor
		break
	}
	return ev
}

func (d *Discord) guildRoles(guildID string) ([]*discordgo.Role, string) {
	if g, err := d.session.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
		return g.Roles, g.OwnerID
	}
	roles, err := d.session.GuildRoles(guildID)
	if err != nil {
		logger.WarnCF("discord", "Role lookup failed", map[string]any{
			"guild": guildID,
			"error": err,
		})
		return nil, ""
	}
	ownerID := ""
	if g, err := d.session.Guild(guildID); err == nil {
		ownerID = g.OwnerID
	}
	return roles, ownerID
}

func (d *Discord) SendText(_ context.Context, channelID int64, text string) (int64, error) {
	msg, err := d.session.ChannelMessageSend(formatSnowflake(channelID), text)
	if err != nil {
		return 0, mapDiscordError(err)
	}
	return parseSnowflake(msg.ID), nil
}

func (d *Discord) SendDirect(_ context.Context, userID int64, text string) error {
	ch, err := d.session.UserChannelCreate(formatSnowflake(userID))
	if err != nil {
		return mapDiscordError(err)
	}
	if _, err := d.session.ChannelMessageSend(ch.ID, text); err != nil {
		return mapDiscordError(err)
	}
	return nil
}

func (d *Discord) DeleteMessage(_ context.Context, channelID, messageID int64) error {
	err := d.session.ChannelMessageDelete(formatSnowflake(channelID), formatSnowflake(messageID))
	return mapDiscordError(err)
}

func (d *Discord) DeleteMessages(ctx context.Context, channelID int64, messageIDs []int64) error {
	for start := 0; start < len(messageIDs); start += discordPageSize {
		chunk := messageIDs[start:min(start+discordPageSize, len(messageIDs))]
		if len(chunk) == 1 {
			if err := d.DeleteMessage(ctx, channelID, chunk[0]); err != nil {
				return err
			}
			continue
		}
		ids := make([]string, len(chunk))
		for i, id := range chunk {
			ids[i] = formatSnowflake(id)
		}
		if err := d.session.ChannelMessagesBulkDelete(formatSnowflake(channelID), ids); err != nil {
			return mapDiscordError(err)
		}
	}
	return nil
}

func (d *Discord) History(ctx context.Context, channelID, beforeID int64, limit int) ([]Message, error) {
	var out []Message
	before := ""
	if beforeID != 0 {
		before = formatSnowflake(beforeID)
	}
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page, err := d.session.ChannelMessages(formatSnowflake(channelID), min(limit-len(out), discordPageSize), before, "", "")
		if err != nil {
			return out, mapDiscordError(err)
		}
		for _, m := range page {
			msg := Message{
				ID:        parseSnowflake(m.ID),
				TenantID:  parseSnowflake(m.GuildID),
				ChannelID: channelID,
				Content:   m.Content,
				CreatedAt: m.Timestamp,
			}
			if m.Author != nil {
				msg.Author = convertUser(m.Author, msg.TenantID)
			}
			out = append(out, msg)
		}
		if len(page) < discordPageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	return out, nil
}

func (d *Discord) ChannelPermissions(_ context.Context, channelID, memberID int64) (Permissions, error) {
	perms, err := d.session.UserChannelPermissions(formatSnowflake(memberID), formatSnowflake(channelID))
	if err != nil {
		return 0, mapDiscordError(err)
	}
	return convertPermissions(perms), nil
}

func (d *Discord) AddRole(_ context.Context, tenantID, memberID, roleID int64, reason string) error {
	err := d.session.GuildMemberRoleAdd(formatSnowflake(tenantID), formatSnowflake(memberID), formatSnowflake(roleID),
		discordgo.WithAuditLogReason(reason))
	return mapDiscordError(err)
}

func (d *Discord) Ban(_ context.Context, tenantID, memberID int64, reason string) error {
	err := d.session.GuildBanCreateWithReason(formatSnowflake(tenantID), formatSnowflake(memberID), reason, 0)
	return mapDiscordError(err)
}

func (d *Discord) Roles(_ context.Context, tenantID int64) ([]Role, error) {
	roles, err := d.session.GuildRoles(formatSnowflake(tenantID))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, Role{ID: parseSnowflake(r.ID), Name: r.Name, Position: r.Position})
	}
	return out, nil
}

func (d *Discord) Channels(_ context.Context, tenantID int64) ([]Channel, error) {
	chs, err := d.session.GuildChannels(formatSnowflake(tenantID))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	out := make([]Channel, 0, len(chs))
	for _, ch := range chs {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, convertChannel(ch))
	}
	return out, nil
}

func (d *Discord) Channel(_ context.Context, channelID int64) (Channel, error) {
	ch, err := d.session.Channel(formatSnowflake(channelID))
	if err != nil {
		return Channel{}, mapDiscordError(err)
	}
	return convertChannel(ch), nil
}

func (d *Discord) Members(ctx context.Context, tenantID int64) ([]Member, error) {
	guildID := formatSnowflake(tenantID)
	roles, _ := d.guildRoles(guildID)

	var out []Member
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		page, err := d.session.GuildMembers(guildID, after, discordMemberPage)
		if err != nil {
			return out, mapDiscordError(err)
		}
		for _, m := range page {
			out = append(out, convertMember(m, tenantID, roles))
		}
		if len(page) < discordMemberPage {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (d *Discord) Member(_ context.Context, tenantID, memberID int64) (Member, error) {
	guildID := formatSnowflake(tenantID)
	m, err := d.session.GuildMember(guildID, formatSnowflake(memberID))
	if err != nil {
		return Member{}, mapDiscordError(err)
	}
	roles, _ := d.guildRoles(guildID)
	return convertMember(m, tenantID, roles), nil
}

func parseSnowflake(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func formatSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}

// mapDiscordError translates REST failures into the transport sentinels.
func mapDiscordError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

func convertPermissions(p int64) Permissions {
	var out Permissions
	if p&discordgo.PermissionAdministrator != 0 {
		out |= PermAdministrator
	}
	if p&discordgo.PermissionManageMessages != 0 {
		out |= PermManageMessages
	}
	if p&discordgo.PermissionBanMembers != 0 {
		out |= PermBanMembers
	}
	if p&discordgo.PermissionManageRoles != 0 {
		out |= PermManageRoles
	}
	return out
}

// tenantPermissions folds the @everyone role and the member's roles. Owners
// are administrators.
func tenantPermissions(m *discordgo.Member, guildID, ownerID string, roles []*discordgo.Role) Permissions {
	if m.User != nil && m.User.ID == ownerID {
		return PermAll
	}
	var raw int64
	for _, r := range roles {
		if r.ID == guildID {
			raw |= r.Permissions
			continue
		}
		for _, id := range m.Roles {
			if id == r.ID {
				raw |= r.Permissions
			}
		}
	}
	return convertPermissions(raw)
}

func convertUser(u *discordgo.User, tenantID int64) Member {
	return Member{
		ID:          parseSnowflake(u.ID),
		TenantID:    tenantID,
		Name:        u.Username,
		DisplayName: u.GlobalName,
		Bot:         u.Bot,
	}
}

func convertMember(m *discordgo.Member, tenantID int64, roles []*discordgo.Role) Member {
	var out Member
	if m.User != nil {
		out = convertUser(m.User, tenantID)
	}
	out.TenantID = tenantID
	if m.Nick != "" {
		out.DisplayName = m.Nick
	}
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}
	for _, id := range m.Roles {
		out.Roles = append(out.Roles, parseSnowflake(id))
		if p := positions[id]; p > out.TopRole {
			out.TopRole = p
		}
	}
	return out
}

func convertChannel(ch *discordgo.Channel) Channel {
	return Channel{
		ID:       parseSnowflake(ch.ID),
		TenantID: parseSnowflake(ch.GuildID),
		Name:     ch.Name,
	}
}
