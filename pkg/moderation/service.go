// Package moderation keeps timed channel mutes and read-only channels in the
// tenant's "moderation" settings document and exposes the commands and the
// message watcher that enforce them.
package moderation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tinyland-inc/guildclaw/pkg/bus"
	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/settings"
)

// App is the settings application key of the moderation document.
const App = "moderation"

// ErrBotPermissionDenied is returned when the bot lacks the capability an
// operation needs.
var ErrBotPermissionDenied = errors.New("moderation: bot permission denied")

// State is the persisted moderation document. Mute maps member id to channel
// id to the expiration as unix seconds.
type State struct {
	Mute     map[int64]map[int64]int64 `json:"mute"`
	ReadOnly []int64                   `json:"readonly"`
}

func normalize(s *State) error {
	if s.Mute == nil {
		s.Mute = make(map[int64]map[int64]int64)
	}
	for member, chans := range s.Mute {
		if len(chans) == 0 {
			delete(s.Mute, member)
		}
	}
	if s.ReadOnly == nil {
		s.ReadOnly = []int64{}
	}
	return nil
}

// Origin describes who caused a change. It is copied into published events.
type Origin struct {
	User   channels.Member
	Reason string
}

func (o Origin) fields(f bus.Fields) bus.Fields {
	f["user"] = o.User
	if o.Reason != "" {
		f["reason"] = o.Reason
	}
	return f
}

// MuteStatus is an active mute of one member in a channel.
type MuteStatus struct {
	Member    channels.Member
	Remaining time.Duration
}

// BusProvider hands out the per-tenant bus.
type BusProvider interface {
	Tenant(id int64) *bus.Bus
}

type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	settings  *settings.Store
	transport channels.Transport
	buses     BusProvider
	now       func() time.Time
}

func NewService(store *settings.Store, tr channels.Transport, buses BusProvider, opts ...Option) *Service {
	s := &Service{
		settings:  store,
		transport: tr,
		buses:     buses,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Now() time.Time { return s.now() }

func (s *Service) document(ctx context.Context, tenantID int64) (*settings.Document[State], error) {
	doc, err := settings.Get(ctx, s.settings, App, tenantID, normalize)
	if err != nil {
		return nil, fmt.Errorf("moderation settings: %w", err)
	}
	return doc, nil
}

// ReadOnly reports whether ch is read-only.
func (s *Service) ReadOnly(ctx context.Context, ch channels.Channel) (bool, error) {
	doc, err := s.document(ctx, ch.TenantID)
	if err != nil {
		return false, err
	}
	var enabled bool
	doc.Read(func(st *State) {
		enabled = slices.Contains(st.ReadOnly, ch.ID)
	})
	return enabled, nil
}

// SetReadOnly switches the read-only flag of ch. Enabling requires the bot to
// manage messages there. Nothing is written or published when the flag
// already has the requested value.
func (s *Service) SetReadOnly(ctx context.Context, ch channels.Channel, enable bool, origin Origin) error {
	enabled, err := s.ReadOnly(ctx, ch)
	if err != nil {
		return err
	}
	if enabled == enable {
		return nil
	}
	if enable {
		perms, err := s.transport.ChannelPermissions(ctx, ch.ID, s.transport.BotID())
		if err != nil {
			return fmt.Errorf("bot permissions in channel %d: %w", ch.ID, err)
		}
		if !perms.Has(channels.PermManageMessages) {
			return ErrBotPermissionDenied
		}
	}

	doc, err := s.document(ctx, ch.TenantID)
	if err != nil {
		return err
	}
	changed, err := doc.Mutate(ctx, func(st *State) bool {
		idx := slices.Index(st.ReadOnly, ch.ID)
		switch {
		case enable && idx < 0:
			st.ReadOnly = append(st.ReadOnly, ch.ID)
		case !enable && idx >= 0:
			st.ReadOnly = slices.Delete(st.ReadOnly, idx, idx+1)
		default:
			return false
		}
		return true
	})
	if err != nil || !changed {
		return err
	}

	logger.InfoCF("moderation", "Read-only mode changed", map[string]any{
		"tenant":  ch.TenantID,
		"channel": ch.ID,
		"enable":  enable,
		"user":    origin.User.ID,
		"reason":  origin.Reason,
	})
	s.buses.Tenant(ch.TenantID).Publish("readonly.set", origin.fields(bus.Fields{
		"channel": ch,
		"enable":  enable,
	}))
	return nil
}

// ChannelMutes lists the members whose mute in ch has not expired, soonest
// expiration first.
func (s *Service) ChannelMutes(ctx context.Context, ch channels.Channel) ([]MuteStatus, error) {
	doc, err := s.document(ctx, ch.TenantID)
	if err != nil {
		return nil, err
	}

	type active struct{ member, expires int64 }
	now := s.now()
	var found []active
	doc.Read(func(st *State) {
		for member, chans := range st.Mute {
			if exp, ok := chans[ch.ID]; ok && exp > now.Unix() {
				found = append(found, active{member, exp})
			}
		}
	})
	slices.SortFunc(found, func(a, b active) int {
		if c := cmp.Compare(a.expires, b.expires); c != 0 {
			return c
		}
		return cmp.Compare(a.member, b.member)
	})

	out := make([]MuteStatus, 0, len(found))
	for _, a := range found {
		member, err := s.transport.Member(ctx, ch.TenantID, a.member)
		if err != nil {
			member = channels.Member{ID: a.member, TenantID: ch.TenantID}
		}
		out = append(out, MuteStatus{
			Member:    member,
			Remaining: time.Unix(a.expires, 0).Sub(now),
		})
	}
	return out, nil
}

// MemberMuted reports whether member is muted in ch. An expired entry is
// removed and the removal persisted.
func (s *Service) MemberMuted(ctx context.Context, ch channels.Channel, memberID int64) (bool, error) {
	doc, err := s.document(ctx, ch.TenantID)
	if err != nil {
		return false, err
	}

	now := s.now().Unix()
	var muted bool
	_, err = doc.Mutate(ctx, func(st *State) bool {
		chans, ok := st.Mute[memberID]
		if !ok {
			return false
		}
		exp, ok := chans[ch.ID]
		if !ok {
			return false
		}
		if exp > now {
			muted = true
			return false
		}
		delete(chans, ch.ID)
		if len(chans) == 0 {
			delete(st.Mute, memberID)
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return muted, nil
}

// AddChannelMutes mutes members in ch for d, replacing existing mutes there.
// The document is written once and one mute.add is published per member.
func (s *Service) AddChannelMutes(ctx context.Context, ch channels.Channel, members []channels.Member, d time.Duration, origin Origin) error {
	if len(members) == 0 {
		return nil
	}
	doc, err := s.document(ctx, ch.TenantID)
	if err != nil {
		return err
	}

	expires := s.now().Add(d).Unix()
	_, err = doc.Mutate(ctx, func(st *State) bool {
		for _, m := range members {
			chans, ok := st.Mute[m.ID]
			if !ok {
				chans = make(map[int64]int64)
				st.Mute[m.ID] = chans
			}
			chans[ch.ID] = expires
		}
		return true
	})
	if err != nil {
		return err
	}

	seconds := int64(d / time.Second)
	b := s.buses.Tenant(ch.TenantID)
	for _, m := range members {
		logger.InfoCF("moderation", "Member muted", map[string]any{
			"tenant":   ch.TenantID,
			"channel":  ch.ID,
			"member":   m.ID,
			"duration": seconds,
			"user":     origin.User.ID,
		})
		b.Publish("mute.add", origin.fields(bus.Fields{
			"channel":  ch,
			"member":   m,
			"duration": seconds,
		}))
	}
	return nil
}

// RemoveChannelMutes lifts the mutes of members in ch. mute.remove is only
// published for mutes that were still active.
func (s *Service) RemoveChannelMutes(ctx context.Context, ch channels.Channel, members []channels.Member, origin Origin) error {
	doc, err := s.document(ctx, ch.TenantID)
	if err != nil {
		return err
	}

	now := s.now().Unix()
	var lifted []channels.Member
	_, err = doc.Mutate(ctx, func(st *State) bool {
		dirty := false
		for _, m := range members {
			chans, ok := st.Mute[m.ID]
			if !ok {
				continue
			}
			exp, ok := chans[ch.ID]
			if !ok {
				continue
			}
			delete(chans, ch.ID)
			if len(chans) == 0 {
				delete(st.Mute, m.ID)
			}
			dirty = true
			if exp > now {
				lifted = append(lifted, m)
			}
		}
		return dirty
	})
	if err != nil {
		return err
	}

	b := s.buses.Tenant(ch.TenantID)
	for _, m := range lifted {
		logger.InfoCF("moderation", "Member unmuted", map[string]any{
			"tenant":  ch.TenantID,
			"channel": ch.ID,
			"member":  m.ID,
			"user":    origin.User.ID,
		})
		b.Publish("mute.remove", origin.fields(bus.Fields{
			"channel": ch,
			"member":  m,
		}))
	}
	return nil
}
