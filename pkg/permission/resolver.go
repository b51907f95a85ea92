// Package permission grants command groups to roles, optionally restricted to
// channels, from rows kept in storage and cached per tenant.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tinyland-inc/guildclaw/pkg/channels"
	"github.com/tinyland-inc/guildclaw/pkg/command"
	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/storage"
)

// Entry is one cached grant. RoleID zero marks an administrator-only entry.
type Entry struct {
	Group    string
	RoleID   int64
	Channels []int64
	Settings command.Settings
}

// AllowsChannel reports whether the entry applies in channelID.
func (e Entry) AllowsChannel(channelID int64) bool {
	return len(e.Channels) == 0 || slices.Contains(e.Channels, channelID)
}

// Resolver implements command.Resolver on top of a permission repository.
// Administrators bypass every entry.
type Resolver struct {
	repo storage.PermissionRepository

	mu      sync.Mutex
	tenants map[int64][]Entry
	gen     map[int64]uint64
	group   singleflight.Group
}

func NewResolver(repo storage.PermissionRepository) *Resolver {
	return &Resolver{
		repo:    repo,
		tenants: make(map[int64][]Entry),
		gen:     make(map[int64]uint64),
	}
}

// Entries returns the tenant's grants, loading them on first use.
func (r *Resolver) Entries(ctx context.Context, tenantID int64) ([]Entry, error) {
	r.mu.Lock()
	entries, ok := r.tenants[tenantID]
	gen := r.gen[tenantID]
	r.mu.Unlock()
	if ok {
		return entries, nil
	}

	key := strconv.FormatInt(tenantID, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		entries, err := r.load(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		// an invalidation during the load makes this result stale
		if r.gen[tenantID] == gen {
			r.tenants[tenantID] = entries
		}
		r.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

func (r *Resolver) load(ctx context.Context, tenantID int64) ([]Entry, error) {
	rows, err := r.repo.ListPermissions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load permissions for tenant %d: %w", tenantID, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		settings := command.Settings{}
		if len(row.Settings) > 0 {
			if err := json.Unmarshal(row.Settings, &settings); err != nil {
				logger.WarnCF("permission", "Ignoring malformed permission settings", map[string]any{
					"tenant":     tenantID,
					"permission": row.ID,
					"error":      err,
				})
				settings = command.Settings{}
			}
		}
		entries = append(entries, Entry{
			Group:    row.Group,
			RoleID:   row.RoleID,
			Channels: row.Channels,
			Settings: settings,
		})
	}
	logger.DebugCF("permission", "Loaded permission entries", map[string]any{
		"tenant":  tenantID,
		"entries": len(entries),
	})
	return entries, nil
}

// Invalidate drops the cached grants of a tenant.
func (r *Resolver) Invalidate(tenantID int64) {
	r.mu.Lock()
	delete(r.tenants, tenantID)
	r.gen[tenantID]++
	r.mu.Unlock()
	r.group.Forget(strconv.FormatInt(tenantID, 10))
}

// Match finds the first entry granting group to the message author in the
// message channel.
func (r *Resolver) Match(ctx context.Context, msg *channels.Message, group string) (*Entry, error) {
	entries, err := r.Entries(ctx, msg.TenantID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		e := &entries[i]
		if e.Group == group && e.AllowsChannel(msg.ChannelID) && msg.Author.HasRole(e.RoleID) {
			return e, nil
		}
	}
	return nil, nil
}

func (r *Resolver) Check(ctx context.Context, msg *channels.Message, group *command.Group, _ string) error {
	if msg.AuthorPermissions.Has(channels.PermAdministrator) {
		return nil
	}
	entry, err := r.Match(ctx, msg, group.Name())
	if err != nil {
		return err
	}
	if entry == nil {
		return &command.PermissionDenied{}
	}
	return nil
}

func (r *Resolver) Settings(ctx context.Context, msg *channels.Message, group *command.Group, _ string) (command.Settings, error) {
	if msg.AuthorPermissions.Has(channels.PermAdministrator) {
		return command.Settings{}, nil
	}
	entry, err := r.Match(ctx, msg, group.Name())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return command.Settings{}, nil
	}
	return entry.Settings, nil
}

// Add stores a grant and invalidates the tenant cache.
func (r *Resolver) Add(ctx context.Context, tenantID int64, group string, roleID int64, channelIDs []int64, settings command.Settings) error {
	if settings == nil {
		settings = command.Settings{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode permission settings: %w", err)
	}
	defer r.Invalidate(tenantID)

	id, err := r.repo.InsertPermission(ctx, storage.PermissionRow{
		TenantID: tenantID,
		Group:    group,
		RoleID:   roleID,
		Channels: channelIDs,
		Settings: data,
	})
	if err != nil {
		return fmt.Errorf("add permission: %w", err)
	}
	logger.InfoCF("permission", "Permission added", map[string]any{
		"tenant":     tenantID,
		"permission": id,
		"group":      group,
		"role":       roleID,
		"channels":   channelIDs,
	})
	return nil
}

// Remove deletes the grants of group, limited to roleID unless it is zero.
func (r *Resolver) Remove(ctx context.Context, tenantID int64, group string, roleID int64) (int64, error) {
	defer r.Invalidate(tenantID)

	n, err := r.repo.DeletePermissions(ctx, tenantID, group, roleID)
	if err != nil {
		return 0, fmt.Errorf("remove permission: %w", err)
	}
	logger.InfoCF("permission", "Permissions removed", map[string]any{
		"tenant":  tenantID,
		"group":   group,
		"role":    roleID,
		"removed": n,
	})
	return n, nil
}
