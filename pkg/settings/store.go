// Package settings caches per-tenant JSON documents and persists them with an
// update-then-insert loop that tolerates racing first writes.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tinyland-inc/guildclaw/pkg/logger"
	"github.com/tinyland-inc/guildclaw/pkg/storage"
)

// ErrSaveRetries is returned when a save keeps losing races with other writers.
var ErrSaveRetries = errors.New("settings: save retries exhausted")

const defaultSaveAttempts = 3

type docKey struct {
	app      string
	tenantID int64
}

func (k docKey) String() string {
	return k.app + "/" + strconv.FormatInt(k.tenantID, 10)
}

// Store holds at most one document per (application, tenant) in memory.
type Store struct {
	repo     storage.SettingsRepository
	attempts int

	mu    sync.Mutex
	docs  map[docKey]any
	gens  map[docKey]uint64
	tgens map[int64]uint64
	group singleflight.Group
}

// generation changes whenever a key is invalidated, on its own or with the
// rest of its tenant. A load only caches its result if the generation it
// started under is still current.
type generation struct {
	key, tenant uint64
}

type StoreOption func(*Store)

// WithSaveAttempts bounds the update/insert rounds of a single save.
func WithSaveAttempts(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func NewStore(repo storage.SettingsRepository, opts ...StoreOption) *Store {
	s := &Store{
		repo:     repo,
		attempts: defaultSaveAttempts,
		docs:     make(map[docKey]any),
		gens:     make(map[docKey]uint64),
		tgens:    make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached document for (app, tenantID), loading it on first use.
// Concurrent first calls share one load. loader, when set, normalizes freshly
// decoded data. A key must always be requested with the same T.
func Get[T any](ctx context.Context, s *Store, app string, tenantID int64, loader func(*T) error) (*Document[T], error) {
	key := docKey{app, tenantID}

	doc, ok, gen := s.lookup(key)
	if ok {
		return assertDoc[T](key, doc)
	}

	flight := fmt.Sprintf("%s@%d.%d", key, gen.key, gen.tenant)
	v, err, _ := s.group.Do(flight, func() (any, error) {
		doc, err := load(ctx, s, key, loader)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.docs[key]; ok {
			return cur, nil
		}
		if s.generation(key) == gen {
			s.docs[key] = doc
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return assertDoc[T](key, v)
}

func load[T any](ctx context.Context, s *Store, key docKey, loader func(*T) error) (*Document[T], error) {
	raw, ok, err := s.repo.LoadSettings(ctx, key.app, key.tenantID)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", key, err)
	}

	doc := &Document[T]{key: key, store: s}
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc.data); err != nil {
			return nil, fmt.Errorf("decode settings %s: %w", key, err)
		}
	}
	if loader != nil {
		if err := loader(&doc.data); err != nil {
			return nil, fmt.Errorf("normalize settings %s: %w", key, err)
		}
	}

	logger.DebugCF("settings", "Loaded settings document", map[string]any{
		"app":    key.app,
		"tenant": key.tenantID,
		"stored": ok,
	})
	return doc, nil
}

func assertDoc[T any](key docKey, v any) (*Document[T], error) {
	doc, ok := v.(*Document[T])
	if !ok {
		return nil, fmt.Errorf("settings %s: cached document has type %T", key, v)
	}
	return doc, nil
}

func (s *Store) lookup(key docKey) (any, bool, generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	return doc, ok, s.generation(key)
}

// generation must be called with s.mu held.
func (s *Store) generation(key docKey) generation {
	return generation{key: s.gens[key], tenant: s.tgens[key.tenantID]}
}

// Invalidate drops the cached document so the next Get reloads it. A load
// already in flight is not cached when it completes.
func (s *Store) Invalidate(app string, tenantID int64) {
	key := docKey{app, tenantID}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	s.gens[key]++
}

// InvalidateTenant drops every cached document of the tenant.
func (s *Store) InvalidateTenant(tenantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.docs {
		if key.tenantID == tenantID {
			delete(s.docs, key)
		}
	}
	s.tgens[tenantID]++
}

// Cached reports how many documents are held in memory.
func (s *Store) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// save persists data: update, insert when no row exists, and on an insert
// conflict go round again so the racing row is overwritten.
func (s *Store) save(ctx context.Context, key docKey, data []byte) error {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		updated, err := s.repo.UpdateSettings(ctx, key.app, key.tenantID, data)
		if err != nil {
			return fmt.Errorf("save settings %s: %w", key, err)
		}
		if updated {
			return nil
		}

		err = s.repo.InsertSettings(ctx, key.app, key.tenantID, data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("save settings %s: %w", key, err)
		}
		logger.DebugCF("settings", "Insert raced, retrying update", map[string]any{
			"app":     key.app,
			"tenant":  key.tenantID,
			"attempt": attempt,
		})
	}
	return fmt.Errorf("save settings %s: %w", key, ErrSaveRetries)
}
