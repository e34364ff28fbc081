package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/domain"
)

// Push returns items with login moved (or added) to the front,
// without duplicates and capped at capacity. items is not modified.
func Push(items []string, login string, capacity int) []string {
	updated := make([]string, 0, len(items)+1)
	updated = append(updated, login)
	for _, item := range items {
		if item != login {
			updated = append(updated, item)
		}
	}
	if capacity > 0 && len(updated) > capacity {
		updated = updated[:capacity]
	}
	return updated
}

// Recent is the most-recent-first list of searched logins, persisted to a
// Store under a fixed key after every mutation.
type Recent struct {
	mu sync.Mutex
	// persistMu orders writes so the store never ends up behind memory.
	persistMu sync.Mutex
	store     Store
	key       string
	capacity  int
	items     []string
	logger    *zap.Logger
}

// RecentConfig configures LoadRecent.
type RecentConfig struct {
	Store    Store
	Key      string // defaults to domain.RecentUsersKey
	Capacity int    // defaults to domain.RecentCapacity
	Logger   *zap.Logger
}

// LoadRecent reads the persisted list. A missing or unparseable value
// yields an empty list; only store failures are returned as errors.
func LoadRecent(ctx context.Context, cfg RecentConfig) (*Recent, error) {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Key == "" {
		cfg.Key = domain.RecentUsersKey
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = domain.RecentCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Recent{
		store:    cfg.Store,
		key:      cfg.Key,
		capacity: cfg.Capacity,
		items:    []string{},
		logger:   cfg.Logger,
	}

	raw, found, err := cfg.Store.Get(ctx, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent searches: %w", err)
	}
	if !found || raw == "" {
		return r, nil
	}

	var stored []string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		r.logger.Warn("ignoring unreadable recent searches", zap.String("key", cfg.Key), zap.Error(err))
		return r, nil
	}

	// Rebuild oldest-first so the stored order survives and limits still apply.
	for i := len(stored) - 1; i >= 0; i-- {
		if login := strings.TrimSpace(stored[i]); login != "" {
			r.items = Push(r.items, login, r.capacity)
		}
	}
	return r, nil
}

// Add moves login to the front and persists the list.
// The in-memory list is updated even when persisting fails.
func (r *Recent) Add(ctx context.Context, login string) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	r.items = Push(r.items, login, r.capacity)
	snapshot := append([]string(nil), r.items...)
	r.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode recent searches: %w", err)
	}
	if err := r.store.Set(ctx, r.key, string(data)); err != nil {
		r.logger.Error("failed to persist recent searches", zap.String("key", r.key), zap.Error(err))
		return fmt.Errorf("failed to persist recent searches: %w", err)
	}
	return nil
}

// Items returns a copy of the list, most recent first.
func (r *Recent) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string{}, r.items...)
}

// Capacity returns the maximum list length.
func (r *Recent) Capacity() int {
	return r.capacity
}
