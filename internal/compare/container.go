package compare

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/angelmondragon/zeroproof-client/pkg/enums"
	pkgerrors "github.com/angelmondragon/zeroproof-client/pkg/errors"
	"github.com/angelmondragon/zeroproof-client/pkg/logger"
	"github.com/angelmondragon/zeroproof-client/pkg/metrics"
	"github.com/google/uuid"
)

// DefaultStorageKey names the client storage slot holding the list.
const DefaultStorageKey = "compare_products"

// Storage is durable client storage: one string per named slot.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Params groups dependencies for the compare container.
type Params struct {
	Storage Storage
	Key     string
	Logger  *logger.Logger
	Metrics *metrics.CompareMetrics
}

// Container is the compare list. After every call it holds at most
// MaxEntries unique ids in insertion order.
type Container struct {
	store   Storage
	key     string
	logg    *logger.Logger
	metrics *metrics.CompareMetrics

	mu      sync.Mutex
	entries []Entry
}

// New builds a container and rehydrates it from storage. Missing or
// malformed data yields an empty list.
func New(ctx context.Context, params Params) (*Container, error) {
	if params.Storage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "compare storage is required")
	}
	key := strings.TrimSpace(params.Key)
	if key == "" {
		key = DefaultStorageKey
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	c := &Container{
		store:   params.Storage,
		key:     key,
		logg:    logg,
		metrics: params.Metrics,
	}
	c.entries = c.load(ctx)
	return c, nil
}

func (c *Container) load(ctx context.Context) []Entry {
	ctx = c.logg.WithField(ctx, "storage_key", c.key)
	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		c.logg.Error(ctx, "reading compare list failed, starting empty", err)
		return nil
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}

	var stored []Entry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "malformed compare list discarded")
		return nil
	}

	entries := make([]Entry, 0, MaxEntries)
	seen := make(map[uuid.UUID]struct{}, len(stored))
	for _, e := range stored {
		if e.ID == uuid.Nil {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		if len(entries) == MaxEntries {
			break
		}
		seen[e.ID] = struct{}{}
		entries = append(entries, e)
	}
	return entries
}

// Add appends e unless its id is already listed or the list is full.
func (c *Container) Add(ctx context.Context, e Entry) AddOutcome {
	if e.ID == uuid.Nil {
		c.metrics.Mutation("add", string(Invalid), c.Len())
		return Invalid
	}
	if e.Currency != "" {
		cur, err := enums.ParseCurrency(e.Currency.String())
		if err != nil {
			c.metrics.Mutation("add", string(Invalid), c.Len())
			return Invalid
		}
		e.Currency = cur
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := Added
	switch {
	case c.indexLocked(e.ID) >= 0:
		outcome = AlreadyPresent
	case len(c.entries) >= MaxEntries:
		outcome = AtCapacity
	default:
		c.entries = append(c.entries, e.clone())
		c.persistLocked(ctx)
	}
	c.metrics.Mutation("add", string(outcome), len(c.entries))
	return outcome
}

// Remove drops the entry with id. It reports whether anything was removed;
// a missing id is not an error.
func (c *Container) Remove(ctx context.Context, id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexLocked(id)
	if idx < 0 {
		c.metrics.Mutation("remove", "missing", len(c.entries))
		return false
	}
	next := make([]Entry, 0, len(c.entries)-1)
	next = append(next, c.entries[:idx]...)
	next = append(next, c.entries[idx+1:]...)
	c.entries = next
	c.persistLocked(ctx)
	c.metrics.Mutation("remove", "removed", len(c.entries))
	return true
}

// Clear empties the list.
func (c *Container) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.persistLocked(ctx)
	c.metrics.Mutation("clear", "cleared", 0)
}

// IsCompared reports whether id is in the list.
func (c *Container) IsCompared(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(id) >= 0
}

// Entries returns a copy of the list in insertion order.
func (c *Container) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.clone()
	}
	return out
}

func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Comparable reports whether enough entries are listed to open the comparison.
func (c *Container) Comparable() bool {
	return c.Len() >= MinToCompare
}

func (c *Container) indexLocked(id uuid.UUID) int {
	for i, e := range c.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the whole list. Failures are logged, never returned.
func (c *Container) persistLocked(ctx context.Context) {
	list := c.entries
	if list == nil {
		list = []Entry{}
	}
	payload, err := json.Marshal(list)
	if err != nil {
		c.logg.Error(ctx, "encoding compare list failed", err)
		return
	}
	if err := c.store.Set(ctx, c.key, string(payload)); err != nil {
		c.logg.Error(c.logg.WithField(ctx, "storage_key", c.key), "persisting compare list failed", err)
	}
}
