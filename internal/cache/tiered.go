package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/wavelearn/genflow/pkg/models"
)

// Tiered layers the in-memory tier over the durable tier. Reads check
// memory first and promote durable hits; writes go to memory synchronously
// and to the durable tier best-effort; a durable-write failure is logged,
// not propagated, since memory-tier correctness is sufficient in-session.
type Tiered struct {
	mem     *Memory
	durable Cache
	ttl     time.Duration
}

func NewTiered(durable Cache, ttl time.Duration) *Tiered {
	return &Tiered{mem: NewMemory(), durable: durable, ttl: ttl}
}

// GetResult returns the cached result reference for a target, if any.
func (t *Tiered) GetResult(ctx context.Context, target models.GenerationTarget) (string, bool) {
	key := ResultKey(target)

	if val, ok := t.mem.Get(key); ok {
		return string(val), true
	}

	val, ok, err := t.durable.Get(ctx, key)
	if err != nil {
		slog.Warn("durable cache read failed", "key", key, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}

	t.mem.Set(key, val, t.ttl)
	return string(val), true
}

// SetResult stores the result reference for a target in both tiers.
func (t *Tiered) SetResult(ctx context.Context, target models.GenerationTarget, resultRef string) {
	key := ResultKey(target)
	t.mem.Set(key, []byte(resultRef), t.ttl)

	if err := t.durable.Set(ctx, key, []byte(resultRef), t.ttl); err != nil {
		slog.Warn("durable cache write failed", "key", key, "error", err)
	}
}

// Invalidate clears a target's entry from both tiers, forcing the next
// request to regenerate.
func (t *Tiered) Invalidate(ctx context.Context, target models.GenerationTarget) {
	key := ResultKey(target)
	t.mem.Delete(key)

	if err := t.durable.Delete(ctx, key); err != nil {
		slog.Warn("durable cache delete failed", "key", key, "error", err)
	}
}

func (t *Tiered) Ping(ctx context.Context) error {
	return t.durable.Ping(ctx)
}
