// Package dispatch contains the engine that drains campaigns, automations,
// and enrollment steps through the per-tenant throttle gate.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calliopehq/calliope/utils"
	"github.com/redis/go-redis/v9"
)

// Admission is the outcome of a throttle check for one tenant window
type Admission struct {
	Allowed     bool
	Used        int
	Limit       int
	WindowStart time.Time
	ResetsAt    time.Time
}

// Remaining returns the unspent budget in the current window.
func (a Admission) Remaining() int {
	n := a.Limit - a.Used
	if n < 0 {
		return 0
	}
	return n
}

// ThrottleGate admits or rejects sends against a tenant's per-minute budget.
// The window is the fixed calendar minute, so a counter never needs sliding
// bookkeeping and resets atomically at each minute boundary.
type ThrottleGate interface {
	// TryAcquire consumes one unit of budget if any remains.
	TryAcquire(ctx context.Context, tenantID uint, limit int, now time.Time) (Admission, error)
	// Status reports the window state without consuming budget.
	Status(ctx context.Context, tenantID uint, limit int, now time.Time) (Admission, error)
}

// RedisThrottleGate implements ThrottleGate on a shared Redis counter so the
// budget holds across multiple engine instances.
type RedisThrottleGate struct {
	client *redis.Client
}

// acquireScript increments the window counter only while it is below the
// limit. Returns the counter value after the call and 1/0 for admitted.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {current, 0}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return {current, 1}
`)

// NewRedisThrottleGate creates a new Redis-backed throttle gate
func NewRedisThrottleGate(client *redis.Client) ThrottleGate {
	return &RedisThrottleGate{client: client}
}

func throttleKey(tenantID uint, window time.Time) string {
	return fmt.Sprintf("dispatch:throttle:%d:%d", tenantID, window.Unix())
}

// TryAcquire consumes one unit of the tenant's budget for the current minute
func (g *RedisThrottleGate) TryAcquire(ctx context.Context, tenantID uint, limit int, now time.Time) (Admission, error) {
	window := utils.MinuteBucket(now)
	adm := Admission{Limit: limit, WindowStart: window, ResetsAt: utils.NextMinute(now)}

	if limit <= 0 {
		return adm, nil
	}

	// Keys live two windows so late readers still see the closed minute.
	res, err := acquireScript.Run(ctx, g.client, []string{throttleKey(tenantID, window)}, limit, 120).Int64Slice()
	if err != nil {
		return adm, fmt.Errorf("throttle acquire failed for tenant %d: %w", tenantID, err)
	}
	if len(res) != 2 {
		return adm, fmt.Errorf("throttle acquire returned unexpected result for tenant %d", tenantID)
	}

	adm.Used = int(res[0])
	adm.Allowed = res[1] == 1
	return adm, nil
}

// Status reports the tenant's window state without consuming budget
func (g *RedisThrottleGate) Status(ctx context.Context, tenantID uint, limit int, now time.Time) (Admission, error) {
	window := utils.MinuteBucket(now)
	adm := Admission{Limit: limit, WindowStart: window, ResetsAt: utils.NextMinute(now)}

	used, err := g.client.Get(ctx, throttleKey(tenantID, window)).Int()
	if err != nil && err != redis.Nil {
		return adm, fmt.Errorf("throttle status failed for tenant %d: %w", tenantID, err)
	}

	adm.Used = used
	adm.Allowed = limit > 0 && used < limit
	return adm, nil
}

// MemoryThrottleGate implements ThrottleGate in process memory. Suitable for
// single-instance deployments and tests; budgets are not shared across
// processes.
type MemoryThrottleGate struct {
	mu       sync.Mutex
	counters map[uint]map[int64]int
}

// NewMemoryThrottleGate creates a new in-memory throttle gate
func NewMemoryThrottleGate() *MemoryThrottleGate {
	return &MemoryThrottleGate{counters: make(map[uint]map[int64]int)}
}

// TryAcquire consumes one unit of the tenant's budget for the current minute
func (g *MemoryThrottleGate) TryAcquire(ctx context.Context, tenantID uint, limit int, now time.Time) (Admission, error) {
	window := utils.MinuteBucket(now)
	adm := Admission{Limit: limit, WindowStart: window, ResetsAt: utils.NextMinute(now)}

	if limit <= 0 {
		return adm, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	windows := g.counters[tenantID]
	if windows == nil {
		windows = make(map[int64]int)
		g.counters[tenantID] = windows
	}
	// Drop windows older than the previous minute.
	for w := range windows {
		if w < window.Unix()-60 {
			delete(windows, w)
		}
	}

	used := windows[window.Unix()]
	if used >= limit {
		adm.Used = used
		return adm, nil
	}

	windows[window.Unix()] = used + 1
	adm.Used = used + 1
	adm.Allowed = true
	return adm, nil
}

// Status reports the tenant's window state without consuming budget
func (g *MemoryThrottleGate) Status(ctx context.Context, tenantID uint, limit int, now time.Time) (Admission, error) {
	window := utils.MinuteBucket(now)
	adm := Admission{Limit: limit, WindowStart: window, ResetsAt: utils.NextMinute(now)}

	g.mu.Lock()
	defer g.mu.Unlock()

	if windows := g.counters[tenantID]; windows != nil {
		adm.Used = windows[window.Unix()]
	}
	adm.Allowed = limit > 0 && adm.Used < limit
	return adm, nil
}
