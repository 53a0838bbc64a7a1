// Package clock implements the per-game two-sided Fischer-increment clock
// (C3). Timeouts and ticks are posted as messages to the owning Room's
// inbox rather than invoked as function-pointer callbacks, so the clock
// never holds a reference back into Room state (§9 design note).
package clock

import (
	"sync"
	"time"

	"github.com/banchess/server/internal/protocol"
)

// TimeoutMsg is posted to a Room's inbox when a side's clock reaches zero.
type TimeoutMsg struct {
	Loser protocol.Color
}

// TickMsg is posted periodically with a live snapshot, so the Room can
// broadcast clock-update frames without polling the Clock directly.
type TickMsg struct {
	Clocks protocol.Clocks
}

// Clock is a single game's two-sided clock. Exactly one side runs at a
// time. All timestamps come from time.Now/time.Since, which already read
// the runtime's monotonic clock reading (§4.3).
type Clock struct {
	mu sync.Mutex

	initial   time.Duration
	increment time.Duration

	remaining map[protocol.Color]time.Duration
	running   protocol.Color
	lastTick  time.Time
	isRunning bool

	out chan<- any // Room's inbox; TimeoutMsg/TickMsg posted here

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Clock for a game with the given time control, posting
// TimeoutMsg/TickMsg to out. If tc is unlimited, New still returns a Clock
// but Start is a no-op — callers should check tc.IsUnlimited() themselves
// before wiring one in if they want to skip the background ticker
// entirely.
func New(tc protocol.TimeControl, startColor protocol.Color, out chan<- any) *Clock {
	initial := time.Duration(tc.InitialSec) * time.Second
	increment := time.Duration(tc.IncrementSec) * time.Second
	return &Clock{
		initial:   initial,
		increment: increment,
		remaining: map[protocol.Color]time.Duration{
			protocol.White: initial,
			protocol.Black: initial,
		},
		running: startColor,
		out:     out,
		stopCh:  make(chan struct{}),
	}
}

// Start begins running the clock for the current running color and
// launches the background 2Hz ticker. No-op if the time control is
// unlimited (initial == 0).
func (c *Clock) Start() {
	if c.initial <= 0 {
		return
	}
	c.mu.Lock()
	c.isRunning = true
	c.lastTick = time.Now()
	c.mu.Unlock()

	go c.tickLoop()
}

func (c *Clock) tickLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if timeout, snapshot := c.tick(); timeout != nil {
				c.postTimeout(*timeout)
				return
			} else {
				c.postTick(snapshot)
			}
		}
	}
}

func (c *Clock) postTimeout(loser protocol.Color) {
	defer func() { recover() }() // out may be closed if the Room already shut down
	select {
	case c.out <- TimeoutMsg{Loser: loser}:
	default:
	}
}

func (c *Clock) postTick(snapshot protocol.Clocks) {
	defer func() { recover() }()
	select {
	case c.out <- TickMsg{Clocks: snapshot}:
	default:
	}
}

// tick deducts elapsed time from the running side; if that side has
// crossed zero it returns the losing color and stops, otherwise it
// returns a fresh snapshot.
func (c *Clock) tick() (*protocol.Color, protocol.Clocks) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return nil, c.snapshotLocked()
	}

	now := time.Now()
	elapsed := now.Sub(c.lastTick)
	c.remaining[c.running] -= elapsed
	c.lastTick = now

	if c.remaining[c.running] <= 0 {
		c.remaining[c.running] = 0
		c.isRunning = false
		loser := c.running
		return &loser, c.snapshotLocked()
	}

	return nil, c.snapshotLocked()
}

// Switch debits the side whose clock is running by elapsed time, credits
// that side the increment iff wasMove is true (never on a ban — the pinned
// Open Question answer), then hands the running clock to next.
func (c *Clock) Switch(next protocol.Color, wasMove bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initial <= 0 {
		return
	}

	now := time.Now()
	if c.isRunning {
		elapsed := now.Sub(c.lastTick)
		c.remaining[c.running] -= elapsed
		if wasMove && c.increment > 0 {
			c.remaining[c.running] += c.increment
		}
	}

	c.running = next
	c.lastTick = now
}

// GiveTime credits recipient by amount; it never touches the giver's
// clock (callers — the Room — are responsible for enforcing that the
// giver is the opponent, that the game has a time control, and that the
// amount is in [1s, 300s]).
func (c *Clock) GiveTime(recipient protocol.Color, amount time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initial <= 0 {
		return
	}
	c.remaining[recipient] += amount
}

// Pause stops the clock from running without resetting remaining time.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		c.remaining[c.running] -= time.Since(c.lastTick)
		c.isRunning = false
	}
}

// Resume restarts the clock on whichever color is currently set to run.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initial <= 0 {
		return
	}
	c.isRunning = true
	c.lastTick = time.Now()
}

// Snapshot returns the current live clock state for both sides.
func (c *Clock) Snapshot() protocol.Clocks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Clock) snapshotLocked() protocol.Clocks {
	white := c.remaining[protocol.White]
	black := c.remaining[protocol.Black]
	if c.isRunning {
		elapsed := time.Since(c.lastTick)
		if c.running == protocol.White {
			white -= elapsed
		} else {
			black -= elapsed
		}
	}
	if white < 0 {
		white = 0
	}
	if black < 0 {
		black = 0
	}
	now := time.Now().UnixMilli()
	return protocol.Clocks{
		White: protocol.PlayerClock{RemainingMs: white.Milliseconds(), LastUpdateWallMs: now},
		Black: protocol.PlayerClock{RemainingMs: black.Milliseconds(), LastUpdateWallMs: now},
	}
}

// Destroy stops the background ticker. Idempotent; further calls on a
// destroyed Clock fail silently (the ticker goroutine is simply gone, and
// mutation methods remain safe to call but have no externally-visible
// effect once nothing reads Snapshot/postTimeout again).
func (c *Clock) Destroy() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
