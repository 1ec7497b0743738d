// Package session reacts to users joining, respawning and leaving: it
// schedules onboarding and automatic kits, keeps bookkeeping counters, and
// releases cached records after a grace period.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"uniquekits.dev/internal/cooldown"
	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/records"
	"uniquekits.dev/internal/schedule"
)

type Config struct {
	FirstJoinEnabled bool
	FirstJoinDelay   time.Duration
	WelcomeEnabled   bool
	WelcomeDelay     time.Duration

	AutoJoinEnabled    bool
	AutoJoinDelay      time.Duration
	AutoRespawnEnabled bool
	AutoRespawnDelay   time.Duration

	// Grace keeps a departed user's record cached; 0 evicts on quit.
	Grace time.Duration
}

// Kits lists the definitions that are granted automatically.
type Kits interface {
	FirstJoinKits() []kit.Definition
	AutoJoinKits() []kit.Definition
	AutoRespawnKits() []kit.Definition
}

type Granter interface {
	Grant(ctx context.Context, a host.Actor, kitID string, force bool) grant.Outcome
}

type Deps struct {
	Config    Config
	Kits      Kits
	Grants    Granter
	Cooldowns *cooldown.Store
	Records   *records.Manager
	Queue     *schedule.Queue
	Greeter   host.Greeter
	Logger    *zap.Logger
	Now       func() time.Time
	// OnOutcome, when set, receives the result of every automatic grant.
	OnOutcome func(a host.Actor, out grant.Outcome)
}

type Manager struct {
	d   Deps
	log *zap.Logger
	// base is the context scheduled work runs under.
	base context.Context

	mu       sync.Mutex
	online   map[uuid.UUID]time.Time
	evicting map[uuid.UUID]schedule.Token
}

func New(base context.Context, d Deps) *Manager {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Manager{
		d:        d,
		log:      d.Logger.Named("session"),
		base:     base,
		online:   map[uuid.UUID]time.Time{},
		evicting: map[uuid.UUID]schedule.Token{},
	}
}

// OnJoin starts a session for a.
func (m *Manager) OnJoin(ctx context.Context, a host.Actor) {
	id := a.ID()
	now := m.d.Now()

	m.mu.Lock()
	if tok, ok := m.evicting[id]; ok {
		m.d.Queue.Cancel(tok)
		delete(m.evicting, id)
	}
	m.online[id] = now
	m.mu.Unlock()

	first := false
	m.d.Records.Get(ctx, id).Update(func(d *records.Data) {
		d.LastSeenAt = now.UnixMilli()
		d.LastKnownName = a.Name()
		if d.FirstEncounter && m.d.Config.FirstJoinEnabled {
			first = true
			d.FirstEncounter = false
		}
	})

	if first {
		m.log.Info("first join", zap.String("user", id.String()), zap.String("name", a.Name()))
		if m.d.Config.WelcomeEnabled && m.d.Greeter != nil {
			m.d.Queue.Schedule(id, m.d.Config.WelcomeDelay, func() {
				if err := m.d.Greeter.Welcome(m.base, a); err != nil {
					m.log.Debug("welcome failed", zap.String("user", id.String()), zap.Error(err))
				}
			})
		}
		m.scheduleKits(a, m.d.Kits.FirstJoinKits(), m.d.Config.FirstJoinDelay)
	}
	if m.d.Config.AutoJoinEnabled {
		m.scheduleKits(a, m.d.Kits.AutoJoinKits(), m.d.Config.AutoJoinDelay)
	}
}

// OnRespawn schedules the respawn kits.
func (m *Manager) OnRespawn(_ context.Context, a host.Actor) {
	if !m.d.Config.AutoRespawnEnabled {
		return
	}
	m.scheduleKits(a, m.d.Kits.AutoRespawnKits(), m.d.Config.AutoRespawnDelay)
}

func (m *Manager) scheduleKits(a host.Actor, defs []kit.Definition, delay time.Duration) {
	for _, d := range defs {
		kitID := d.ID
		m.d.Queue.Schedule(a.ID(), delay, func() {
			out := m.d.Grants.Grant(m.base, a, kitID, false)
			if out.OK() {
				m.log.Debug("automatic kit granted", zap.String("user", a.ID().String()), zap.String("kit", kitID))
			} else {
				m.log.Debug("automatic kit skipped",
					zap.String("user", a.ID().String()),
					zap.String("kit", kitID),
					zap.String("reason", string(out.Reason)),
				)
			}
			if m.d.OnOutcome != nil {
				m.d.OnOutcome(a, out)
			}
		})
	}
}

// OnQuit ends the session: pending automatic grants are cancelled, play time
// is added, expired state is swept and the record is flushed. The record is
// evicted now or after the grace period.
func (m *Manager) OnQuit(ctx context.Context, a host.Actor) error {
	id := a.ID()
	m.d.Queue.CancelOwner(id)
	m.endSession(ctx, id)

	if err := m.d.Records.Flush(ctx, id); err != nil {
		return err
	}
	if m.d.Config.Grace <= 0 {
		return m.d.Records.Evict(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicting[id] = m.d.Queue.Schedule(id, m.d.Config.Grace, func() {
		m.mu.Lock()
		delete(m.evicting, id)
		m.mu.Unlock()
		if err := m.d.Records.Evict(m.base, id); err != nil {
			m.log.Warn("evict failed", zap.String("user", id.String()), zap.Error(err))
		}
	})
	return nil
}

func (m *Manager) endSession(ctx context.Context, id uuid.UUID) {
	now := m.d.Now()
	m.mu.Lock()
	joined, ok := m.online[id]
	delete(m.online, id)
	m.mu.Unlock()

	m.d.Records.Get(ctx, id).Update(func(d *records.Data) {
		d.LastSeenAt = now.UnixMilli()
		if ok && now.After(joined) {
			d.AccumulatedActiveMillis += now.Sub(joined).Milliseconds()
		}
	})
	m.d.Cooldowns.Cleanup(ctx, id)
}

// EndAll closes every open session without evicting, for shutdown.
func (m *Manager) EndAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.d.Queue.CancelOwner(id)
		m.endSession(ctx, id)
	}
}

func (m *Manager) Online(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.online[id]
	return ok
}

func (m *Manager) OnlineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.online)
}
