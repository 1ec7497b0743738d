// Package grant runs the claim sequence for a kit: checks first, then the
// cost withdrawal, item delivery, effects, commands, cue and commit. Steps
// after the withdrawal are not rolled back on failure.
package grant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"uniquekits.dev/internal/cooldown"
	"uniquekits.dev/internal/eligibility"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/persistence/records"
	"uniquekits.dev/internal/reason"
)

// StashKey is the record extension entry holding overflow items.
const StashKey = "overflow_stash"

type OverflowPolicy string

const (
	OverflowStash OverflowPolicy = "stash"
	OverflowDrop  OverflowPolicy = "drop"
)

// Kits is the lookup side of the registry.
type Kits interface {
	Get(id string) (kit.Definition, error)
}

// Deps wires an Engine. Kits, Evaluator, Cooldowns, Records and Sink are
// required; the rest are optional.
type Deps struct {
	Kits       Kits
	Evaluator  *eligibility.Evaluator
	Cooldowns  *cooldown.Store
	Records    *records.Manager
	Sink       host.Sink
	Economy    host.Economy
	Effects    host.EffectApplier
	Dispatcher host.Dispatcher
	Cue        host.Cue
	Recorders  []Recorder
	Logger     *zap.Logger

	Overflow      OverflowPolicy
	FlushOnCommit bool
	Now           func() time.Time
}

type Engine struct {
	d     Deps
	log   *zap.Logger
	locks userLocks
}

func New(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Overflow == "" {
		d.Overflow = OverflowStash
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{d: d, log: d.Logger.Named("grant")}
}

// AddRecorder registers r for subsequent grants. Not safe to call while
// grants are running.
func (e *Engine) AddRecorder(r Recorder) {
	e.d.Recorders = append(e.d.Recorders, r)
}

// Grant claims kitID for a. With force set, eligibility, cooldown, one-time
// and cost checks are skipped and nothing is committed to the user's record.
// Grants for the same user are serialized.
func (e *Engine) Grant(ctx context.Context, a host.Actor, kitID string, force bool) Outcome {
	unlock := e.locks.lock(a.ID())
	defer unlock()

	def, err := e.d.Kits.Get(kitID)
	if err != nil {
		out := Outcome{Status: Rejected, Reason: reason.NotFound, KitID: kit.NormalizeID(kitID)}
		e.emit(a, def, out, force)
		return out
	}
	out := e.run(ctx, a, def, force)
	e.emit(a, def, out, force)
	return out
}

func (e *Engine) run(ctx context.Context, a host.Actor, def kit.Definition, force bool) Outcome {
	out := Outcome{KitID: def.ID, DisplayName: def.DisplayName, State: StateStart}
	reject := func(c reason.Code) Outcome {
		out.Status = Rejected
		out.Reason = c
		return out
	}
	user := a.ID()

	if !force {
		if res := e.d.Evaluator.Evaluate(ctx, def, a); !res.Eligible {
			return reject(res.Reason)
		}
		out.State = StateEligibilityChecked

		// A claimed one-time kit reports AlreadyClaimed even while its
		// cooldown is still running.
		claimed := def.OneTimeUse && e.d.Cooldowns.HasClaimedOnce(ctx, user, def.ID)
		if !claimed && def.HasCooldown() && !a.HasPermission(cooldown.BypassPermission) {
			if rem := e.d.Cooldowns.RemainingMillis(ctx, user, def.ID); rem > 0 {
				out.RemainingMillis = rem
				return reject(reason.OnCooldown)
			}
		}
		out.State = StateCooldownChecked

		if claimed {
			return reject(reason.AlreadyClaimed)
		}
		out.State = StateOneTimeChecked

		if def.Cost > 0 {
			if code := e.withdraw(ctx, user, def); code != "" {
				return reject(code)
			}
		}
		out.State = StateCostReserved
	}

	overflow, err := e.d.Sink.Deliver(ctx, a, kit.CloneItems(def.Items))
	if err != nil {
		e.log.Warn("item delivery failed", zap.String("kit", def.ID), zap.String("user", user.String()), zap.Error(err))
		return reject(reason.DeliveryFailed)
	}
	if len(overflow) > 0 {
		e.routeOverflow(ctx, a, def, overflow)
		out.Overflow = overflow
		out.Reason = reason.DeliveryOverflow
	}
	out.State = StateItemsGranted

	if len(def.Effects) > 0 && e.d.Effects != nil {
		if err := e.d.Effects.Apply(ctx, a, def.Effects); err != nil {
			e.log.Warn("effects failed", zap.String("kit", def.ID), zap.String("user", user.String()), zap.Error(err))
			return reject(reason.EffectFailed)
		}
	}
	out.State = StateEffectsApplied

	if len(def.Commands) > 0 {
		if code := e.dispatch(ctx, a, def); code != "" {
			return reject(code)
		}
	}
	out.State = StateCommandsExecuted

	if e.d.Cue != nil && (def.Sound != "" || def.Particle != "") {
		if err := e.d.Cue.Play(ctx, a, def.Sound, def.Particle); err != nil {
			e.log.Debug("cue failed", zap.String("kit", def.ID), zap.Error(err))
		}
	}

	if !force {
		e.d.Cooldowns.Commit(ctx, user, def.ID, def.CooldownMillis, def.OneTimeUse)
		if e.d.FlushOnCommit {
			if err := e.d.Records.Flush(ctx, user); err != nil {
				e.log.Debug("flush after commit failed", zap.String("kit", def.ID), zap.String("user", user.String()), zap.Error(err))
			}
		}
	}
	out.State = StateCommitted

	out.Status = Success
	out.State = StateDone
	return out
}

func (e *Engine) withdraw(ctx context.Context, user uuid.UUID, def kit.Definition) reason.Code {
	if e.d.Economy == nil {
		return reason.InsufficientFunds
	}
	err := e.d.Economy.Withdraw(ctx, user, float64(def.Cost))
	if err == nil {
		return ""
	}
	if !errors.Is(err, host.ErrInsufficientFunds) {
		e.log.Warn("withdraw failed", zap.String("kit", def.ID), zap.String("user", user.String()), zap.Error(err))
	}
	return reason.InsufficientFunds
}

func (e *Engine) dispatch(ctx context.Context, a host.Actor, def kit.Definition) reason.Code {
	if e.d.Dispatcher == nil {
		e.log.Warn("kit has commands but no dispatcher is configured", zap.String("kit", def.ID))
		return reason.CommandFailed
	}
	r := placeholders(a, def)
	for _, c := range def.Commands {
		line := r.Replace(c.Template)
		if err := e.d.Dispatcher.Dispatch(ctx, a, line, c.Scope); err != nil {
			e.log.Warn("command failed",
				zap.String("kit", def.ID),
				zap.String("command", line),
				zap.String("scope", string(c.Scope)),
				zap.Error(err),
			)
			return reason.CommandFailed
		}
	}
	return ""
}

func placeholders(a host.Actor, def kit.Definition) *strings.Replacer {
	return strings.NewReplacer(
		"{player}", a.Name(),
		"{uuid}", a.ID().String(),
		"{world}", a.World(),
		"{kit}", def.ID,
	)
}

func (e *Engine) routeOverflow(ctx context.Context, a host.Actor, def kit.Definition, overflow []kit.Item) {
	if e.d.Overflow == OverflowDrop {
		if err := e.d.Sink.Drop(ctx, a, overflow); err != nil {
			e.log.Warn("dropping overflow failed", zap.String("kit", def.ID), zap.String("user", a.ID().String()), zap.Error(err))
		}
		return
	}
	rec := e.d.Records.Get(ctx, a.ID())
	rec.Update(func(d *records.Data) {
		items := append(readStash(d), kit.CloneItems(overflow)...)
		if err := writeStash(d, items); err != nil {
			e.log.Error("stash overflow failed", zap.String("kit", def.ID), zap.Error(err))
		}
	})
}

func readStash(d *records.Data) []kit.Item {
	raw, ok := d.Extension[StashKey]
	if !ok {
		return nil
	}
	var items []kit.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func writeStash(d *records.Data, items []kit.Item) error {
	if len(items) == 0 {
		delete(d.Extension, StashKey)
		return nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if d.Extension == nil {
		d.Extension = map[string]json.RawMessage{}
	}
	d.Extension[StashKey] = b
	return nil
}

// Stashed returns the items waiting in user's overflow stash.
func (e *Engine) Stashed(ctx context.Context, user uuid.UUID) []kit.Item {
	var items []kit.Item
	e.d.Records.Get(ctx, user).View(func(d *records.Data) { items = readStash(d) })
	return items
}

// ClaimStash re-delivers stashed overflow. Items that still do not fit stay
// stashed. It returns the number of item stacks delivered.
func (e *Engine) ClaimStash(ctx context.Context, a host.Actor) (int, error) {
	unlock := e.locks.lock(a.ID())
	defer unlock()

	items := e.Stashed(ctx, a.ID())
	if len(items) == 0 {
		return 0, nil
	}
	left, err := e.d.Sink.Deliver(ctx, a, items)
	if err != nil {
		return 0, err
	}
	var werr error
	e.d.Records.Get(ctx, a.ID()).Update(func(d *records.Data) { werr = writeStash(d, left) })
	if werr != nil {
		return 0, werr
	}
	return len(items) - len(left), nil
}

func (e *Engine) emit(a host.Actor, def kit.Definition, out Outcome, force bool) {
	if len(e.d.Recorders) == 0 {
		return
	}
	ev := Event{
		At:       e.d.Now().UTC(),
		User:     a.ID(),
		UserName: a.Name(),
		World:    a.World(),
		KitID:    out.KitID,
		Status:   out.Status,
		Reason:   out.Reason,
		State:    out.State.String(),
		Forced:   force,
		Overflow: len(out.Overflow),
	}
	if out.OK() {
		ev.Items = def.ItemCount()
		if !force {
			ev.Cost = def.Cost
		}
	}
	for _, r := range e.d.Recorders {
		r.RecordGrant(ev)
	}
}
