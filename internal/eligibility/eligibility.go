// Package eligibility decides whether an actor may claim a kit at all,
// independent of cooldowns.
package eligibility

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/reason"
)

const (
	BypassPermission = "uniquekits.bypass.permission"
	BypassWorld      = "uniquekits.bypass.world"
)

type Result struct {
	Eligible bool
	Reason   reason.Code
	// Requirement is the failing requirement when Reason is RequirementUnmet.
	Requirement *kit.Requirement
}

func pass() Result { return Result{Eligible: true} }

func fail(c reason.Code) Result { return Result{Reason: c} }

type Evaluator struct {
	economy host.Economy
	log     *zap.Logger
}

// New builds an evaluator. economy may be nil, in which case money
// requirements never pass.
func New(economy host.Economy, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{economy: economy, log: log}
}

// Evaluate runs the checks in a fixed order and stops at the first failure:
// enabled, permission, world scope, then requirements in definition order.
func (e *Evaluator) Evaluate(ctx context.Context, d kit.Definition, a host.Actor) Result {
	if !d.Enabled {
		return fail(reason.Disabled)
	}
	if d.Permission != "" && !a.HasPermission(d.Permission) && !a.HasPermission(BypassPermission) {
		return fail(reason.PermissionDenied)
	}
	if !e.worldAllowed(d, a) {
		return fail(reason.WorldRestricted)
	}
	for i := range d.Requirements {
		r := d.Requirements[i]
		if !r.Known() {
			continue
		}
		if !e.requirementMet(ctx, r, a) {
			res := fail(reason.RequirementUnmet)
			res.Requirement = &r
			return res
		}
	}
	return pass()
}

func (e *Evaluator) worldAllowed(d kit.Definition, a host.Actor) bool {
	if len(d.AllowedWorlds) == 0 && len(d.BlockedWorlds) == 0 {
		return true
	}
	if a.HasPermission(BypassWorld) {
		return true
	}
	w := a.World()
	if len(d.AllowedWorlds) > 0 && !slices.Contains(d.AllowedWorlds, w) {
		return false
	}
	return !slices.Contains(d.BlockedWorlds, w)
}

func (e *Evaluator) requirementMet(ctx context.Context, r kit.Requirement, a host.Actor) bool {
	switch r.Kind {
	case kit.RequireLevel:
		return float64(a.Level()) >= r.Min
	case kit.RequireExp:
		return float64(a.Experience()) >= r.Min
	case kit.RequirePermission:
		return a.HasPermission(r.Permission)
	case kit.RequireMoney:
		if e.economy == nil {
			return false
		}
		bal, err := e.economy.Balance(ctx, a.ID())
		if err != nil {
			e.log.Warn("balance lookup failed", zap.String("user", a.ID().String()), zap.Error(err))
			return false
		}
		return bal >= r.Min
	}
	return true
}
