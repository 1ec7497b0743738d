// Package host declares the collaborators the kit engine consumes from the
// embedding environment.
package host

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"uniquekits.dev/internal/kit"
)

// ErrInsufficientFunds is returned by Economy.Withdraw when the balance does
// not cover the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Actor is the read-only view of the user a grant is for.
type Actor interface {
	ID() uuid.UUID
	Name() string
	World() string
	HasPermission(perm string) bool
	Level() int
	Experience() int
}

// Economy is an optional balance provider.
type Economy interface {
	Balance(ctx context.Context, user uuid.UUID) (float64, error)
	Withdraw(ctx context.Context, user uuid.UUID, amount float64) error
}

// Sink places reward items. Deliver returns the items that did not fit.
type Sink interface {
	Deliver(ctx context.Context, actor Actor, items []kit.Item) (overflow []kit.Item, err error)
	// Drop leaves items at the actor's current location.
	Drop(ctx context.Context, actor Actor, items []kit.Item) error
}

type EffectApplier interface {
	Apply(ctx context.Context, actor Actor, effects []kit.Effect) error
}

// Dispatcher runs a fully substituted reward command.
type Dispatcher interface {
	Dispatch(ctx context.Context, actor Actor, command string, scope kit.CommandScope) error
}

// Cue plays best-effort feedback such as a sound or particle burst.
type Cue interface {
	Play(ctx context.Context, actor Actor, sound, particle string) error
}

// Greeter shows the onboarding message to a first-time user.
type Greeter interface {
	Welcome(ctx context.Context, actor Actor) error
}

// StaticActor is a plain-value Actor.
type StaticActor struct {
	UserID      uuid.UUID
	UserName    string
	WorldName   string
	Permissions map[string]bool
	Lvl         int
	Exp         int
	// Operator holds every permission.
	Operator bool
}

func (a StaticActor) ID() uuid.UUID   { return a.UserID }
func (a StaticActor) Name() string    { return a.UserName }
func (a StaticActor) World() string   { return a.WorldName }
func (a StaticActor) Level() int      { return a.Lvl }
func (a StaticActor) Experience() int { return a.Exp }

func (a StaticActor) HasPermission(perm string) bool {
	return a.Operator || a.Permissions[perm]
}
