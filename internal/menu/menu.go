// Package menu models the kit panels as plain values: a panel renders to a
// view of slots and reacts to slot input. Hosts draw the view however they
// like.
package menu

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"uniquekits.dev/internal/cooldown"
	"uniquekits.dev/internal/eligibility"
	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/reason"
	"uniquekits.dev/internal/registry"
)

// EditPermission is required to open the editor.
const EditPermission = "uniquekits.command.edit"

var ErrNoPermission = errors.New("missing edit permission")

// Layout of a 54 slot panel.
const (
	PageSize = 45

	SlotInfo     = 4
	SlotPrevPage = 45
	SlotClose    = 49
	SlotNextPage = 53

	SlotBack  = 45
	SlotClaim = 49

	SlotSave          = 45
	SlotCancel        = 46
	SlotToggleEnabled = 49
	SlotAddCommand    = 52
)

type Kind int

const (
	KindSelection Kind = iota + 1
	KindPreview
	KindEditor
)

func (k Kind) String() string {
	switch k {
	case KindSelection:
		return "selection"
	case KindPreview:
		return "preview"
	case KindEditor:
		return "editor"
	}
	return "unknown"
}

type Status string

const (
	StatusAvailable  Status = "available"
	StatusOnCooldown Status = "on_cooldown"
	StatusClaimed    Status = "claimed"
	StatusIneligible Status = "ineligible"
)

// Panel is one open panel. Only the fields of its Kind are used.
type Panel struct {
	Kind  Kind
	Actor host.Actor
	Page  int
	KitID string

	draft   kit.Definition
	changed bool
}

func Selection(a host.Actor) *Panel { return &Panel{Kind: KindSelection, Actor: a} }

func Preview(a host.Actor, kitID string) *Panel {
	return &Panel{Kind: KindPreview, Actor: a, KitID: kit.NormalizeID(kitID)}
}

// Changed reports whether an editor panel holds unsaved edits.
func (p *Panel) Changed() bool { return p.changed }

type Slot struct {
	Index  int
	KitID  string
	Icon   string
	Label  string
	Lore   []string
	Status Status
	// RemainingMillis is set for StatusOnCooldown.
	RemainingMillis int64
	Item            *kit.Item
}

type View struct {
	Kind  Kind
	Title string
	Page  int
	Pages int
	Slots []Slot
}

// Slot returns the view slot at index, if any.
func (v View) Slot(index int) (Slot, bool) {
	for _, s := range v.Slots {
		if s.Index == index {
			return s, true
		}
	}
	return Slot{}, false
}

// Input is one interaction with a panel.
type Input struct {
	Slot int
	// Claim selects claiming over previewing in the selection panel.
	Claim bool
	// Items replaces the editor's item area when non-nil.
	Items []kit.Item
	// Text carries the command line for SlotAddCommand.
	Text string
}

// Result tells the host what to show next. A nil Open with Close unset keeps
// the current panel.
type Result struct {
	Open    *Panel
	Close   bool
	Outcome *grant.Outcome
	Saved   *kit.Definition
}

type Kits interface {
	ListAll() []kit.Definition
	Get(id string) (kit.Definition, error)
	Update(ctx context.Context, id string, fn func(d *kit.Definition)) (kit.Definition, error)
}

type Granter interface {
	Grant(ctx context.Context, a host.Actor, kitID string, force bool) grant.Outcome
}

type Menu struct {
	kits      Kits
	eval      *eligibility.Evaluator
	cooldowns *cooldown.Store
	grants    Granter
	log       *zap.Logger
}

func New(kits Kits, eval *eligibility.Evaluator, cd *cooldown.Store, g Granter, log *zap.Logger) *Menu {
	if log == nil {
		log = zap.NewNop()
	}
	return &Menu{kits: kits, eval: eval, cooldowns: cd, grants: g, log: log.Named("menu")}
}

// OpenEditor starts editing a copy of kitID.
func (m *Menu) OpenEditor(a host.Actor, kitID string) (*Panel, error) {
	if !a.HasPermission(EditPermission) && !a.HasPermission("uniquekits.admin") {
		return nil, ErrNoPermission
	}
	d, err := m.kits.Get(kitID)
	if err != nil {
		return nil, err
	}
	return &Panel{Kind: KindEditor, Actor: a, KitID: d.ID, draft: d}, nil
}

func (m *Menu) Render(ctx context.Context, p *Panel) (View, error) {
	switch p.Kind {
	case KindSelection:
		return m.renderSelection(ctx, p), nil
	case KindPreview:
		return m.renderPreview(p)
	case KindEditor:
		return m.renderEditor(p), nil
	}
	return View{}, fmt.Errorf("unknown panel kind %d", p.Kind)
}

func (m *Menu) HandleInput(ctx context.Context, p *Panel, in Input) (Result, error) {
	switch p.Kind {
	case KindSelection:
		return m.selectionInput(ctx, p, in), nil
	case KindPreview:
		return m.previewInput(ctx, p, in), nil
	case KindEditor:
		return m.editorInput(ctx, p, in)
	}
	return Result{}, fmt.Errorf("unknown panel kind %d", p.Kind)
}

// HandleClose is called when the host closes p. Unsaved editor changes are
// discarded; the return value reports whether any were.
func (m *Menu) HandleClose(_ context.Context, p *Panel) bool {
	switch p.Kind {
	case KindEditor:
		if p.changed {
			m.log.Info("editor closed with unsaved changes",
				zap.String("kit", p.KitID), zap.String("user", p.Actor.ID().String()))
			p.changed = false
			return true
		}
	}
	return false
}

// visible lists the kits shown in the selection panel: enabled kits the
// actor holds the permission for, by priority.
func (m *Menu) visible(ctx context.Context, a host.Actor) []kit.Definition {
	var out []kit.Definition
	for _, d := range m.kits.ListAll() {
		switch m.eval.Evaluate(ctx, d, a).Reason {
		case reason.Disabled, reason.PermissionDenied:
			continue
		}
		out = append(out, d)
	}
	registry.SortByPriority(out)
	return out
}

func pages(n int) int {
	if n == 0 {
		return 1
	}
	return (n + PageSize - 1) / PageSize
}

func (m *Menu) status(ctx context.Context, d kit.Definition, a host.Actor) (Status, int64) {
	if !m.eval.Evaluate(ctx, d, a).Eligible {
		return StatusIneligible, 0
	}
	if d.OneTimeUse && m.cooldowns.HasClaimedOnce(ctx, a.ID(), d.ID) {
		return StatusClaimed, 0
	}
	if d.HasCooldown() && !a.HasPermission(cooldown.BypassPermission) {
		if rem := m.cooldowns.RemainingMillis(ctx, a.ID(), d.ID); rem > 0 {
			return StatusOnCooldown, rem
		}
	}
	return StatusAvailable, 0
}
