package kit

import (
	"strings"
)

// DefaultIcon is used when a definition names no icon or an unparsable one.
const DefaultIcon = "CHEST"

// CommandScope selects who runs a reward command.
type CommandScope string

const (
	ScopeDefault CommandScope = "DEFAULT"
	ScopeConsole CommandScope = "CONSOLE"
	ScopeActor   CommandScope = "ACTOR"
)

// Command is a reward command template. Template may contain {player}, {uuid}
// and {world} placeholders.
type Command struct {
	Scope    CommandScope
	Template string
}

// Item is an opaque reward item descriptor. The engine only counts and copies
// items; the delivery sink interprets them.
type Item struct {
	Material string         `yaml:"type" json:"type"`
	Amount   int            `yaml:"amount" json:"amount"`
	Meta     map[string]any `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// Effect is a timed effect applied to the actor.
type Effect struct {
	Type          string `yaml:"type" json:"type"`
	DurationTicks int    `yaml:"duration" json:"duration"`
	Amplifier     int    `yaml:"amplifier" json:"amplifier"`
	Ambient       bool   `yaml:"ambient" json:"ambient"`
	Particles     bool   `yaml:"particles" json:"particles"`
	Icon          bool   `yaml:"icon" json:"icon"`
}

// RequirementKind tags a Requirement.
type RequirementKind string

const (
	RequireLevel      RequirementKind = "level"
	RequireExp        RequirementKind = "exp"
	RequireMoney      RequirementKind = "money"
	RequirePermission RequirementKind = "permission"
)

// Requirement is one entry of a kit's requirement mapping. Only the field that
// matches Kind is meaningful. Kinds this build does not know are kept with
// Unknown set so they survive a save; evaluation skips them.
type Requirement struct {
	Kind       RequirementKind
	Min        float64
	Permission string

	Unknown bool
	Raw     string
}

// Known reports whether r has a kind the evaluator understands.
func (r Requirement) Known() bool {
	if r.Unknown {
		return false
	}
	switch r.Kind {
	case RequireLevel, RequireExp, RequireMoney, RequirePermission:
		return true
	}
	return false
}

// Definition is a kit. Definitions held by the registry are never mutated in
// place; edits go through Clone.
type Definition struct {
	ID            string
	DisplayName   string
	Description   string
	Lore          []string
	Icon          string
	IconData      int
	IconModelData string

	Items    []Item
	Commands []Command
	Effects  []Effect

	CooldownMillis int64
	Cost           int64
	Permission     string

	AllowedWorlds []string
	BlockedWorlds []string
	Requirements  []Requirement

	OneTimeUse        bool
	AutoGiveOnJoin    bool
	AutoGiveOnRespawn bool
	FirstJoinKit      bool

	Sound    string
	Particle string
	Priority int
	Enabled  bool
}

// NormalizeID returns the registry key for id.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// New returns a definition with every field at its documented default.
func New(id string) Definition {
	return Definition{
		ID:          NormalizeID(id),
		DisplayName: strings.TrimSpace(id),
		Icon:        DefaultIcon,
		Enabled:     true,
	}
}

// Starter returns the example kit seeded into an empty registry.
func Starter() Definition {
	d := New("starter")
	d.DisplayName = "Starter Kit"
	d.Description = "A basic starter kit for new players"
	d.Lore = []string{
		"This kit contains basic items",
		"to help you get started!",
		"",
		"Cooldown: 30 minutes",
		"Free kit!",
	}
	d.Items = []Item{
		{Material: "STONE_SWORD", Amount: 1},
		{Material: "LEATHER_HELMET", Amount: 1},
		{Material: "LEATHER_CHESTPLATE", Amount: 1},
		{Material: "LEATHER_LEGGINGS", Amount: 1},
		{Material: "LEATHER_BOOTS", Amount: 1},
		{Material: "BREAD", Amount: 16},
		{Material: "OAK_LOG", Amount: 32},
	}
	d.CooldownMillis = 30 * 60 * 1000
	d.FirstJoinKit = true
	d.Sound = "ENTITY_PLAYER_LEVELUP"
	return d
}

// HasCooldown reports whether claiming the kit starts a cooldown.
func (d Definition) HasCooldown() bool { return d.CooldownMillis > 0 }

// ItemCount is the total amount across all reward items.
func (d Definition) ItemCount() int {
	n := 0
	for _, it := range d.Items {
		n += it.Amount
	}
	return n
}

// Clone returns a deep copy of d.
func (d Definition) Clone() Definition {
	out := d
	out.Lore = cloneStrings(d.Lore)
	out.AllowedWorlds = cloneStrings(d.AllowedWorlds)
	out.BlockedWorlds = cloneStrings(d.BlockedWorlds)
	if d.Items != nil {
		out.Items = make([]Item, len(d.Items))
		for i, it := range d.Items {
			out.Items[i] = it.Clone()
		}
	}
	if d.Commands != nil {
		out.Commands = append([]Command(nil), d.Commands...)
	}
	if d.Effects != nil {
		out.Effects = append([]Effect(nil), d.Effects...)
	}
	if d.Requirements != nil {
		out.Requirements = append([]Requirement(nil), d.Requirements...)
	}
	return out
}

// Clone returns a deep copy of it.
func (it Item) Clone() Item {
	out := it
	if it.Meta != nil {
		out.Meta = cloneValue(it.Meta).(map[string]any)
	}
	return out
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// ParseCommand splits a configured command line into scope and template.
func ParseCommand(line string) Command {
	s := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(s, "[CONSOLE]"):
		return Command{Scope: ScopeConsole, Template: strings.TrimSpace(s[len("[CONSOLE]"):])}
	case strings.HasPrefix(s, "[PLAYER]"):
		return Command{Scope: ScopeActor, Template: strings.TrimSpace(s[len("[PLAYER]"):])}
	}
	return Command{Scope: ScopeDefault, Template: s}
}

// String renders c back into its configured form.
func (c Command) String() string {
	switch c.Scope {
	case ScopeConsole:
		return "[CONSOLE] " + c.Template
	case ScopeActor:
		return "[PLAYER] " + c.Template
	}
	return c.Template
}
