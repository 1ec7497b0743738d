package kit

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Issue describes a definition field that could not be used as written. The
// field keeps its default and loading continues with the next field.
type Issue struct {
	Kit   string
	Field string
	Msg   string
}

func (i Issue) Error() string {
	if i.Field == "" {
		return fmt.Sprintf("kit %s: %s", i.Kit, i.Msg)
	}
	return fmt.Sprintf("kit %s: %s: %s", i.Kit, i.Field, i.Msg)
}

var materialPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Default effect parameters, in ticks.
const (
	DefaultEffectDuration = 600
)

// decodeNode builds a definition from one kit mapping node. Fields that fail
// to decode keep their defaults and are reported as issues. Unknown keys are
// left to schema validation.
func decodeNode(id string, node *yaml.Node) (Definition, []Issue) {
	d := New(id)
	d.DisplayName = id
	var issues []Issue
	report := func(field string, format string, args ...any) {
		issues = append(issues, Issue{Kit: d.ID, Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if node == nil || node.Kind != yaml.MappingNode {
		report("", "section is not a mapping")
		return d, issues
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		var err error
		switch key {
		case "name":
			err = val.Decode(&d.DisplayName)
		case "description":
			err = val.Decode(&d.Description)
		case "lore":
			err = val.Decode(&d.Lore)
		case "icon":
			var s string
			if err = val.Decode(&s); err == nil {
				s = strings.ToUpper(strings.TrimSpace(s))
				if materialPattern.MatchString(s) {
					d.Icon = s
				} else {
					report(key, "unknown material %q, using %s", s, DefaultIcon)
				}
			}
		case "icon-data":
			err = val.Decode(&d.IconData)
		case "icon-custom-model-data":
			err = val.Decode(&d.IconModelData)
		case "items":
			d.Items, issues = decodeItems(d.ID, val, issues)
		case "commands":
			var lines []string
			if err = val.Decode(&lines); err == nil {
				d.Commands = make([]Command, 0, len(lines))
				for _, l := range lines {
					if strings.TrimSpace(l) == "" {
						continue
					}
					d.Commands = append(d.Commands, ParseCommand(l))
				}
			}
		case "effects":
			d.Effects, issues = decodeEffects(d.ID, val, issues)
		case "cooldown":
			var ms int64
			if err = val.Decode(&ms); err == nil {
				if ms < 0 {
					report(key, "negative cooldown %d, using 0", ms)
				} else {
					d.CooldownMillis = ms
				}
			}
		case "cost":
			var c int64
			if err = val.Decode(&c); err == nil {
				if c < 0 {
					report(key, "negative cost %d, using 0", c)
				} else {
					d.Cost = c
				}
			}
		case "permission":
			err = val.Decode(&d.Permission)
		case "one-time-use":
			err = val.Decode(&d.OneTimeUse)
		case "auto-give-on-join":
			err = val.Decode(&d.AutoGiveOnJoin)
		case "auto-give-on-respawn":
			err = val.Decode(&d.AutoGiveOnRespawn)
		case "first-join-kit":
			err = val.Decode(&d.FirstJoinKit)
		case "allowed-worlds":
			err = val.Decode(&d.AllowedWorlds)
		case "blocked-worlds":
			err = val.Decode(&d.BlockedWorlds)
		case "requirements":
			d.Requirements, issues = decodeRequirements(d.ID, val, issues)
		case "sound":
			err = val.Decode(&d.Sound)
		case "particle":
			err = val.Decode(&d.Particle)
		case "priority":
			err = val.Decode(&d.Priority)
		case "enabled":
			err = val.Decode(&d.Enabled)
		}
		if err != nil {
			report(key, "%v", yamlErrMsg(err))
			resetField(&d, key)
		}
	}
	return d, issues
}

// resetField restores a field that may have been partially written by a
// failed decode.
func resetField(d *Definition, key string) {
	def := New(d.ID)
	switch key {
	case "name":
		d.DisplayName = d.ID
	case "description":
		d.Description = def.Description
	case "lore":
		d.Lore = nil
	case "icon-data":
		d.IconData = 0
	case "icon-custom-model-data":
		d.IconModelData = ""
	case "commands":
		d.Commands = nil
	case "allowed-worlds":
		d.AllowedWorlds = nil
	case "blocked-worlds":
		d.BlockedWorlds = nil
	case "permission":
		d.Permission = ""
	case "sound":
		d.Sound = ""
	case "particle":
		d.Particle = ""
	case "priority":
		d.Priority = 0
	case "enabled":
		d.Enabled = def.Enabled
	}
}

func decodeItems(id string, val *yaml.Node, issues []Issue) ([]Item, []Issue) {
	if val.Kind != yaml.SequenceNode {
		return nil, append(issues, Issue{Kit: id, Field: "items", Msg: "expected a list"})
	}
	items := make([]Item, 0, len(val.Content))
	for i, n := range val.Content {
		field := fmt.Sprintf("items[%d]", i)
		var it Item
		if err := n.Decode(&it); err != nil {
			issues = append(issues, Issue{Kit: id, Field: field, Msg: yamlErrMsg(err)})
			continue
		}
		it.Material = strings.ToUpper(strings.TrimSpace(it.Material))
		if it.Material == "" {
			issues = append(issues, Issue{Kit: id, Field: field, Msg: "missing item type, dropped"})
			continue
		}
		if it.Amount <= 0 {
			it.Amount = 1
		}
		items = append(items, it)
	}
	return items, issues
}

func decodeEffects(id string, val *yaml.Node, issues []Issue) ([]Effect, []Issue) {
	if val.Kind != yaml.SequenceNode {
		return nil, append(issues, Issue{Kit: id, Field: "effects", Msg: "expected a list"})
	}
	effects := make([]Effect, 0, len(val.Content))
	for i, n := range val.Content {
		field := fmt.Sprintf("effects[%d]", i)
		if n.Kind != yaml.MappingNode {
			issues = append(issues, Issue{Kit: id, Field: field, Msg: "expected a mapping, dropped"})
			continue
		}
		e := Effect{DurationTicks: DefaultEffectDuration, Particles: true, Icon: true}
		for j := 0; j+1 < len(n.Content); j += 2 {
			key, v := n.Content[j].Value, n.Content[j+1]
			var err error
			switch key {
			case "type":
				err = v.Decode(&e.Type)
			case "duration":
				if err = v.Decode(&e.DurationTicks); err != nil {
					e.DurationTicks = DefaultEffectDuration
				}
			case "amplifier":
				if err = v.Decode(&e.Amplifier); err != nil {
					e.Amplifier = 0
				}
			case "ambient":
				err = v.Decode(&e.Ambient)
			case "particles":
				err = v.Decode(&e.Particles)
			case "icon":
				err = v.Decode(&e.Icon)
			}
			if err != nil {
				issues = append(issues, Issue{Kit: id, Field: field + "." + key, Msg: yamlErrMsg(err)})
			}
		}
		e.Type = strings.ToUpper(strings.TrimSpace(e.Type))
		if e.Type == "" {
			issues = append(issues, Issue{Kit: id, Field: field, Msg: "missing effect type, dropped"})
			continue
		}
		effects = append(effects, e)
	}
	return effects, issues
}

func decodeRequirements(id string, val *yaml.Node, issues []Issue) ([]Requirement, []Issue) {
	if val.Kind != yaml.MappingNode {
		return nil, append(issues, Issue{Kit: id, Field: "requirements", Msg: "expected a mapping"})
	}
	reqs := make([]Requirement, 0, len(val.Content)/2)
	for i := 0; i+1 < len(val.Content); i += 2 {
		key := strings.ToLower(strings.TrimSpace(val.Content[i].Value))
		v := val.Content[i+1]
		field := "requirements." + key

		switch RequirementKind(key) {
		case RequireLevel, RequireExp, RequireMoney:
			var f float64
			if err := v.Decode(&f); err != nil {
				issues = append(issues, Issue{Kit: id, Field: field, Msg: "not a number, requirement dropped"})
				continue
			}
			if f < 0 {
				f = 0
			}
			reqs = append(reqs, Requirement{Kind: RequirementKind(key), Min: f})
		case RequirePermission:
			var p string
			if err := v.Decode(&p); err != nil || strings.TrimSpace(p) == "" {
				issues = append(issues, Issue{Kit: id, Field: field, Msg: "empty permission, requirement dropped"})
				continue
			}
			reqs = append(reqs, Requirement{Kind: RequirePermission, Permission: strings.TrimSpace(p)})
		default:
			issues = append(issues, Issue{Kit: id, Field: field, Msg: "unknown requirement kind kept but not evaluated"})
			reqs = append(reqs, Requirement{Kind: RequirementKind(key), Unknown: true, Raw: v.Value})
		}
	}
	return reqs, issues
}

func yamlErrMsg(err error) string {
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		return strings.Join(te.Errors, "; ")
	}
	return err.Error()
}

// requirementNode renders requirements as an ordered mapping.
func requirementNode(reqs []Requirement) *yaml.Node {
	if len(reqs) == 0 {
		return nil
	}
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, r := range reqs {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(r.Kind)}
		var val *yaml.Node
		switch {
		case r.Unknown:
			val = &yaml.Node{Kind: yaml.ScalarNode, Value: r.Raw}
		case r.Kind == RequirePermission:
			val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: r.Permission}
		case r.Kind == RequireMoney:
			val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(r.Min, 'f', -1, 64)}
		default:
			val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(r.Min), 10)}
		}
		n.Content = append(n.Content, key, val)
	}
	return n
}
